// Package catalog resolves unit prices for billable items from the service
// catalog. Resolution is a total fallback chain: explicit catalog match,
// generic fallback entry, static default table, last-resort constant. The
// chain never fails to produce a price.
package catalog

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/klinika/opd/pkg/apperr"
)

// Store looks prices up in the persisted service catalog.
type Store interface {
	// FindPrice returns the unit price for an active catalog entry matched
	// by category and code or name. NotFound when no entry matches.
	FindPrice(ctx context.Context, category, codeOrName string) (float64, error)
	// FindFallback returns the price of the category's generic fallback
	// entry. NotFound when the category has none.
	FindFallback(ctx context.Context, category string) (float64, error)
}

// Known item categories.
const (
	CategoryConsultation = "consultation"
	CategoryPharmacy     = "pharmacy"
	CategoryLab          = "lab"
)

// Resolver walks the price fallback chain.
type Resolver struct {
	store      Store
	defaults   map[string]float64
	lastResort float64
	logger     zerolog.Logger
}

func NewResolver(store Store, defaults map[string]float64, lastResort float64, logger zerolog.Logger) *Resolver {
	if defaults == nil {
		defaults = map[string]float64{}
	}
	return &Resolver{store: store, defaults: defaults, lastResort: lastResort, logger: logger}
}

// Resolve returns a unit price for the category and code or name. It is
// total: catalog errors and misses degrade through the chain down to the
// last-resort constant.
func (r *Resolver) Resolve(ctx context.Context, category, codeOrName string) float64 {
	category = strings.ToLower(strings.TrimSpace(category))
	codeOrName = strings.TrimSpace(codeOrName)

	if codeOrName != "" {
		price, err := r.store.FindPrice(ctx, category, codeOrName)
		if err == nil {
			return price
		}
		if !apperr.Is(err, apperr.NotFound) {
			r.logger.Warn().Err(err).Str("category", category).Str("item", codeOrName).Msg("catalog lookup failed, falling back")
		}
	}

	price, err := r.store.FindFallback(ctx, category)
	if err == nil {
		return price
	}
	if !apperr.Is(err, apperr.NotFound) {
		r.logger.Warn().Err(err).Str("category", category).Msg("catalog fallback lookup failed")
	}

	if price, ok := r.defaults[category]; ok {
		return price
	}

	return r.lastResort
}
