package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/klinika/opd/pkg/apperr"
)

type mockStore struct {
	prices    map[string]float64 // keyed "category/codeOrName"
	fallbacks map[string]float64
	err       error
}

func (m *mockStore) FindPrice(_ context.Context, category, codeOrName string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if p, ok := m.prices[category+"/"+codeOrName]; ok {
		return p, nil
	}
	return 0, apperr.E(apperr.NotFound, "no catalog entry for %s %q", category, codeOrName)
}

func (m *mockStore) FindFallback(_ context.Context, category string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if p, ok := m.fallbacks[category]; ok {
		return p, nil
	}
	return 0, apperr.E(apperr.NotFound, "no fallback catalog entry for %s", category)
}

func TestResolver_CatalogMatch(t *testing.T) {
	store := &mockStore{
		prices:    map[string]float64{"pharmacy/paracetamol": 2500},
		fallbacks: map[string]float64{"pharmacy": 5000},
	}
	r := NewResolver(store, map[string]float64{"pharmacy": 4000}, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "pharmacy", "paracetamol")
	if got != 2500 {
		t.Errorf("expected catalog price 2500, got %v", got)
	}
}

func TestResolver_FallbackEntry(t *testing.T) {
	store := &mockStore{
		fallbacks: map[string]float64{"pharmacy": 5000},
	}
	r := NewResolver(store, map[string]float64{"pharmacy": 4000}, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "pharmacy", "unknown-drug")
	if got != 5000 {
		t.Errorf("expected fallback entry price 5000, got %v", got)
	}
}

func TestResolver_StaticDefault(t *testing.T) {
	store := &mockStore{}
	r := NewResolver(store, map[string]float64{"consultation": 60000}, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "consultation", "general")
	if got != 60000 {
		t.Errorf("expected static default 60000, got %v", got)
	}
}

func TestResolver_LastResortConstant(t *testing.T) {
	store := &mockStore{}
	r := NewResolver(store, nil, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "lab", "cbc")
	if got != 1000 {
		t.Errorf("expected last-resort 1000, got %v", got)
	}
}

func TestResolver_TotalOnStoreError(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	r := NewResolver(store, map[string]float64{"pharmacy": 4000}, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "pharmacy", "paracetamol")
	if got != 4000 {
		t.Errorf("expected degraded default 4000, got %v", got)
	}
}

func TestResolver_NormalizesCategory(t *testing.T) {
	store := &mockStore{
		prices: map[string]float64{"pharmacy/paracetamol": 2500},
	}
	r := NewResolver(store, nil, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "  Pharmacy ", " paracetamol ")
	if got != 2500 {
		t.Errorf("expected normalized lookup to hit, got %v", got)
	}
}

func TestResolver_EmptyNameSkipsCatalogMatch(t *testing.T) {
	store := &mockStore{
		fallbacks: map[string]float64{"consultation": 55000},
	}
	r := NewResolver(store, nil, 1000, zerolog.Nop())

	got := r.Resolve(context.Background(), "consultation", "")
	if got != 55000 {
		t.Errorf("expected fallback entry 55000, got %v", got)
	}
}
