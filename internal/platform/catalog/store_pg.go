package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/pkg/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *storePG) FindPrice(ctx context.Context, category, codeOrName string) (float64, error) {
	var price float64
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT unit_price FROM service_catalog
		WHERE category = $1 AND active AND NOT is_fallback
		  AND (code = $2 OR LOWER(name) = LOWER($2))
		ORDER BY code = $2 DESC
		LIMIT 1`, category, codeOrName).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.E(apperr.NotFound, "no catalog entry for %s %q", category, codeOrName)
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (s *storePG) FindFallback(ctx context.Context, category string) (float64, error) {
	var price float64
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT unit_price FROM service_catalog
		WHERE category = $1 AND active AND is_fallback
		LIMIT 1`, category).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.E(apperr.NotFound, "no fallback catalog entry for %s", category)
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}
