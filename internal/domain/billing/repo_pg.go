package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
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

// -- Accounts --

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const accountCols = `id, encounter_id, status, total_amount, discount_amount,
	net_amount, amount_paid, balance, deleted, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.EncounterID, &a.Status, &a.TotalAmount, &a.DiscountAmount,
		&a.NetAmount, &a.AmountPaid, &a.Balance, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *accountRepoPG) Ensure(ctx context.Context, encounterID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_accounts (id, encounter_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (encounter_id) WHERE NOT deleted DO NOTHING`,
		uuid.New(), encounterID, AccountOpen)
	return err
}

func (r *accountRepoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Account, error) {
	a, err := scanAccount(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM billing_accounts
		 WHERE encounter_id = $1 AND NOT deleted
		 ORDER BY updated_at DESC LIMIT 1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "no billing account for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *accountRepoPG) GetByEncounterForUpdate(ctx context.Context, encounterID uuid.UUID) (*Account, error) {
	a, err := scanAccount(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM billing_accounts
		 WHERE encounter_id = $1 AND NOT deleted
		 ORDER BY updated_at DESC LIMIT 1
		 FOR UPDATE`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "no billing account for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *accountRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Account, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM billing_accounts
		 WHERE encounter_id = $1 AND NOT deleted
		 ORDER BY updated_at DESC
		 FOR UPDATE`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *accountRepoPG) UpdateTotals(ctx context.Context, a *Account) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_accounts
		SET status=$2, total_amount=$3, discount_amount=$4, net_amount=$5,
			amount_paid=$6, balance=$7, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.TotalAmount, a.DiscountAmount, a.NetAmount,
		a.AmountPaid, a.Balance)
	return err
}

func (r *accountRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE billing_accounts SET deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *accountRepoPG) DuplicateEncounters(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT encounter_id FROM billing_accounts
		WHERE NOT deleted
		GROUP BY encounter_id
		HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

func (r *accountRepoPG) MismatchedEncounters(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.encounter_id
		FROM billing_accounts a
		LEFT JOIN (
			SELECT encounter_id, COALESCE(SUM(amount), 0) AS item_total
			FROM billing_items
			WHERE status <> 'cancelled'
			GROUP BY encounter_id
		) i ON i.encounter_id = a.encounter_id
		WHERE NOT a.deleted
		  AND a.total_amount <> COALESCE(i.item_total, 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

func scanUUIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// -- Items --

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const itemCols = `id, encounter_id, item_type, description, quantity, unit_price,
	amount, discount, net_amount, status, reference_type, reference_id, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.EncounterID, &it.ItemType, &it.Description, &it.Quantity,
		&it.UnitPrice, &it.Amount, &it.Discount, &it.NetAmount, &it.Status,
		&it.ReferenceType, &it.ReferenceID, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *itemRepoPG) Upsert(ctx context.Context, item *Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	got, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_items (id, encounter_id, item_type, description, quantity,
			unit_price, amount, discount, net_amount, status, reference_type, reference_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (encounter_id, reference_type, reference_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			amount = EXCLUDED.amount,
			discount = EXCLUDED.discount,
			net_amount = EXCLUDED.net_amount,
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING `+itemCols,
		item.ID, item.EncounterID, item.ItemType, item.Description, item.Quantity,
		item.UnitPrice, item.Amount, item.Discount, item.NetAmount, item.Status,
		item.ReferenceType, item.ReferenceID))
	if err != nil {
		return err
	}
	*item = *got
	return nil
}

func (r *itemRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM billing_items WHERE encounter_id = $1 ORDER BY created_at ASC`,
		encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) CollapseDuplicates(ctx context.Context, encounterID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM billing_items
		WHERE encounter_id = $1 AND id NOT IN (
			SELECT DISTINCT ON (reference_type, reference_id) id
			FROM billing_items
			WHERE encounter_id = $1
			ORDER BY reference_type, reference_id, created_at DESC
		)`, encounterID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
