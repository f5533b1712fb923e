package invoice

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

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invoiceCols = `id, encounter_id, invoice_number, total_amount, paid_amount,
	balance, status, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.EncounterID, &inv.InvoiceNumber, &inv.TotalAmount,
		&inv.PaidAmount, &inv.Balance, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *invoiceRepoPG) Upsert(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	got, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, encounter_id, invoice_number, total_amount,
			paid_amount, balance, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (encounter_id) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			paid_amount = GREATEST(invoices.paid_amount, EXCLUDED.paid_amount),
			balance = EXCLUDED.total_amount - GREATEST(invoices.paid_amount, EXCLUDED.paid_amount),
			status = CASE
				WHEN EXCLUDED.total_amount - GREATEST(invoices.paid_amount, EXCLUDED.paid_amount) <= 0
					AND GREATEST(invoices.paid_amount, EXCLUDED.paid_amount) > 0 THEN 'paid'
				WHEN GREATEST(invoices.paid_amount, EXCLUDED.paid_amount) > 0 THEN 'partial'
				ELSE 'unpaid'
			END,
			updated_at = NOW()
		RETURNING `+invoiceCols,
		inv.ID, inv.EncounterID, inv.InvoiceNumber, inv.TotalAmount,
		inv.PaidAmount, inv.Balance, inv.Status))
	if err != nil {
		return err
	}
	*inv = *got
	return nil
}

func (r *invoiceRepoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE encounter_id = $1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "no invoice for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) UpdateTotals(ctx context.Context, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices
		SET total_amount=$2, paid_amount=$3, balance=$4, status=$5, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.TotalAmount, inv.PaidAmount, inv.Balance, inv.Status)
	return err
}

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const paymentCols = `id, invoice_id, amount, method, reference, paid_at, created_at`

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.PaidAt).Scan(&p.CreatedAt)
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE invoice_id = $1 ORDER BY paid_at ASC`,
		invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference,
			&p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}
