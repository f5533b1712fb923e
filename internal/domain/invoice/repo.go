package invoice

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Upsert inserts the invoice or refreshes its totals when the encounter
	// already has one. The invoice number is assigned on first insert and
	// never changes.
	Upsert(ctx context.Context, inv *Invoice) error
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetByIDForUpdate locks the invoice row for the transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateTotals(ctx context.Context, inv *Invoice) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
