package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klinika/opd/internal/domain/billing"
	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/pkg/apperr"
)

// Projector maintains the invoice projection of billing accounts and takes
// payments against it.
type Projector struct {
	invoices InvoiceRepository
	payments PaymentRepository
	accounts billing.AccountRepository
	run      db.Runner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewProjector(invoices InvoiceRepository, payments PaymentRepository, accounts billing.AccountRepository, run db.Runner, logger zerolog.Logger) *Projector {
	return &Projector{
		invoices: invoices,
		payments: payments,
		accounts: accounts,
		run:      run,
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureInvoice creates or refreshes the encounter's invoice from its billing
// account. Paid amount never decreases across refreshes.
func (p *Projector) EnsureInvoice(ctx context.Context, encounterID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := p.run(ctx, func(ctx context.Context) error {
		a, err := p.accounts.GetByEncounter(ctx, encounterID)
		if err != nil {
			return err
		}
		inv := &Invoice{
			EncounterID:   encounterID,
			InvoiceNumber: p.newInvoiceNumber(),
			TotalAmount:   a.NetAmount,
			PaidAmount:    a.AmountPaid,
			Balance:       a.NetAmount - a.AmountPaid,
			Status:        statusFor(a.AmountPaid, a.NetAmount-a.AmountPaid),
		}
		if err := p.invoices.Upsert(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Projector) newInvoiceNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return "INV-" + p.now().Format("20060102") + "-" + suffix
}

// ApplyPayment records a payment against the invoice and settles the billing
// account when the balance reaches zero. Overpayment is refused rather than
// clamped; the caller splits or corrects the amount.
func (p *Projector) ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amount float64, method, reference string) (*Payment, error) {
	if amount <= 0 {
		return nil, apperr.E(apperr.Validation, "payment amount must be positive")
	}
	if method == "" {
		return nil, apperr.E(apperr.Validation, "payment method is required")
	}

	payment := &Payment{
		InvoiceID: invoiceID,
		Amount:    amount,
		Method:    method,
		Reference: reference,
		PaidAt:    p.now(),
	}
	err := p.run(ctx, func(ctx context.Context) error {
		inv, err := p.invoices.GetByIDForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if amount > inv.Balance {
			return apperr.E(apperr.StateConflict,
				"payment %.2f exceeds balance %.2f", amount, inv.Balance)
		}

		if err := p.payments.Create(ctx, payment); err != nil {
			return err
		}

		inv.PaidAmount += amount
		inv.Balance = inv.TotalAmount - inv.PaidAmount
		inv.Status = statusFor(inv.PaidAmount, inv.Balance)
		if err := p.invoices.UpdateTotals(ctx, inv); err != nil {
			return err
		}

		a, err := p.accounts.GetByEncounterForUpdate(ctx, inv.EncounterID)
		if err != nil {
			return err
		}
		a.AmountPaid = inv.PaidAmount
		a.Balance = a.NetAmount - a.AmountPaid
		if a.NetAmount > 0 && a.Balance <= 0 {
			a.Status = billing.AccountClosed
		}
		return p.accounts.UpdateTotals(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("invoice_id", invoiceID.String()).
		Float64("amount", amount).
		Str("method", method).
		Msg("payment recorded")
	return payment, nil
}

func (p *Projector) Get(ctx context.Context, encounterID uuid.UUID) (*Invoice, error) {
	return p.invoices.GetByEncounter(ctx, encounterID)
}

func (p *Projector) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := p.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return p.payments.ListByInvoice(ctx, invoiceID)
}
