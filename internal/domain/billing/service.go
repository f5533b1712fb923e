package billing

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/internal/platform/events"
	"github.com/klinika/opd/pkg/apperr"
)

// PriceResolver is the catalog fallback chain; always produces a price.
type PriceResolver interface {
	Resolve(ctx context.Context, category, codeOrName string) float64
}

// Reconciler keeps billing items in step with clinical events and the
// account aggregate in step with its items.
type Reconciler struct {
	accounts AccountRepository
	items    ItemRepository
	prices   PriceResolver
	run      db.Runner
	logger   zerolog.Logger
}

func NewReconciler(accounts AccountRepository, items ItemRepository, prices PriceResolver, run db.Runner, logger zerolog.Logger) *Reconciler {
	return &Reconciler{accounts: accounts, items: items, prices: prices, run: run, logger: logger}
}

// MaterializeCharge upserts the charge keyed by (encounter, reference type,
// reference id) and reconciles the account. Re-triggering the same clinical
// event corrects the existing item instead of duplicating it.
func (r *Reconciler) MaterializeCharge(ctx context.Context, in ChargeInput) (*Item, error) {
	if in.EncounterID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "encounter_id is required")
	}
	if in.ReferenceType == "" || in.ReferenceID == "" {
		return nil, apperr.E(apperr.Validation, "reference_type and reference_id are required")
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}
	if in.UnitPrice < 0 {
		return nil, apperr.E(apperr.Validation, "unit_price must not be negative")
	}
	if in.Discount < 0 {
		return nil, apperr.E(apperr.Validation, "discount must not be negative")
	}
	if in.ItemType == "" {
		in.ItemType = in.ReferenceType
	}

	amount := float64(in.Quantity) * in.UnitPrice
	item := &Item{
		EncounterID:   in.EncounterID,
		ItemType:      in.ItemType,
		Description:   in.Description,
		Quantity:      in.Quantity,
		UnitPrice:     in.UnitPrice,
		Amount:        amount,
		Discount:      in.Discount,
		NetAmount:     amount - in.Discount,
		Status:        ItemUnpaid,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
	}

	err := r.run(ctx, func(ctx context.Context) error {
		if err := r.accounts.Ensure(ctx, in.EncounterID); err != nil {
			return err
		}
		if err := r.items.Upsert(ctx, item); err != nil {
			return err
		}
		return r.reconcileLocked(ctx, in.EncounterID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ReconcileTotals recomputes the account aggregate from its non-cancelled
// items under a row lock. Running it twice in a row yields the same state.
func (r *Reconciler) ReconcileTotals(ctx context.Context, encounterID uuid.UUID) (*Account, error) {
	var out *Account
	err := r.run(ctx, func(ctx context.Context) error {
		if err := r.reconcileLocked(ctx, encounterID); err != nil {
			return err
		}
		var err error
		out, err = r.accounts.GetByEncounter(ctx, encounterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reconcileLocked runs inside an existing transaction.
func (r *Reconciler) reconcileLocked(ctx context.Context, encounterID uuid.UUID) error {
	a, err := r.accounts.GetByEncounterForUpdate(ctx, encounterID)
	if err != nil {
		return err
	}

	items, err := r.items.ListByEncounter(ctx, encounterID)
	if err != nil {
		return err
	}

	var total, discount float64
	for _, it := range items {
		if it.Status == ItemCancelled {
			continue
		}
		total += it.Amount
		discount += it.Discount
	}

	a.TotalAmount = total
	a.DiscountAmount = discount
	a.NetAmount = total - discount
	a.Balance = a.NetAmount - a.AmountPaid
	if a.NetAmount > 0 && a.Balance <= 0 {
		a.Status = AccountClosed
	} else {
		a.Status = AccountOpen
	}
	return r.accounts.UpdateTotals(ctx, a)
}

// DeduplicateAccounts collapses duplicate accounts and duplicate items for
// an encounter, keeping the most recently updated account and the newest
// item per reference key, then reconciles the survivor. A no-op when the
// encounter is already consistent.
func (r *Reconciler) DeduplicateAccounts(ctx context.Context, encounterID uuid.UUID) (*RepairReport, error) {
	report := &RepairReport{EncounterID: encounterID}
	err := r.run(ctx, func(ctx context.Context) error {
		accounts, err := r.accounts.ListByEncounter(ctx, encounterID)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return apperr.E(apperr.NotFound, "no billing account for encounter %s", encounterID)
		}

		// Survivor is the most recently updated; carry the largest
		// amount_paid so recorded payments are never lost.
		survivor := accounts[0]
		for _, a := range accounts[1:] {
			if a.AmountPaid > survivor.AmountPaid {
				survivor.AmountPaid = a.AmountPaid
			}
			if err := r.accounts.SoftDelete(ctx, a.ID); err != nil {
				return err
			}
			report.AccountsRemoved++
		}
		if report.AccountsRemoved > 0 {
			if err := r.accounts.UpdateTotals(ctx, survivor); err != nil {
				return err
			}
		}

		removed, err := r.items.CollapseDuplicates(ctx, encounterID)
		if err != nil {
			return err
		}
		report.ItemsRemoved = removed

		return r.reconcileLocked(ctx, encounterID)
	})
	if err != nil {
		return nil, err
	}

	if report.AccountsRemoved > 0 || report.ItemsRemoved > 0 {
		r.logger.Warn().
			Str("encounter_id", encounterID.String()).
			Int("accounts_removed", report.AccountsRemoved).
			Int("items_removed", report.ItemsRemoved).
			Msg("billing duplicates repaired")
	}
	return report, nil
}

// Health surfaces encounters whose billing state needs repair.
func (r *Reconciler) Health(ctx context.Context) (*HealthReport, error) {
	duplicates, err := r.accounts.DuplicateEncounters(ctx)
	if err != nil {
		return nil, err
	}
	mismatched, err := r.accounts.MismatchedEncounters(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthReport{DuplicateAccounts: duplicates, MismatchedTotals: mismatched}, nil
}

func (r *Reconciler) Account(ctx context.Context, encounterID uuid.UUID) (*Account, error) {
	return r.accounts.GetByEncounter(ctx, encounterID)
}

func (r *Reconciler) Items(ctx context.Context, encounterID uuid.UUID) ([]*Item, error) {
	return r.items.ListByEncounter(ctx, encounterID)
}

// consultationCompleted mirrors the visit package's completion payload.
type consultationCompleted struct {
	VisitID          uuid.UUID `json:"visit_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	ConsultationType string    `json:"consultation_type"`
	BranchID         string    `json:"branch_id"`
}

// HandleConsultationCompleted materializes the consultation charge for a
// finished visit. The dispatcher logs a returned error; the clinical caller
// is never rolled back by a billing failure.
func (r *Reconciler) HandleConsultationCompleted(ctx context.Context, evt events.Event) error {
	var payload consultationCompleted
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return apperr.E(apperr.Reconciliation, "decode consultation payload: %v", err)
	}

	price := r.prices.Resolve(ctx, RefConsultation, payload.ConsultationType)
	_, err := r.MaterializeCharge(ctx, ChargeInput{
		EncounterID:   payload.VisitID,
		ItemType:      RefConsultation,
		ReferenceType: RefConsultation,
		ReferenceID:   payload.VisitID.String(),
		Description:   "Consultation (" + payload.ConsultationType + ")",
		Quantity:      1,
		UnitPrice:     price,
	})
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("visit_id", payload.VisitID.String()).
			Msg("consultation charge failed, billing needs repair")
		return apperr.E(apperr.Reconciliation, "materialize consultation charge: %v", err)
	}
	return nil
}
