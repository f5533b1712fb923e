package prescription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klinika/opd/internal/domain/billing"
	"github.com/klinika/opd/internal/platform/catalog"
	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/internal/platform/events"
	"github.com/klinika/opd/pkg/apperr"
)

// VisitGate refuses prescription changes once the visit is terminal.
type VisitGate interface {
	EnsureEditable(ctx context.Context, visitID uuid.UUID) error
}

// Charger materializes the pharmacy charge for an issued prescription.
type Charger interface {
	MaterializeCharge(ctx context.Context, in billing.ChargeInput) (*billing.Item, error)
}

// PriceResolver is the catalog fallback chain; always produces a price.
type PriceResolver interface {
	Resolve(ctx context.Context, category, codeOrName string) float64
}

// Publisher is the slice of the event dispatcher the prescription flow uses.
type Publisher interface {
	Publish(ctx context.Context, eventType, branchID string, payload interface{}) int
}

type Service struct {
	prescriptions Repository
	visits        VisitGate
	charger       Charger
	prices        PriceResolver
	publisher     Publisher
	run           db.Runner
	logger        zerolog.Logger
}

func NewService(prescriptions Repository, visits VisitGate, charger Charger, prices PriceResolver, publisher Publisher, run db.Runner, logger zerolog.Logger) *Service {
	return &Service{
		prescriptions: prescriptions,
		visits:        visits,
		charger:       charger,
		prices:        prices,
		publisher:     publisher,
		run:           run,
		logger:        logger,
	}
}

// Create issues a prescription for the visit. Submitting the same payload
// again returns the already issued row; the fingerprint over the normalized
// payload absorbs double-clicks and gateway retries. After a new insert the
// pharmacy charge is materialized; a billing failure is logged and repaired
// later, the prescription stands.
func (s *Service) Create(ctx context.Context, visitID uuid.UUID, in Input) (*Prescription, error) {
	if visitID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "visit id is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "patient_id is required")
	}
	if strings.TrimSpace(in.DrugName) == "" {
		return nil, apperr.E(apperr.Validation, "drug_name is required")
	}
	if in.Quantity < 0 {
		return nil, apperr.E(apperr.Validation, "quantity must not be negative")
	}

	if err := s.visits.EnsureEditable(ctx, visitID); err != nil {
		return nil, err
	}

	quantity := DeriveQuantity(in.Quantity, in.Dosage, in.Frequency, in.Duration)
	price := s.prices.Resolve(ctx, catalog.CategoryPharmacy, in.DrugName)

	p := &Prescription{
		EncounterID: visitID,
		PatientID:   in.PatientID,
		DrugName:    strings.TrimSpace(in.DrugName),
		Dosage:      strings.TrimSpace(in.Dosage),
		Frequency:   strings.TrimSpace(in.Frequency),
		Duration:    strings.TrimSpace(in.Duration),
		Quantity:    quantity,
		UnitPrice:   price,
		Status:      StatusIssued,
	}
	p.Fingerprint = fingerprint(p)

	var created bool
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.prescriptions.InsertOrGet(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return p, nil
	}

	s.publisher.Publish(ctx, events.TypePrescriptionIssued, "", map[string]interface{}{
		"prescription_id": p.ID,
		"visit_id":        p.EncounterID,
		"patient_id":      p.PatientID,
		"drug_name":       p.DrugName,
		"quantity":        p.Quantity,
	})

	// Billing runs after the prescription committed so a reconciliation
	// failure never voids the clinical record.
	_, err = s.charger.MaterializeCharge(ctx, billing.ChargeInput{
		EncounterID:   p.EncounterID,
		ItemType:      "pharmacy",
		ReferenceType: billing.RefPrescription,
		ReferenceID:   p.ID.String(),
		Description:   p.DrugName,
		Quantity:      p.Quantity,
		UnitPrice:     p.UnitPrice,
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("prescription_id", p.ID.String()).
			Str("visit_id", visitID.String()).
			Msg("pharmacy charge failed, billing needs repair")
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByEncounter(ctx, visitID)
}

// fingerprint hashes the normalized clinical payload. Whitespace and casing
// differences produce the same fingerprint.
func fingerprint(p *Prescription) string {
	h := sha256.New()
	for _, field := range []string{
		p.PatientID.String(),
		strings.ToLower(p.DrugName),
		strings.ToLower(p.Dosage),
		strings.ToLower(p.Frequency),
		strings.ToLower(p.Duration),
		strconv.Itoa(p.Quantity),
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
