package triage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/pkg/apperr"
)

// VisitGate flips the visit's triage sub-status. Implemented by the visit
// service, which enforces that the visit is still waiting.
type VisitGate interface {
	MarkTriageCompleted(ctx context.Context, visitID uuid.UUID) error
}

// Input carries one triage evaluation.
type Input struct {
	Vitals         Vitals `json:"vitals"`
	ChiefComplaint string `json:"chief_complaint"`
	AssessedBy     string `json:"assessed_by"`
}

type Service struct {
	assessments Repository
	visits      VisitGate
	scorer      *Scorer
	run         db.Runner
}

func NewService(assessments Repository, visits VisitGate, scorer *Scorer, run db.Runner) *Service {
	return &Service{assessments: assessments, visits: visits, scorer: scorer, run: run}
}

// CompleteTriage scores the vitals, persists an immutable assessment and
// marks the visit's triage sub-status completed. The visit must still be
// waiting; the gate enforces that inside the same transaction.
func (s *Service) CompleteTriage(ctx context.Context, visitID uuid.UUID, in Input) (*Assessment, error) {
	if visitID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "visit_id is required")
	}
	if in.AssessedBy == "" {
		return nil, apperr.E(apperr.Validation, "assessed_by is required")
	}
	if err := validateVitals(in.Vitals); err != nil {
		return nil, err
	}

	level, score := s.scorer.Score(in.Vitals, in.ChiefComplaint)
	a := &Assessment{
		VisitID:        visitID,
		Vitals:         in.Vitals,
		ChiefComplaint: in.ChiefComplaint,
		TriageLevel:    level,
		TriageScore:    score,
		AssessedBy:     in.AssessedBy,
		AssessedAt:     time.Now().UTC(),
	}

	err := s.run(ctx, func(ctx context.Context) error {
		if err := s.visits.MarkTriageCompleted(ctx, visitID); err != nil {
			return err
		}
		return s.assessments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Latest(ctx context.Context, visitID uuid.UUID) (*Assessment, error) {
	return s.assessments.LatestByVisit(ctx, visitID)
}

func (s *Service) History(ctx context.Context, visitID uuid.UUID) ([]*Assessment, error) {
	return s.assessments.ListByVisit(ctx, visitID)
}

func validateVitals(v Vitals) error {
	if v.Temperature != nil && (*v.Temperature < 25 || *v.Temperature > 45) {
		return apperr.E(apperr.Validation, "temperature %.1f out of range", *v.Temperature)
	}
	if v.SpO2 != nil && (*v.SpO2 < 0 || *v.SpO2 > 100) {
		return apperr.E(apperr.Validation, "spo2 %d out of range", *v.SpO2)
	}
	if v.HeartRate != nil && (*v.HeartRate < 0 || *v.HeartRate > 300) {
		return apperr.E(apperr.Validation, "heart_rate %d out of range", *v.HeartRate)
	}
	if v.RespiratoryRate != nil && (*v.RespiratoryRate < 0 || *v.RespiratoryRate > 100) {
		return apperr.E(apperr.Validation, "respiratory_rate %d out of range", *v.RespiratoryRate)
	}
	if v.BPSystolic != nil && (*v.BPSystolic < 0 || *v.BPSystolic > 350) {
		return apperr.E(apperr.Validation, "bp_systolic %d out of range", *v.BPSystolic)
	}
	if gcs := v.EffectiveGCS(); gcs != nil && (*gcs < 3 || *gcs > 15) {
		return apperr.E(apperr.Validation, "gcs_total %d out of range", *gcs)
	}
	return nil
}
