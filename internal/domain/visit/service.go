package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/internal/platform/directory"
	"github.com/klinika/opd/internal/platform/events"
	"github.com/klinika/opd/pkg/apperr"
)

// Publisher is the slice of the event dispatcher the visit flow uses.
type Publisher interface {
	Publish(ctx context.Context, eventType, branchID string, payload interface{}) int
}

// RegisterInput is the registration request.
type RegisterInput struct {
	PatientID        uuid.UUID  `json:"patient_id"`
	PhysicianID      *uuid.UUID `json:"physician_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	ChiefComplaint   *string    `json:"chief_complaint"`
	ConsultationType string     `json:"consultation_type"`
	BranchID         string     `json:"branch_id"`
}

type Service struct {
	visits     Repository
	soap       SOAPRepository
	patients   directory.PatientDirectory
	physicians directory.PhysicianDirectory
	publisher  Publisher
	run        db.Runner
	branch     string
}

func NewService(visits Repository, soap SOAPRepository, patients directory.PatientDirectory, physicians directory.PhysicianDirectory, publisher Publisher, run db.Runner, defaultBranch string) *Service {
	return &Service{
		visits:     visits,
		soap:       soap,
		patients:   patients,
		physicians: physicians,
		publisher:  publisher,
		run:        run,
		branch:     defaultBranch,
	}
}

// Register creates a visit. A same-day registration is checked in
// immediately (waiting, queue number assigned); a future date stays
// scheduled until check-in. A patient may hold only one non-terminal visit
// per calendar day.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Visit, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "patient_id is required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, apperr.E(apperr.Validation, "scheduled_at is required")
	}
	if in.ConsultationType == "" {
		in.ConsultationType = "general"
	}
	if in.BranchID == "" {
		in.BranchID = s.branch
	}

	exists, err := s.patients.Exists(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.E(apperr.NotFound, "patient %s not found", in.PatientID)
	}

	day := in.ScheduledAt
	v := &Visit{
		PatientID:        in.PatientID,
		PhysicianID:      in.PhysicianID,
		ScheduledAt:      in.ScheduledAt,
		Status:           StatusScheduled,
		TriageStatus:     TriagePending,
		ChiefComplaint:   in.ChiefComplaint,
		ConsultationType: in.ConsultationType,
		BranchID:         in.BranchID,
	}

	err = s.run(ctx, func(ctx context.Context) error {
		active, err := s.visits.HasActiveVisit(ctx, in.PatientID, day)
		if err != nil {
			return err
		}
		if active {
			return apperr.E(apperr.StateConflict, "patient %s already has an active visit on %s", in.PatientID, day.Format("2006-01-02"))
		}
		if err := s.visits.Create(ctx, v); err != nil {
			return err
		}
		if sameDay(in.ScheduledAt, time.Now()) {
			v.Status = StatusWaiting
			if err := s.assignQueue(ctx, v, in.ScheduledAt); err != nil {
				return err
			}
			return s.visits.Update(ctx, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CheckIn moves a scheduled visit to waiting and assigns the next queue
// number for the day.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Visit, error) {
	var v *Visit
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.visits.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(v.Status, StatusWaiting) {
			return apperr.E(apperr.StateConflict, "cannot check in visit in status %s", v.Status)
		}
		v.Status = StatusWaiting
		if err := s.assignQueue(ctx, v, time.Now()); err != nil {
			return err
		}
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// assignQueue reserves the next queue slot for the day, retrying once when
// a concurrent check-in takes the same number.
func (s *Service) assignQueue(ctx context.Context, v *Visit, day time.Time) error {
	for attempt := 0; attempt < 2; attempt++ {
		number, err := s.visits.NextQueueNumber(ctx, day)
		if err != nil {
			return err
		}
		err = s.visits.AssignQueueNumber(ctx, v.ID, day, number)
		if err == ErrQueueSlotTaken {
			continue
		}
		if err != nil {
			return err
		}
		q := day
		v.QueueNumber = &number
		v.QueueDate = &q
		return nil
	}
	return apperr.E(apperr.StateConflict, "queue slot contention for %s", day.Format("2006-01-02"))
}

// StartConsultation moves a waiting visit to in_progress under the given
// physician.
func (s *Service) StartConsultation(ctx context.Context, id, physicianID uuid.UUID) (*Visit, error) {
	if physicianID == uuid.Nil {
		return nil, apperr.E(apperr.Validation, "physician_id is required")
	}
	if _, err := s.physicians.GetByID(ctx, physicianID); err != nil {
		return nil, err
	}
	var v *Visit
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.visits.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(v.Status, StatusInProgress) {
			return apperr.E(apperr.StateConflict, "cannot start consultation for visit in status %s", v.Status)
		}
		now := time.Now().UTC()
		v.Status = StatusInProgress
		v.PhysicianID = &physicianID
		v.StartedAt = &now
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CompleteConsultation finishes an in-progress visit and publishes the
// completion event. Calling it again on a completed visit returns the
// visit unchanged without re-publishing, so retries are safe.
func (s *Service) CompleteConsultation(ctx context.Context, id uuid.UUID) (*Visit, error) {
	var v *Visit
	completed := false
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.visits.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if v.Status == StatusCompleted {
			return nil
		}
		if !CanTransition(v.Status, StatusCompleted) {
			return apperr.E(apperr.StateConflict, "cannot complete visit in status %s", v.Status)
		}
		now := time.Now().UTC()
		v.Status = StatusCompleted
		v.CompletedAt = &now
		completed = true
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	if completed {
		s.publisher.Publish(ctx, events.TypeConsultationCompleted, v.BranchID, ConsultationCompletedPayload{
			VisitID:          v.ID,
			PatientID:        v.PatientID,
			PhysicianID:      v.PhysicianID,
			ConsultationType: v.ConsultationType,
			BranchID:         v.BranchID,
		})
	}
	return v, nil
}

// Cancel terminates any non-terminal visit.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Visit, error) {
	if reason == "" {
		return nil, apperr.E(apperr.Validation, "cancel reason is required")
	}
	var v *Visit
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.visits.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(v.Status, StatusCancelled) {
			return apperr.E(apperr.StateConflict, "cannot cancel visit in status %s", v.Status)
		}
		now := time.Now().UTC()
		v.Status = StatusCancelled
		v.CancelledAt = &now
		v.CancelReason = &reason
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.TypeVisitCancelled, v.BranchID, map[string]interface{}{
		"visit_id": v.ID,
		"reason":   reason,
	})
	return v, nil
}

// MarkTriageCompleted flips the triage sub-status to completed. Only a
// waiting visit with triage still pending qualifies.
func (s *Service) MarkTriageCompleted(ctx context.Context, visitID uuid.UUID) error {
	return s.setTriageStatus(ctx, visitID, TriageCompleted)
}

// SkipTriage records that triage was deliberately skipped.
func (s *Service) SkipTriage(ctx context.Context, visitID uuid.UUID) error {
	return s.setTriageStatus(ctx, visitID, TriageSkipped)
}

func (s *Service) setTriageStatus(ctx context.Context, visitID uuid.UUID, status string) error {
	return s.run(ctx, func(ctx context.Context) error {
		v, err := s.visits.GetForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if v.Status != StatusWaiting {
			return apperr.E(apperr.StateConflict, "triage requires a waiting visit, status is %s", v.Status)
		}
		if v.TriageStatus != TriagePending {
			return apperr.E(apperr.StateConflict, "triage already %s", v.TriageStatus)
		}
		v.TriageStatus = status
		return s.visits.Update(ctx, v)
	})
}

// SaveSOAP upserts the consultation note. Locked once the visit reaches a
// terminal status.
func (s *Service) SaveSOAP(ctx context.Context, visitID uuid.UUID, n *SOAPNote) error {
	if n.Subjective == "" && n.Objective == "" && n.Assessment == "" && n.Plan == "" {
		return apperr.E(apperr.Validation, "soap note is empty")
	}
	return s.run(ctx, func(ctx context.Context) error {
		v, err := s.visits.GetForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if v.Status == StatusCompleted {
			return apperr.E(apperr.StateConflict, "consultation is locked")
		}
		if v.Status == StatusCancelled {
			return apperr.E(apperr.StateConflict, "visit is cancelled")
		}
		n.VisitID = visitID
		return s.soap.Upsert(ctx, n)
	})
}

// EnsureEditable refuses changes to clinical sub-orders once the visit has
// reached a terminal status.
func (s *Service) EnsureEditable(ctx context.Context, visitID uuid.UUID) error {
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return err
	}
	if v.Status == StatusCompleted {
		return apperr.E(apperr.StateConflict, "consultation is locked")
	}
	if v.Status == StatusCancelled {
		return apperr.E(apperr.StateConflict, "visit is cancelled")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.visits.GetByID(ctx, id)
}

func (s *Service) GetSOAP(ctx context.Context, visitID uuid.UUID) (*SOAPNote, error) {
	return s.soap.GetByVisit(ctx, visitID)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.E(apperr.Validation, "unknown status %q", f.Status)
	}
	return s.visits.List(ctx, f, limit, offset)
}

func (s *Service) Queue(ctx context.Context, day time.Time) ([]*Visit, error) {
	return s.visits.ListQueue(ctx, day)
}

// Delete removes a visit outright. Administrative use only; the normal
// path is Cancel.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.visits.Delete(ctx, id)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
