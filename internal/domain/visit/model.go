package visit

import (
	"time"

	"github.com/google/uuid"
)

// Visit statuses.
const (
	StatusScheduled  = "scheduled"
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Triage sub-statuses, orthogonal to the visit status.
const (
	TriagePending   = "pending"
	TriageCompleted = "completed"
	TriageSkipped   = "skipped"
)

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusWaiting: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true,
}

// transitions lists the allowed forward edges of the visit state machine.
// Cancellation is handled separately: any non-terminal status may cancel.
var transitions = map[string]string{
	StatusScheduled:  StatusWaiting,
	StatusWaiting:    StatusInProgress,
	StatusInProgress: StatusCompleted,
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to string) bool {
	if to == StatusCancelled {
		return !IsTerminal(from)
	}
	return transitions[from] == to
}

// Visit is one outpatient appointment. Mutated only through Service
// operations; cancellation is a terminal status, not removal.
type Visit struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PhysicianID      *uuid.UUID `json:"physician_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Status           string     `json:"status"`
	TriageStatus     string     `json:"triage_status"`
	ChiefComplaint   *string    `json:"chief_complaint"`
	QueueNumber      *int       `json:"queue_number"`
	QueueDate        *time.Time `json:"queue_date"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CancelledAt      *time.Time `json:"cancelled_at"`
	CancelReason     *string    `json:"cancel_reason"`
	ConsultationType string     `json:"consultation_type"`
	BranchID         string     `json:"branch_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SOAPNote is the consultation note, one row per visit.
type SOAPNote struct {
	ID         uuid.UUID `json:"id"`
	VisitID    uuid.UUID `json:"visit_id"`
	Subjective string    `json:"subjective"`
	Objective  string    `json:"objective"`
	Assessment string    `json:"assessment"`
	Plan       string    `json:"plan"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConsultationCompletedPayload is published when a consultation finishes.
type ConsultationCompletedPayload struct {
	VisitID          uuid.UUID  `json:"visit_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PhysicianID      *uuid.UUID `json:"physician_id"`
	ConsultationType string     `json:"consultation_type"`
	BranchID         string     `json:"branch_id"`
}
