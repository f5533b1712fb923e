package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueSlotTaken signals a (queue_date, queue_number) collision; the
// caller re-reads the next number and retries.
var ErrQueueSlotTaken = errors.New("queue slot taken")

// ListFilter narrows List results.
type ListFilter struct {
	Status    string
	PatientID uuid.UUID
	Day       *time.Time
	BranchID  string
}

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// GetForUpdate locks the visit row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error)
	ListQueue(ctx context.Context, day time.Time) ([]*Visit, error)
	// HasActiveVisit reports whether the patient has a non-terminal visit
	// scheduled on the given day.
	HasActiveVisit(ctx context.Context, patientID uuid.UUID, day time.Time) (bool, error)
	// AssignQueueNumber stamps the visit with the given queue slot. A
	// unique-index violation on (queue_date, queue_number) is returned
	// as ErrQueueSlotTaken for the caller to retry.
	AssignQueueNumber(ctx context.Context, id uuid.UUID, day time.Time, number int) error
	// NextQueueNumber returns max(queue_number)+1 for the day.
	NextQueueNumber(ctx context.Context, day time.Time) (int, error)
}

type SOAPRepository interface {
	Upsert(ctx context.Context, n *SOAPNote) error
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*SOAPNote, error)
}
