package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// InsertOrGet inserts the prescription or, when the encounter already
	// has one with the same fingerprint, returns the existing row. The
	// returned bool reports whether a new row was created.
	InsertOrGet(ctx context.Context, p *Prescription) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prescription, error)
}
