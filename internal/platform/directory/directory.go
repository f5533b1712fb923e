// Package directory exposes read-only lookups against the patient and
// physician master data, which is owned elsewhere.
package directory

import (
	"context"

	"github.com/google/uuid"
)

// Physician is the slice of master data the visit flow needs.
type Physician struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// PatientDirectory answers whether a patient record exists.
type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PhysicianDirectory resolves physicians referenced by a visit.
type PhysicianDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Physician, error)
}
