package triage

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Assessment) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Assessment, error)
	LatestByVisit(ctx context.Context, visitID uuid.UUID) (*Assessment, error)
}
