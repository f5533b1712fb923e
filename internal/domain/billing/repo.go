package billing

import (
	"context"

	"github.com/google/uuid"
)

type AccountRepository interface {
	// Ensure creates the encounter's account if none exists yet. Safe to
	// call concurrently; the partial unique index makes losers no-ops.
	Ensure(ctx context.Context, encounterID uuid.UUID) error
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Account, error)
	// GetByEncounterForUpdate locks the account row for the transaction.
	GetByEncounterForUpdate(ctx context.Context, encounterID uuid.UUID) (*Account, error)
	// ListByEncounter returns all non-deleted accounts, most recently
	// updated first. More than one row is the duplicate defect state.
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Account, error)
	UpdateTotals(ctx context.Context, a *Account) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// DuplicateEncounters lists encounters with more than one non-deleted
	// account.
	DuplicateEncounters(ctx context.Context) ([]uuid.UUID, error)
	// MismatchedEncounters lists encounters whose stored totals disagree
	// with the sum of their non-cancelled items.
	MismatchedEncounters(ctx context.Context) ([]uuid.UUID, error)
}

type ItemRepository interface {
	// Upsert inserts the item or, when the reference key already exists,
	// corrects quantity, unit price and amounts in place.
	Upsert(ctx context.Context, item *Item) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Item, error)
	// CollapseDuplicates removes all but the newest item per reference
	// key and returns how many rows were dropped.
	CollapseDuplicates(ctx context.Context, encounterID uuid.UUID) (int, error)
}
