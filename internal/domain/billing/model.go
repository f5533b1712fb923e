package billing

import (
	"time"

	"github.com/google/uuid"
)

// Account statuses.
const (
	AccountOpen   = "open"
	AccountClosed = "closed"
)

// Item statuses.
const (
	ItemUnpaid    = "unpaid"
	ItemPaid      = "paid"
	ItemCancelled = "cancelled"
)

// Reference types tie an item back to the clinical event that caused it.
const (
	RefConsultation = "consultation"
	RefPrescription = "prescription"
	RefLabOrder     = "lab_order"
)

// Account is the per-encounter financial aggregate. Exactly one non-deleted
// account exists per encounter; duplicates are a defect state repaired by
// DeduplicateAccounts.
type Account struct {
	ID             uuid.UUID `json:"id"`
	EncounterID    uuid.UUID `json:"encounter_id"`
	Status         string    `json:"status"`
	TotalAmount    float64   `json:"total_amount"`
	DiscountAmount float64   `json:"discount_amount"`
	NetAmount      float64   `json:"net_amount"`
	AmountPaid     float64   `json:"amount_paid"`
	Balance        float64   `json:"balance"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Item is one charge line. At most one item exists per
// (encounter_id, reference_type, reference_id).
type Item struct {
	ID            uuid.UUID `json:"id"`
	EncounterID   uuid.UUID `json:"encounter_id"`
	ItemType      string    `json:"item_type"`
	Description   string    `json:"description"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	Amount        float64   `json:"amount"`
	Discount      float64   `json:"discount"`
	NetAmount     float64   `json:"net_amount"`
	Status        string    `json:"status"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChargeInput describes one charge to materialize.
type ChargeInput struct {
	EncounterID   uuid.UUID `json:"encounter_id"`
	ItemType      string    `json:"item_type"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	Description   string    `json:"description"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	Discount      float64   `json:"discount"`
}

// RepairReport summarizes what DeduplicateAccounts changed.
type RepairReport struct {
	EncounterID     uuid.UUID `json:"encounter_id"`
	AccountsRemoved int       `json:"accounts_removed"`
	ItemsRemoved    int       `json:"items_removed"`
}

// HealthReport lists encounters whose billing state needs repair.
type HealthReport struct {
	DuplicateAccounts []uuid.UUID `json:"duplicate_accounts"`
	MismatchedTotals  []uuid.UUID `json:"mismatched_totals"`
}

// Healthy reports whether no repairs are pending.
func (h HealthReport) Healthy() bool {
	return len(h.DuplicateAccounts) == 0 && len(h.MismatchedTotals) == 0
}
