package invoice

import (
	"time"

	"github.com/google/uuid"
)

// Invoice statuses.
const (
	StatusUnpaid  = "unpaid"
	StatusPartial = "partial"
	StatusPaid    = "paid"
)

// Invoice is the patient-facing projection of a billing account. One invoice
// exists per encounter; totals are refreshed from the account, never edited
// directly.
type Invoice struct {
	ID            uuid.UUID `json:"id"`
	EncounterID   uuid.UUID `json:"encounter_id"`
	InvoiceNumber string    `json:"invoice_number"`
	TotalAmount   float64   `json:"total_amount"`
	PaidAmount    float64   `json:"paid_amount"`
	Balance       float64   `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Payment struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Reference string    `json:"reference,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
	CreatedAt time.Time `json:"created_at"`
}

// statusFor derives the invoice status from its paid amount and balance.
// paid_amount only ever grows, so the status can only move toward paid.
func statusFor(paid, balance float64) string {
	switch {
	case balance <= 0 && paid > 0:
		return StatusPaid
	case paid > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}
