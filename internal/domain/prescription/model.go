package prescription

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusIssued    = "issued"
	StatusDispensed = "dispensed"
	StatusCancelled = "cancelled"
)

// Prescription is one drug order issued during a visit. The fingerprint is a
// hash of the normalized clinical payload; together with the encounter it
// forms the natural key that absorbs duplicate submissions.
type Prescription struct {
	ID          uuid.UUID `json:"id"`
	EncounterID uuid.UUID `json:"encounter_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DrugName    string    `json:"drug_name"`
	Dosage      string    `json:"dosage"`
	Frequency   string    `json:"frequency"`
	Duration    string    `json:"duration"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Status      string    `json:"status"`
	Fingerprint string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input is one prescription as submitted by the consultation UI.
type Input struct {
	PatientID uuid.UUID `json:"patient_id"`
	DrugName  string    `json:"drug_name"`
	Dosage    string    `json:"dosage"`
	Frequency string    `json:"frequency"`
	Duration  string    `json:"duration"`
	Quantity  int       `json:"quantity"`
}
