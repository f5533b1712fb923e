package triage

import (
	"time"

	"github.com/google/uuid"
)

// Triage levels, most urgent first.
const (
	LevelEmergency = "emergency"
	LevelUrgent    = "urgent"
	LevelNonUrgent = "non_urgent"
	LevelRoutine   = "routine"
)

// Vitals is a snapshot of measured vital signs. Nil fields were not
// measured and do not contribute to the score.
type Vitals struct {
	Temperature     *float64 `json:"temperature"`
	BPSystolic      *int     `json:"bp_systolic"`
	BPDiastolic     *int     `json:"bp_diastolic"`
	HeartRate       *int     `json:"heart_rate"`
	RespiratoryRate *int     `json:"respiratory_rate"`
	SpO2            *int     `json:"spo2"`
	GCSEye          *int     `json:"gcs_eye"`
	GCSVerbal       *int     `json:"gcs_verbal"`
	GCSMotor        *int     `json:"gcs_motor"`
	GCSTotal        *int     `json:"gcs_total"`
}

// EffectiveGCS returns the total GCS, preferring the recorded total and
// falling back to the component sum when all three are present.
func (v Vitals) EffectiveGCS() *int {
	if v.GCSTotal != nil {
		return v.GCSTotal
	}
	if v.GCSEye != nil && v.GCSVerbal != nil && v.GCSMotor != nil {
		sum := *v.GCSEye + *v.GCSVerbal + *v.GCSMotor
		return &sum
	}
	return nil
}

// Assessment is one completed triage evaluation. Immutable: reassessment
// inserts a new row rather than mutating history.
type Assessment struct {
	ID             uuid.UUID `json:"id"`
	VisitID        uuid.UUID `json:"visit_id"`
	Vitals         Vitals    `json:"vitals"`
	ChiefComplaint string    `json:"chief_complaint"`
	TriageLevel    string    `json:"triage_level"`
	TriageScore    int       `json:"triage_score"`
	AssessedBy     string    `json:"assessed_by"`
	AssessedAt     time.Time `json:"assessed_at"`
}
