package triage

import "strings"

// Policy is the explicit scoring rule table. Red-flag thresholds force an
// emergency classification regardless of the additive score; otherwise
// points accumulate per deranged vital and complaint keyword, and the
// total maps to a level through the score cutoffs.
type Policy struct {
	// Red flags: any one of these forces LevelEmergency.
	SpO2RedFlag        int     // below this
	GCSRedFlag         int     // at or below this
	RespRateLowRed     int     // below this
	RespRateHighRed    int     // above this
	HeartRateLowRed    int     // below this
	HeartRateHighRed   int     // above this
	SystolicLowRed     int     // below this
	SystolicHighRed    int     // at or above this
	TemperatureRedFlag float64 // at or above this

	// Additive score cutoffs (inclusive lower bounds).
	EmergencyScore int
	UrgentScore    int
	NonUrgentScore int

	// Complaint keywords and the points each adds.
	ComplaintKeywords map[string]int
}

// DefaultPolicy returns the documented default rule table.
func DefaultPolicy() Policy {
	return Policy{
		SpO2RedFlag:        90,
		GCSRedFlag:         8,
		RespRateLowRed:     8,
		RespRateHighRed:    30,
		HeartRateLowRed:    40,
		HeartRateHighRed:   140,
		SystolicLowRed:     80,
		SystolicHighRed:    220,
		TemperatureRedFlag: 41.0,

		EmergencyScore: 8,
		UrgentScore:    5,
		NonUrgentScore: 2,

		ComplaintKeywords: map[string]int{
			"chest pain":          3,
			"shortness of breath": 3,
			"unconscious":         3,
			"seizure":             3,
			"bleeding":            2,
			"vomiting":            1,
			"fever":               1,
		},
	}
}

// Scorer maps vitals and a chief complaint to a triage level and score.
type Scorer struct {
	policy Policy
}

func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score is deterministic and total: it always returns a level, and missing
// vitals simply contribute nothing.
func (s *Scorer) Score(v Vitals, chiefComplaint string) (string, int) {
	p := s.policy
	score := 0
	redFlag := false

	if v.SpO2 != nil {
		switch {
		case *v.SpO2 < p.SpO2RedFlag:
			redFlag = true
			score += 5
		case *v.SpO2 <= 93:
			score += 3
		case *v.SpO2 <= 95:
			score++
		}
	}

	if gcs := v.EffectiveGCS(); gcs != nil {
		switch {
		case *gcs <= p.GCSRedFlag:
			redFlag = true
			score += 5
		case *gcs <= 12:
			score += 3
		case *gcs <= 14:
			score++
		}
	}

	if v.RespiratoryRate != nil {
		rr := *v.RespiratoryRate
		switch {
		case rr < p.RespRateLowRed || rr > p.RespRateHighRed:
			redFlag = true
			score += 5
		case rr >= 25 || rr < 12:
			score += 2
		case rr >= 21:
			score++
		}
	}

	if v.HeartRate != nil {
		hr := *v.HeartRate
		switch {
		case hr < p.HeartRateLowRed || hr > p.HeartRateHighRed:
			redFlag = true
			score += 5
		case hr > 120 || hr < 50:
			score += 2
		case hr > 100:
			score++
		}
	}

	if v.BPSystolic != nil {
		sbp := *v.BPSystolic
		switch {
		case sbp < p.SystolicLowRed || sbp >= p.SystolicHighRed:
			redFlag = true
			score += 5
		case sbp < 100 || sbp >= 180:
			score += 2
		case sbp >= 160:
			score++
		}
	}

	if v.Temperature != nil {
		t := *v.Temperature
		switch {
		case t >= p.TemperatureRedFlag || t < 35.0:
			redFlag = true
			score += 5
		case t >= 39.0:
			score += 2
		case t >= 38.0:
			score++
		}
	}

	complaint := strings.ToLower(chiefComplaint)
	for keyword, points := range p.ComplaintKeywords {
		if strings.Contains(complaint, keyword) {
			score += points
		}
	}

	if redFlag {
		return LevelEmergency, score
	}

	switch {
	case score >= p.EmergencyScore:
		return LevelEmergency, score
	case score >= p.UrgentScore:
		return LevelUrgent, score
	case score >= p.NonUrgentScore:
		return LevelNonUrgent, score
	default:
		return LevelRoutine, score
	}
}
