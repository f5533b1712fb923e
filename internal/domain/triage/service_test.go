package triage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/klinika/opd/pkg/apperr"
)

type mockRepo struct {
	assessments []*Assessment
}

func (m *mockRepo) Create(_ context.Context, a *Assessment) error {
	a.ID = uuid.New()
	copied := *a
	m.assessments = append(m.assessments, &copied)
	return nil
}

func (m *mockRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*Assessment, error) {
	var out []*Assessment
	for _, a := range m.assessments {
		if a.VisitID == visitID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) LatestByVisit(_ context.Context, visitID uuid.UUID) (*Assessment, error) {
	var latest *Assessment
	for _, a := range m.assessments {
		if a.VisitID == visitID {
			latest = a
		}
	}
	if latest == nil {
		return nil, apperr.E(apperr.NotFound, "no triage assessment for visit %s", visitID)
	}
	return latest, nil
}

type mockGate struct {
	err   error
	calls int
}

func (m *mockGate) MarkTriageCompleted(_ context.Context, _ uuid.UUID) error {
	m.calls++
	return m.err
}

func passthroughRunner(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(repo *mockRepo, gate *mockGate) *Service {
	return NewService(repo, gate, NewScorer(DefaultPolicy()), passthroughRunner)
}

func TestCompleteTriage_PersistsAssessment(t *testing.T) {
	repo := &mockRepo{}
	gate := &mockGate{}
	svc := newTestService(repo, gate)
	visitID := uuid.New()

	a, err := svc.CompleteTriage(context.Background(), visitID, Input{
		Vitals:         Vitals{SpO2: intPtr(85), GCSTotal: intPtr(7)},
		ChiefComplaint: "unresponsive",
		AssessedBy:     "nurse-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.TriageLevel != LevelEmergency {
		t.Errorf("expected emergency, got %s", a.TriageLevel)
	}
	if len(repo.assessments) != 1 {
		t.Fatalf("expected 1 persisted assessment, got %d", len(repo.assessments))
	}
	if gate.calls != 1 {
		t.Errorf("expected visit gate to be called once, got %d", gate.calls)
	}
}

func TestCompleteTriage_GateConflictAborts(t *testing.T) {
	repo := &mockRepo{}
	gate := &mockGate{err: apperr.E(apperr.StateConflict, "visit is not waiting")}
	svc := newTestService(repo, gate)

	_, err := svc.CompleteTriage(context.Background(), uuid.New(), Input{AssessedBy: "nurse-1"})
	if !apperr.Is(err, apperr.StateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(repo.assessments) != 0 {
		t.Errorf("expected no assessment persisted after gate refusal, got %d", len(repo.assessments))
	}
}

func TestCompleteTriage_Validation(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockGate{})

	if _, err := svc.CompleteTriage(context.Background(), uuid.Nil, Input{AssessedBy: "n"}); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected validation error for nil visit id, got %v", err)
	}
	if _, err := svc.CompleteTriage(context.Background(), uuid.New(), Input{}); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected validation error for missing assessor, got %v", err)
	}
	if _, err := svc.CompleteTriage(context.Background(), uuid.New(), Input{
		AssessedBy: "n",
		Vitals:     Vitals{SpO2: intPtr(140)},
	}); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected validation error for out-of-range spo2, got %v", err)
	}
}

func TestCompleteTriage_ReassessmentAddsRow(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &mockGate{})
	visitID := uuid.New()

	first, err := svc.CompleteTriage(context.Background(), visitID, Input{
		Vitals:     Vitals{Temperature: floatPtr(38.2)},
		AssessedBy: "nurse-1",
	})
	if err != nil {
		t.Fatalf("first assessment: %v", err)
	}
	second, err := svc.CompleteTriage(context.Background(), visitID, Input{
		Vitals:     Vitals{Temperature: floatPtr(39.5)},
		AssessedBy: "nurse-2",
	})
	if err != nil {
		t.Fatalf("second assessment: %v", err)
	}

	if len(repo.assessments) != 2 {
		t.Fatalf("expected 2 rows after reassessment, got %d", len(repo.assessments))
	}
	if first.ID == second.ID {
		t.Error("expected distinct assessment rows")
	}

	latest, err := svc.Latest(context.Background(), visitID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.AssessedBy != "nurse-2" {
		t.Errorf("expected latest assessment from nurse-2, got %s", latest.AssessedBy)
	}
}

func TestLatest_NotFound(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockGate{})
	_, err := svc.Latest(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
