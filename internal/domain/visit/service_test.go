package visit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/klinika/opd/internal/platform/directory"
	"github.com/klinika/opd/pkg/apperr"
)

type mockRepo struct {
	visits        map[uuid.UUID]*Visit
	queueByDay    map[string]map[int]uuid.UUID
	failAssigns   int // fail this many AssignQueueNumber calls with ErrQueueSlotTaken
	assignCalls   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		visits:     make(map[uuid.UUID]*Visit),
		queueByDay: make(map[string]map[int]uuid.UUID),
	}
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	copied := *v
	m.visits[v.ID] = &copied
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "visit %s not found", id)
	}
	copied := *v
	return &copied, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, v *Visit) error {
	copied := *v
	m.visits[v.ID] = &copied
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.visits, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	var out []*Visit
	for _, v := range m.visits {
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.PatientID != uuid.Nil && v.PatientID != f.PatientID {
			continue
		}
		out = append(out, v)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListQueue(_ context.Context, day time.Time) ([]*Visit, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.QueueDate != nil && sameDay(*v.QueueDate, day) &&
			(v.Status == StatusWaiting || v.Status == StatusInProgress) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockRepo) HasActiveVisit(_ context.Context, patientID uuid.UUID, day time.Time) (bool, error) {
	for _, v := range m.visits {
		if v.PatientID == patientID && sameDay(v.ScheduledAt, day) && !IsTerminal(v.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) AssignQueueNumber(_ context.Context, id uuid.UUID, day time.Time, number int) error {
	m.assignCalls++
	if m.failAssigns > 0 {
		m.failAssigns--
		return ErrQueueSlotTaken
	}
	key := day.Format("2006-01-02")
	if m.queueByDay[key] == nil {
		m.queueByDay[key] = make(map[int]uuid.UUID)
	}
	if _, taken := m.queueByDay[key][number]; taken {
		return ErrQueueSlotTaken
	}
	m.queueByDay[key][number] = id
	if v, ok := m.visits[id]; ok {
		d := day
		v.QueueNumber = &number
		v.QueueDate = &d
	}
	return nil
}

func (m *mockRepo) NextQueueNumber(_ context.Context, day time.Time) (int, error) {
	key := day.Format("2006-01-02")
	max := 0
	for n := range m.queueByDay[key] {
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

type mockSOAPRepo struct {
	notes map[uuid.UUID]*SOAPNote
}

func newMockSOAPRepo() *mockSOAPRepo {
	return &mockSOAPRepo{notes: make(map[uuid.UUID]*SOAPNote)}
}

func (m *mockSOAPRepo) Upsert(_ context.Context, n *SOAPNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	copied := *n
	m.notes[n.VisitID] = &copied
	return nil
}

func (m *mockSOAPRepo) GetByVisit(_ context.Context, visitID uuid.UUID) (*SOAPNote, error) {
	n, ok := m.notes[visitID]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "no soap note for visit %s", visitID)
	}
	return n, nil
}

type mockPatients struct {
	known map[uuid.UUID]bool
}

func (m *mockPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.known[id], nil
}

// mockPhysicians resolves every id except the ones marked unknown.
type mockPhysicians struct {
	unknown map[uuid.UUID]bool
}

func (m *mockPhysicians) GetByID(_ context.Context, id uuid.UUID) (*directory.Physician, error) {
	if m.unknown[id] {
		return nil, apperr.E(apperr.NotFound, "physician %s not found", id)
	}
	return &directory.Physician{ID: id}, nil
}

type mockPublisher struct {
	events []string
}

func (m *mockPublisher) Publish(_ context.Context, eventType, _ string, _ interface{}) int {
	m.events = append(m.events, eventType)
	return 0
}

func (m *mockPublisher) countOf(eventType string) int {
	n := 0
	for _, e := range m.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func passthroughRunner(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	repo       *mockRepo
	soap       *mockSOAPRepo
	patients   *mockPatients
	physicians *mockPhysicians
	publisher  *mockPublisher
	svc        *Service
	patientID  uuid.UUID
}

func newFixture() *fixture {
	patientID := uuid.New()
	f := &fixture{
		repo:       newMockRepo(),
		soap:       newMockSOAPRepo(),
		patients:   &mockPatients{known: map[uuid.UUID]bool{patientID: true}},
		physicians: &mockPhysicians{unknown: make(map[uuid.UUID]bool)},
		publisher:  &mockPublisher{},
		patientID:  patientID,
	}
	f.svc = NewService(f.repo, f.soap, f.patients, f.physicians, f.publisher, passthroughRunner, "main")
	return f
}

func (f *fixture) registerToday(t *testing.T) *Visit {
	t.Helper()
	v, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.patientID,
		ScheduledAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return v
}

func (f *fixture) newPatient() uuid.UUID {
	id := uuid.New()
	f.patients.known[id] = true
	return id
}

func TestRegister_TodayGetsFirstQueueNumber(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	if v.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", v.Status)
	}
	if v.QueueNumber == nil || *v.QueueNumber != 1 {
		t.Errorf("expected queue number 1, got %v", v.QueueNumber)
	}
	if v.TriageStatus != TriagePending {
		t.Errorf("expected triage pending, got %s", v.TriageStatus)
	}
}

func TestRegister_QueueNumbersAreSequential(t *testing.T) {
	f := newFixture()
	f.registerToday(t)

	second, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.newPatient(),
		ScheduledAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.QueueNumber == nil || *second.QueueNumber != 2 {
		t.Errorf("expected queue number 2, got %v", second.QueueNumber)
	}
}

func TestRegister_FutureDateStaysScheduled(t *testing.T) {
	f := newFixture()
	v, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.patientID,
		ScheduledAt: time.Now().AddDate(0, 0, 3),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", v.Status)
	}
	if v.QueueNumber != nil {
		t.Errorf("expected no queue number for future visit, got %d", *v.QueueNumber)
	}
}

func TestRegister_DuplicateActiveVisit(t *testing.T) {
	f := newFixture()
	f.registerToday(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.patientID,
		ScheduledAt: time.Now(),
	})
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict for duplicate active visit, got %v", err)
	}
}

func TestRegister_UnknownPatient(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   uuid.New(),
		ScheduledAt: time.Now(),
	})
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected not found for unknown patient, got %v", err)
	}
}

func TestCheckIn_ScheduledVisit(t *testing.T) {
	f := newFixture()
	v, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.patientID,
		ScheduledAt: time.Now().AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	checked, err := f.svc.CheckIn(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if checked.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", checked.Status)
	}
	if checked.QueueNumber == nil || *checked.QueueNumber != 1 {
		t.Errorf("expected queue number 1, got %v", checked.QueueNumber)
	}
}

func TestCheckIn_AlreadyWaiting(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	_, err := f.svc.CheckIn(context.Background(), v.ID)
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict checking in a waiting visit, got %v", err)
	}
}

func TestCheckIn_RetriesQueueRace(t *testing.T) {
	f := newFixture()
	f.repo.failAssigns = 1
	v := f.registerToday(t)

	if v.QueueNumber == nil {
		t.Fatal("expected queue number after retry")
	}
	if f.repo.assignCalls != 2 {
		t.Errorf("expected 2 assign attempts, got %d", f.repo.assignCalls)
	}
}

func TestCheckIn_GivesUpAfterRetry(t *testing.T) {
	f := newFixture()
	f.repo.failAssigns = 2

	_, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.patientID,
		ScheduledAt: time.Now(),
	})
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict after exhausted retries, got %v", err)
	}
}

func TestStartConsultation(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	physicianID := uuid.New()

	started, err := f.svc.StartConsultation(context.Background(), v.ID, physicianID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", started.Status)
	}
	if started.PhysicianID == nil || *started.PhysicianID != physicianID {
		t.Error("expected physician to be recorded")
	}
	if started.StartedAt == nil {
		t.Error("expected started_at timestamp")
	}
}

func TestStartConsultation_UnknownPhysician(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	physicianID := uuid.New()
	f.physicians.unknown[physicianID] = true

	_, err := f.svc.StartConsultation(context.Background(), v.ID, physicianID)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, _ := f.svc.Get(context.Background(), v.ID)
	if got.Status != StatusWaiting {
		t.Errorf("expected visit untouched in waiting, got %s", got.Status)
	}
}

func TestCompleteConsultation_PublishesOnce(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	if _, err := f.svc.StartConsultation(context.Background(), v.ID, uuid.New()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done, err := f.svc.CompleteConsultation(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at timestamp")
	}

	// Retry: same result, no second event.
	again, err := f.svc.CompleteConsultation(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("retry complete: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Errorf("expected completed on retry, got %s", again.Status)
	}
	if got := f.publisher.countOf("consultation.completed"); got != 1 {
		t.Errorf("expected exactly 1 completion event, got %d", got)
	}
}

func TestCompleteConsultation_NotStarted(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	_, err := f.svc.CompleteConsultation(context.Background(), v.ID)
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict completing a waiting visit, got %v", err)
	}
	if len(f.publisher.events) != 0 {
		t.Error("expected no events published")
	}
}

func TestCancel_NonTerminal(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	cancelled, err := f.svc.Cancel(context.Background(), v.ID, "patient left")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "patient left" {
		t.Error("expected cancel reason recorded")
	}
}

func TestCancel_CompletedRefused(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	if _, err := f.svc.StartConsultation(context.Background(), v.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CompleteConsultation(context.Background(), v.ID); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Cancel(context.Background(), v.ID, "mistake")
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict cancelling a completed visit, got %v", err)
	}
}

func TestMarkTriageCompleted_RequiresWaiting(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	if err := f.svc.MarkTriageCompleted(context.Background(), v.ID); err != nil {
		t.Fatalf("expected triage to complete on a waiting visit: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), v.ID)
	if got.TriageStatus != TriageCompleted {
		t.Errorf("expected triage completed, got %s", got.TriageStatus)
	}

	// A second attempt conflicts: the sub-status already moved.
	if err := f.svc.MarkTriageCompleted(context.Background(), v.ID); !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict on second triage completion, got %v", err)
	}
}

func TestMarkTriageCompleted_InProgressRefused(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	if _, err := f.svc.StartConsultation(context.Background(), v.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}

	err := f.svc.MarkTriageCompleted(context.Background(), v.ID)
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict once consultation started, got %v", err)
	}
}

func TestSaveSOAP_LockedWhenCompleted(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)
	if _, err := f.svc.StartConsultation(context.Background(), v.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}

	note := &SOAPNote{Subjective: "headache", AuthorID: "dr-1"}
	if err := f.svc.SaveSOAP(context.Background(), v.ID, note); err != nil {
		t.Fatalf("save soap: %v", err)
	}

	if _, err := f.svc.CompleteConsultation(context.Background(), v.ID); err != nil {
		t.Fatal(err)
	}

	err := f.svc.SaveSOAP(context.Background(), v.ID, &SOAPNote{Subjective: "amended"})
	if !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected consultation locked, got %v", err)
	}

	got, err := f.svc.GetSOAP(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get soap: %v", err)
	}
	if got.Subjective != "headache" {
		t.Errorf("expected original note preserved, got %q", got.Subjective)
	}
}

func TestEnsureEditable(t *testing.T) {
	f := newFixture()
	v := f.registerToday(t)

	if err := f.svc.EnsureEditable(context.Background(), v.ID); err != nil {
		t.Errorf("expected waiting visit to be editable: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), v.ID, "no-show"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.EnsureEditable(context.Background(), v.ID); !apperr.Is(err, apperr.StateConflict) {
		t.Errorf("expected state conflict for cancelled visit, got %v", err)
	}
}

func TestQueue_ListsWaitingAndInProgress(t *testing.T) {
	f := newFixture()
	v1 := f.registerToday(t)

	v2, err := f.svc.Register(context.Background(), RegisterInput{
		PatientID:   f.newPatient(),
		ScheduledAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartConsultation(context.Background(), v1.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}

	queue, err := f.svc.Queue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("expected 2 visits in queue, got %d", len(queue))
	}
	_ = v2
}

func TestList_RejectsUnknownStatusFilter(t *testing.T) {
	f := newFixture()

	_, _, err := f.svc.List(context.Background(), ListFilter{Status: "done"}, 20, 0)
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	if _, _, err := f.svc.List(context.Background(), ListFilter{Status: StatusWaiting}, 20, 0); err != nil {
		t.Fatalf("valid status filter: %v", err)
	}
}
