package visit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinika/opd/internal/platform/db"
	"github.com/klinika/opd/pkg/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `id, patient_id, physician_id, scheduled_at, status, triage_status,
	chief_complaint, queue_number, queue_date, started_at, completed_at, cancelled_at,
	cancel_reason, consultation_type, branch_id, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.PhysicianID, &v.ScheduledAt, &v.Status,
		&v.TriageStatus, &v.ChiefComplaint, &v.QueueNumber, &v.QueueDate,
		&v.StartedAt, &v.CompletedAt, &v.CancelledAt, &v.CancelReason,
		&v.ConsultationType, &v.BranchID, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (id, patient_id, physician_id, scheduled_at, status, triage_status,
			chief_complaint, queue_number, queue_date, consultation_type, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		v.ID, v.PatientID, v.PhysicianID, v.ScheduledAt, v.Status, v.TriageStatus,
		v.ChiefComplaint, v.QueueNumber, v.QueueDate, v.ConsultationType, v.BranchID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "visit %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "visit %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET physician_id=$2, status=$3, triage_status=$4, chief_complaint=$5,
			queue_number=$6, queue_date=$7, started_at=$8, completed_at=$9,
			cancelled_at=$10, cancel_reason=$11, consultation_type=$12, updated_at=NOW()
		WHERE id = $1`,
		v.ID, v.PhysicianID, v.Status, v.TriageStatus, v.ChiefComplaint,
		v.QueueNumber, v.QueueDate, v.StartedAt, v.CompletedAt,
		v.CancelledAt, v.CancelReason, v.ConsultationType)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Visit, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(clause string, val interface{}) {
		n++
		args = append(args, val)
		where += clause
	}
	if f.Status != "" {
		add(` AND status = $`+strconv.Itoa(n+1), f.Status)
	}
	if f.PatientID != uuid.Nil {
		add(` AND patient_id = $`+strconv.Itoa(n+1), f.PatientID)
	}
	if f.Day != nil {
		add(` AND scheduled_at::date = $`+strconv.Itoa(n+1), f.Day.Format("2006-01-02"))
	}
	if f.BranchID != "" {
		add(` AND branch_id = $`+strconv.Itoa(n+1), f.BranchID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits`+where+
			` ORDER BY scheduled_at DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListQueue(ctx context.Context, day time.Time) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits
		 WHERE queue_date = $1 AND status IN ($2, $3)
		 ORDER BY queue_number ASC`,
		day.Format("2006-01-02"), StatusWaiting, StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) HasActiveVisit(ctx context.Context, patientID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM visits
			WHERE patient_id = $1 AND scheduled_at::date = $2
			  AND status NOT IN ($3, $4)
		)`,
		patientID, day.Format("2006-01-02"), StatusCompleted, StatusCancelled).Scan(&exists)
	return exists, err
}

func (r *repoPG) AssignQueueNumber(ctx context.Context, id uuid.UUID, day time.Time, number int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE visits SET queue_date = $2, queue_number = $3, updated_at = NOW() WHERE id = $1`,
		id, day.Format("2006-01-02"), number)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrQueueSlotTaken
	}
	return err
}

func (r *repoPG) NextQueueNumber(ctx context.Context, day time.Time) (int, error) {
	var next int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(queue_number), 0) + 1 FROM visits WHERE queue_date = $1`,
		day.Format("2006-01-02")).Scan(&next)
	return next, err
}

// -- SOAP notes --

type soapRepoPG struct{ pool *pgxpool.Pool }

func NewSOAPRepoPG(pool *pgxpool.Pool) SOAPRepository { return &soapRepoPG{pool: pool} }

func (r *soapRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *soapRepoPG) Upsert(ctx context.Context, n *SOAPNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO soap_notes (id, visit_id, subjective, objective, assessment, plan, author_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (visit_id) DO UPDATE SET
			subjective = EXCLUDED.subjective,
			objective = EXCLUDED.objective,
			assessment = EXCLUDED.assessment,
			plan = EXCLUDED.plan,
			author_id = EXCLUDED.author_id,
			updated_at = NOW()`,
		n.ID, n.VisitID, n.Subjective, n.Objective, n.Assessment, n.Plan, n.AuthorID)
	return err
}

func (r *soapRepoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*SOAPNote, error) {
	var n SOAPNote
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, visit_id, subjective, objective, assessment, plan, author_id, created_at, updated_at
		FROM soap_notes WHERE visit_id = $1`, visitID).
		Scan(&n.ID, &n.VisitID, &n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
			&n.AuthorID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "no soap note for visit %s", visitID)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
