package triage

import (
	"context"
	"errors"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const assessmentCols = `id, visit_id, temperature, bp_systolic, bp_diastolic,
	heart_rate, respiratory_rate, spo2, gcs_eye, gcs_verbal, gcs_motor, gcs_total,
	chief_complaint, triage_level, triage_score, assessed_by, assessed_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.VisitID,
		&a.Vitals.Temperature, &a.Vitals.BPSystolic, &a.Vitals.BPDiastolic,
		&a.Vitals.HeartRate, &a.Vitals.RespiratoryRate, &a.Vitals.SpO2,
		&a.Vitals.GCSEye, &a.Vitals.GCSVerbal, &a.Vitals.GCSMotor, &a.Vitals.GCSTotal,
		&a.ChiefComplaint, &a.TriageLevel, &a.TriageScore, &a.AssessedBy, &a.AssessedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO triage_assessments (id, visit_id, temperature, bp_systolic, bp_diastolic,
			heart_rate, respiratory_rate, spo2, gcs_eye, gcs_verbal, gcs_motor, gcs_total,
			chief_complaint, triage_level, triage_score, assessed_by, assessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		a.ID, a.VisitID,
		a.Vitals.Temperature, a.Vitals.BPSystolic, a.Vitals.BPDiastolic,
		a.Vitals.HeartRate, a.Vitals.RespiratoryRate, a.Vitals.SpO2,
		a.Vitals.GCSEye, a.Vitals.GCSVerbal, a.Vitals.GCSMotor, a.Vitals.GCSTotal,
		a.ChiefComplaint, a.TriageLevel, a.TriageScore, a.AssessedBy, a.AssessedAt)
	return err
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Assessment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assessmentCols+` FROM triage_assessments WHERE visit_id = $1 ORDER BY assessed_at DESC`,
		visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) LatestByVisit(ctx context.Context, visitID uuid.UUID) (*Assessment, error) {
	a, err := scanAssessment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM triage_assessments WHERE visit_id = $1 ORDER BY assessed_at DESC LIMIT 1`,
		visitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "no triage assessment for visit %s", visitID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
