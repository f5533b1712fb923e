package prescription

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

const prescriptionCols = `id, encounter_id, patient_id, drug_name, dosage, frequency,
	duration, quantity, unit_price, status, fingerprint, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.EncounterID, &p.PatientID, &p.DrugName, &p.Dosage,
		&p.Frequency, &p.Duration, &p.Quantity, &p.UnitPrice, &p.Status,
		&p.Fingerprint, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) InsertOrGet(ctx context.Context, p *Prescription) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	got, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, encounter_id, patient_id, drug_name, dosage,
			frequency, duration, quantity, unit_price, status, fingerprint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (encounter_id, fingerprint) DO NOTHING
		RETURNING `+prescriptionCols,
		p.ID, p.EncounterID, p.PatientID, p.DrugName, p.Dosage,
		p.Frequency, p.Duration, p.Quantity, p.UnitPrice, p.Status, p.Fingerprint))
	if err == nil {
		*p = *got
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	// Conflict: the encounter already has this exact prescription.
	got, err = scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions
		 WHERE encounter_id = $1 AND fingerprint = $2`,
		p.EncounterID, p.Fingerprint))
	if err != nil {
		return false, err
	}
	*p = *got
	return false, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "prescription %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions
		 WHERE encounter_id = $1 ORDER BY created_at ASC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
