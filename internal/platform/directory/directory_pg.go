package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinika/opd/pkg/apperr"
)

type patientDirPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirPG{pool: pool}
}

func (d *patientDirPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type physicianDirPG struct{ pool *pgxpool.Pool }

func NewPhysicianDirectoryPG(pool *pgxpool.Pool) PhysicianDirectory {
	return &physicianDirPG{pool: pool}
}

func (d *physicianDirPG) GetByID(ctx context.Context, id uuid.UUID) (*Physician, error) {
	var p Physician
	err := d.pool.QueryRow(ctx,
		`SELECT id, code, name FROM physicians WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "physician %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
