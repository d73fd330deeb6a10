package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const rxCols = `id, appointment_id, status, items, expires_at, version, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var items []byte
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.Status,
		&items,
		&p.ExpiresAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.Items); err != nil {
			return nil, fmt.Errorf("decode prescription items: %w", err)
		}
	}
	return &p, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+rxCols+`
		FROM prescriptions
		WHERE id = $1
	`, id)
	return scanPrescription(row)
}

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+rxCols+`
		FROM prescriptions
		WHERE appointment_id = $1
	`, appointmentID)
	return scanPrescription(row)
}

func (r *PgRepository) Create(ctx context.Context, p *Prescription) (*Prescription, error) {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return nil, fmt.Errorf("encode prescription items: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO prescriptions (id, appointment_id, status, items, expires_at,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())
		ON CONFLICT (appointment_id) DO NOTHING
	`, p.ID, p.AppointmentID, p.Status, items, p.ExpiresAt)
	if err != nil {
		return nil, err
	}

	// The conflict path means another creation won; return the winner.
	return r.GetByAppointment(ctx, p.AppointmentID)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING `+rxCols+`
	`, id, to, from, version)

	p, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) SetItems(ctx context.Context, id uuid.UUID, items []Item, version int64) (*Prescription, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode prescription items: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE prescriptions
		SET items = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $3
		RETURNING `+rxCols+`
	`, id, encoded, version)

	p, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConcurrentModification
}

func (r *PgRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]Prescription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rxCols+`
		FROM prescriptions
		WHERE status IN ('CREATED', 'READY_FOR_PROCESSING', 'PROCESSING')
		  AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
