package appointment

import (
	"context"
	"errors"
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

const apptCols = `id, patient_id, doctor_id, slot_id, status, mode, reason_for_visit,
	payment_intent_id, amount, hold_expires_at, version, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Status,
		&a.Mode,
		&a.ReasonForVisit,
		&a.PaymentIntentID,
		&a.Amount,
		&a.HoldExpiresAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetBySlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE slot_id = $1
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, status, mode,
			reason_for_visit, payment_intent_id, amount, hold_expires_at, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, now(), now())
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Status, a.Mode,
		a.ReasonForVisit, a.PaymentIntentID, a.Amount, a.HoldExpiresAt)
	return err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING `+apptCols+`
	`, id, to, from, version)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string, version int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_intent_id = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $3
		RETURNING `+apptCols+`
	`, id, intentID, version)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return a, nil
}

// classifyMiss decides whether a lost CAS means a missing row or concurrent
// modification.
func (r *PgRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConcurrentModification
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE status IN ('PENDING', 'PENDING_PAYMENT')
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
		ORDER BY hold_expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
