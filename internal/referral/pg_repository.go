package referral

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

const referralCols = `id, patient_id, referring_doctor_id, referred_doctor_id, status,
	reason_for_referral, issued_at, expiry_date, linked_appointment_id, version,
	created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var rf Referral
	err := row.Scan(
		&rf.ID,
		&rf.PatientID,
		&rf.ReferringDoctorID,
		&rf.ReferredDoctorID,
		&rf.Status,
		&rf.ReasonForReferral,
		&rf.IssuedAt,
		&rf.ExpiryDate,
		&rf.LinkedAppointmentID,
		&rf.Version,
		&rf.CreatedAt,
		&rf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &rf, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+referralCols+`
		FROM referrals
		WHERE id = $1
	`, id)
	return scanReferral(row)
}

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+referralCols+`
		FROM referrals
		WHERE linked_appointment_id = $1
	`, appointmentID)
	return scanReferral(row)
}

func (r *PgRepository) Create(ctx context.Context, rf *Referral) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO referrals (id, patient_id, referring_doctor_id, referred_doctor_id,
			status, reason_for_referral, issued_at, expiry_date, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, now(), now())
	`, rf.ID, rf.PatientID, rf.ReferringDoctorID, rf.ReferredDoctorID,
		rf.Status, rf.ReasonForReferral, rf.IssuedAt, rf.ExpiryDate)
	return err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING `+referralCols+`
	`, id, to, from, version)

	rf, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return rf, nil
}

func (r *PgRepository) LinkAppointment(ctx context.Context, id, appointmentID uuid.UUID, version int64) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET status = 'SCHEDULED',
		    linked_appointment_id = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'ACCEPTED'
		  AND linked_appointment_id IS NULL
		  AND version = $3
		RETURNING `+referralCols+`
	`, id, appointmentID, version)

	rf, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return rf, nil
}

func (r *PgRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConcurrentModification
}

func (r *PgRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]Referral, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+referralCols+`
		FROM referrals
		WHERE status IN ('PENDING', 'ACCEPTED')
		  AND expiry_date < $1
		ORDER BY expiry_date ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReferrals(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Referral, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+referralCols+`
		FROM referrals
		WHERE patient_id = $1
		ORDER BY issued_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReferrals(rows)
}

func collectReferrals(rows pgx.Rows) ([]Referral, error) {
	var result []Referral
	for rows.Next() {
		rf, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
