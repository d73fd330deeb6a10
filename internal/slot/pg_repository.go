package slot

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

const slotCols = `id, doctor_id, start_time, end_time, duration_minutes, mode,
	reservation_state, held_by, held_until, version, created_at, updated_at`

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMinutes,
		&s.Mode,
		&s.State,
		&s.HeldBy,
		&s.HeldUntil,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) Hold(ctx context.Context, slotID, holderID uuid.UUID, heldUntil, now time.Time) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET reservation_state = 'HELD',
		    held_by = $2,
		    held_until = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND (reservation_state = 'FREE'
		       OR (reservation_state = 'HELD' AND held_until < $4))
		RETURNING `+slotCols+`
	`, slotID, holderID, heldUntil, now)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// No row matched: either the slot does not exist or the CAS lost.
			if _, getErr := r.GetByID(ctx, slotID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) Book(ctx context.Context, slotID, holderID uuid.UUID, now time.Time) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET reservation_state = 'BOOKED',
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND reservation_state = 'HELD'
		  AND held_by = $2
		  AND held_until > $3
		RETURNING `+slotCols+`
	`, slotID, holderID, now)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, r.classifyBookFailure(ctx, slotID, holderID, now)
		}
		return nil, err
	}
	return s, nil
}

// classifyBookFailure turns a lost Book CAS into the precise hold error.
func (r *PgRepository) classifyBookFailure(ctx context.Context, slotID, holderID uuid.UUID, now time.Time) error {
	s, err := r.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if s.State == StateHeld && s.HeldBy != nil && *s.HeldBy == holderID {
		return ErrHoldExpired
	}
	if s.State == StateHeld {
		return ErrHoldMismatch
	}
	return ErrSlotUnavailable
}

func (r *PgRepository) Free(ctx context.Context, slotID, holderID uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET reservation_state = 'FREE',
		    held_by = NULL,
		    held_until = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND reservation_state IN ('HELD', 'BOOKED')
		  AND held_by = $2
		RETURNING `+slotCols+`
	`, slotID, holderID)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// Idempotent: the slot may already be FREE or the hold passed on.
			return r.GetByID(ctx, slotID)
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time, mode ConsultationMode, afterStart time.Time, now time.Time, limit int) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		  AND mode = $4
		  AND start_time > $5
		  AND (reservation_state = 'FREE'
		       OR (reservation_state = 'HELD' AND held_until < $6))
		ORDER BY start_time ASC
		LIMIT $7
	`, doctorID, from, to, mode, afterStart, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) FindLapsedHolds(ctx context.Context, now time.Time, limit int) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE reservation_state = 'HELD'
		  AND held_until < $1
		ORDER BY held_until ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]TimeSlot, error) {
	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Insert(ctx context.Context, s *TimeSlot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_slots (id, doctor_id, start_time, end_time, duration_minutes,
			mode, reservation_state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'FREE', 0, now(), now())
	`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.DurationMinutes, s.Mode)
	return err
}

func (r *PgRepository) ArchivePast(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM time_slots
		WHERE end_time < $1
		  AND reservation_state <> 'BOOKED'
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
