package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/curalink/scheduling/internal/redis"
)

const availabilityPageSize = 100

// Store owns all TimeSlot mutation. Reserve is the mutual-exclusion
// primitive: for any slot, at most one concurrent caller wins the FREE->HELD
// transition; everyone else gets ErrSlotUnavailable.
type Store struct {
	repo   Repository
	locker redisclient.Locker
	now    func() time.Time
	log    zerolog.Logger
}

func NewStore(repo Repository, locker redisclient.Locker, log zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		locker: locker,
		now:    time.Now,
		log:    log.With().Str("component", "slot-store").Logger(),
	}
}

// WithClock overrides the store's clock. Tests use this to drive hold expiry.
func (st *Store) WithClock(now func() time.Time) *Store {
	st.now = now
	return st
}

func (st *Store) Get(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return st.repo.GetByID(ctx, id)
}

// Reserve holds a FREE slot for holderID until now+ttl. The Redis lock
// serializes contenders for the same slot; the repository CAS is the
// authoritative arbiter if the lock is bypassed or lapses.
func (st *Store) Reserve(ctx context.Context, doctorID, slotID, holderID uuid.UUID, ttl time.Duration) (*TimeSlot, error) {
	s, err := st.repo.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if s.DoctorID != doctorID {
		return nil, ErrSlotNotFound
	}

	now := st.now()
	if !s.Available(now) {
		return nil, ErrSlotUnavailable
	}

	var held *TimeSlot
	err = st.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		var holdErr error
		held, holdErr = st.repo.Hold(lockCtx, slotID, holderID, now.Add(ttl), now)
		return holdErr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	st.log.Debug().
		Str("slot_id", slotID.String()).
		Str("holder_id", holderID.String()).
		Time("held_until", now.Add(ttl)).
		Msg("slot held")

	return held, nil
}

// Commit finalizes a live hold, HELD->BOOKED.
func (st *Store) Commit(ctx context.Context, slotID, holderID uuid.UUID) (*TimeSlot, error) {
	s, err := st.repo.Book(ctx, slotID, holderID, st.now())
	if err != nil {
		return nil, err
	}

	st.log.Debug().
		Str("slot_id", slotID.String()).
		Str("holder_id", holderID.String()).
		Msg("slot booked")

	return s, nil
}

// Release reverts a hold or a booking back to FREE. Idempotent.
func (st *Store) Release(ctx context.Context, slotID, holderID uuid.UUID) error {
	_, err := st.repo.Free(ctx, slotID, holderID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil
		}
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// ReleaseLapsedHolds reverts every lapsed hold to FREE. Called by the expiry
// sweep; per-slot failures are logged and do not abort the pass.
func (st *Store) ReleaseLapsedHolds(ctx context.Context, limit int) (int, error) {
	now := st.now()
	lapsed, err := st.repo.FindLapsedHolds(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find lapsed holds: %w", err)
	}

	released := 0
	for _, s := range lapsed {
		if s.HeldBy == nil {
			continue
		}
		if _, err := st.repo.Free(ctx, s.ID, *s.HeldBy); err != nil {
			st.log.Error().Err(err).Str("slot_id", s.ID.String()).Msg("failed to release lapsed hold")
			continue
		}
		released++
	}

	return released, nil
}

// ArchivePast drops unbooked slots whose window has closed.
func (st *Store) ArchivePast(ctx context.Context) (int64, error) {
	return st.repo.ArchivePast(ctx, st.now())
}

// QueryAvailable returns a restartable cursor over FREE slots for the doctor
// in [from, to), filtered by mode, ordered by start time. Pages are fetched
// lazily as the cursor advances.
func (st *Store) QueryAvailable(doctorID uuid.UUID, from, to time.Time, mode ConsultationMode) *AvailabilityCursor {
	return &AvailabilityCursor{
		store:    st,
		doctorID: doctorID,
		from:     from,
		to:       to,
		mode:     mode,
	}
}

// AvailabilityCursor walks available slots in start-time order. Not safe for
// concurrent use; Reset rewinds it to the start of the range.
type AvailabilityCursor struct {
	store    *Store
	doctorID uuid.UUID
	from     time.Time
	to       time.Time
	mode     ConsultationMode

	page     []TimeSlot
	pageIdx  int
	after    time.Time
	drained  bool
	primed   bool
}

// Next returns the next available slot, or (nil, nil) once the range is
// exhausted.
func (c *AvailabilityCursor) Next(ctx context.Context) (*TimeSlot, error) {
	for {
		if c.pageIdx < len(c.page) {
			s := c.page[c.pageIdx]
			c.pageIdx++
			c.after = s.StartTime
			return &s, nil
		}
		if c.drained {
			return nil, nil
		}
		if err := c.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *AvailabilityCursor) fetch(ctx context.Context) error {
	after := c.after
	if !c.primed {
		// First page: include slots starting exactly at from.
		after = c.from.Add(-time.Nanosecond)
		c.primed = true
	}

	page, err := c.store.repo.ListAvailable(ctx, c.doctorID, c.from, c.to, c.mode, after, c.store.now(), availabilityPageSize)
	if err != nil {
		return fmt.Errorf("list available slots: %w", err)
	}

	c.page = page
	c.pageIdx = 0
	if len(page) < availabilityPageSize {
		c.drained = true
	}
	return nil
}

// Collect drains the cursor into a slice, capped at max entries (<=0 means
// no cap).
func (c *AvailabilityCursor) Collect(ctx context.Context, max int) ([]TimeSlot, error) {
	var out []TimeSlot
	for {
		s, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return out, nil
		}
		out = append(out, *s)
		if max > 0 && len(out) >= max {
			return out, nil
		}
	}
}

// Reset rewinds the cursor so the sequence can be replayed from the start.
func (c *AvailabilityCursor) Reset() {
	c.page = nil
	c.pageIdx = 0
	c.after = time.Time{}
	c.drained = false
	c.primed = false
}
