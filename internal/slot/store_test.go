package slot

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/curalink/scheduling/internal/redis"
)

// memRepo is an in-memory Repository with the same conditional-write
// semantics as the Postgres implementation.
type memRepo struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*TimeSlot
}

func newMemRepo() *memRepo {
	return &memRepo{slots: make(map[uuid.UUID]*TimeSlot)}
}

func (r *memRepo) clone(s *TimeSlot) *TimeSlot {
	cp := *s
	if s.HeldBy != nil {
		v := *s.HeldBy
		cp.HeldBy = &v
	}
	if s.HeldUntil != nil {
		v := *s.HeldUntil
		cp.HeldUntil = &v
	}
	return &cp
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return r.clone(s), nil
}

func (r *memRepo) Hold(_ context.Context, slotID, holderID uuid.UUID, heldUntil, now time.Time) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !s.Available(now) {
		return nil, ErrSlotUnavailable
	}
	s.State = StateHeld
	h := holderID
	u := heldUntil
	s.HeldBy = &h
	s.HeldUntil = &u
	s.Version++
	return r.clone(s), nil
}

func (r *memRepo) Book(_ context.Context, slotID, holderID uuid.UUID, now time.Time) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !s.HeldByHolder(holderID, now) {
		if s.State == StateHeld && s.HeldBy != nil && *s.HeldBy == holderID {
			return nil, ErrHoldExpired
		}
		if s.State == StateHeld {
			return nil, ErrHoldMismatch
		}
		return nil, ErrSlotUnavailable
	}
	s.State = StateBooked
	s.Version++
	return r.clone(s), nil
}

func (r *memRepo) Free(_ context.Context, slotID, holderID uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if (s.State == StateHeld || s.State == StateBooked) && s.HeldBy != nil && *s.HeldBy == holderID {
		s.State = StateFree
		s.HeldBy = nil
		s.HeldUntil = nil
		s.Version++
	}
	return r.clone(s), nil
}

func (r *memRepo) ListAvailable(_ context.Context, doctorID uuid.UUID, from, to time.Time, mode ConsultationMode, afterStart time.Time, now time.Time, limit int) ([]TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TimeSlot
	for _, s := range r.slots {
		if s.DoctorID != doctorID || s.Mode != mode {
			continue
		}
		if s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		if !s.StartTime.After(afterStart) {
			continue
		}
		if !s.Available(now) {
			continue
		}
		out = append(out, *r.clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) FindLapsedHolds(_ context.Context, now time.Time, limit int) ([]TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TimeSlot
	for _, s := range r.slots {
		if s.HoldLapsed(now) {
			out = append(out, *r.clone(s))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Insert(_ context.Context, s *TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.State = StateFree
	r.slots[s.ID] = &cp
	return nil
}

func (r *memRepo) ArchivePast(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.slots {
		if s.EndTime.Before(now) && s.State != StateBooked {
			delete(r.slots, id)
			n++
		}
	}
	return n, nil
}

func testStore(t *testing.T, base time.Time) (*Store, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	st := NewStore(repo, redisclient.NoopLocker{}, zerolog.Nop()).WithClock(func() time.Time { return base })
	return st, repo
}

func insertSlot(t *testing.T, repo *memRepo, doctorID uuid.UUID, start time.Time, mode ConsultationMode) uuid.UUID {
	t.Helper()
	s := &TimeSlot{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		DurationMinutes: 30,
		Mode:            mode,
	}
	if err := repo.Insert(context.Background(), s); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
	return s.ID
}

func TestReserveMutualExclusion(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, base)
	doctorID := uuid.New()
	slotID := insertSlot(t, repo, doctorID, base.Add(10*24*time.Hour), ModeVirtual)

	const contenders = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	losses := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Reserve(context.Background(), doctorID, slotID, uuid.New(), 10*time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrSlotUnavailable:
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (losses=%d)", wins, losses)
	}
	if losses != contenders-1 {
		t.Fatalf("expected %d losers, got %d", contenders-1, losses)
	}
}

func TestReserveLapsedHoldIsReusable(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()
	slotID := insertSlot(t, repo, doctorID, now.Add(10*24*time.Hour), ModeVirtual)

	first := uuid.New()
	if _, err := st.Reserve(context.Background(), doctorID, slotID, first, 10*time.Minute); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	second := uuid.New()
	if _, err := st.Reserve(context.Background(), doctorID, slotID, second, 10*time.Minute); err != ErrSlotUnavailable {
		t.Fatalf("expected ErrSlotUnavailable while hold is live, got %v", err)
	}

	// Move past the hold deadline; the slot behaves as FREE again.
	now = now.Add(11 * time.Minute)
	st.WithClock(func() time.Time { return now })

	held, err := st.Reserve(context.Background(), doctorID, slotID, second, 10*time.Minute)
	if err != nil {
		t.Fatalf("reserve after lapse: %v", err)
	}
	if held.HeldBy == nil || *held.HeldBy != second {
		t.Fatalf("hold not transferred to second holder")
	}

	// The original holder can no longer commit.
	if _, err := st.Commit(context.Background(), slotID, first); err != ErrHoldMismatch {
		t.Fatalf("expected ErrHoldMismatch for stale holder, got %v", err)
	}
}

func TestCommitAfterHoldLapse(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()
	slotID := insertSlot(t, repo, doctorID, now.Add(10*24*time.Hour), ModeVirtual)

	holder := uuid.New()
	if _, err := st.Reserve(context.Background(), doctorID, slotID, holder, 10*time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	now = now.Add(time.Hour)
	st.WithClock(func() time.Time { return now })

	if _, err := st.Commit(context.Background(), slotID, holder); err != ErrHoldExpired {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()
	slotID := insertSlot(t, repo, doctorID, now.Add(10*24*time.Hour), ModeVirtual)

	holder := uuid.New()
	if _, err := st.Reserve(context.Background(), doctorID, slotID, holder, 10*time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := st.Release(context.Background(), slotID, holder); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	s, err := st.Get(context.Background(), slotID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.State != StateFree {
		t.Fatalf("expected FREE after release, got %s", s.State)
	}
}

func TestReleaseLapsedHolds(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()

	for i := 0; i < 5; i++ {
		slotID := insertSlot(t, repo, doctorID, now.Add(time.Duration(10+i)*24*time.Hour), ModeVirtual)
		if _, err := st.Reserve(context.Background(), doctorID, slotID, uuid.New(), 10*time.Minute); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	now = now.Add(time.Hour)
	st.WithClock(func() time.Time { return now })

	released, err := st.ReleaseLapsedHolds(context.Background(), 100)
	if err != nil {
		t.Fatalf("release lapsed: %v", err)
	}
	if released != 5 {
		t.Fatalf("expected 5 released, got %d", released)
	}

	// A second sweep finds nothing.
	released, err = st.ReleaseLapsedHolds(context.Background(), 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected 0 on second sweep, got %d", released)
	}
}

func TestAvailabilityCursorOrderingAndReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()
	from := now.Add(10 * 24 * time.Hour)

	// More slots than one page so the cursor has to fetch repeatedly.
	const total = 250
	for i := 0; i < total; i++ {
		insertSlot(t, repo, doctorID, from.Add(time.Duration(i)*30*time.Minute), ModeVirtual)
	}
	// Different doctor and different mode must not leak in.
	insertSlot(t, repo, uuid.New(), from.Add(time.Minute), ModeVirtual)
	insertSlot(t, repo, doctorID, from.Add(time.Minute), ModePhysical)

	cur := st.QueryAvailable(doctorID, from, from.Add(30*24*time.Hour), ModeVirtual)

	got, err := cur.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != total {
		t.Fatalf("expected %d slots, got %d", total, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartTime.Before(got[i-1].StartTime) {
			t.Fatalf("slots out of order at index %d", i)
		}
	}

	cur.Reset()
	again, err := cur.Collect(context.Background(), 10)
	if err != nil {
		t.Fatalf("collect after reset: %v", err)
	}
	if len(again) != 10 {
		t.Fatalf("expected 10 slots after reset, got %d", len(again))
	}
	if !again[0].StartTime.Equal(got[0].StartTime) {
		t.Fatalf("reset did not rewind to the first slot")
	}
}

func TestAvailabilityCursorSurvivesInterleavedBooking(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()
	from := now.Add(10 * 24 * time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 150; i++ {
		ids = append(ids, insertSlot(t, repo, doctorID, from.Add(time.Duration(i)*30*time.Minute), ModeVirtual))
	}

	cur := st.QueryAvailable(doctorID, from, from.Add(30*24*time.Hour), ModeVirtual)

	// Drain the first page, then book a slot the cursor has not reached yet.
	seen := 0
	for ; seen < availabilityPageSize; seen++ {
		s, err := cur.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if s == nil {
			t.Fatalf("cursor drained early at %d", seen)
		}
	}

	booked := ids[availabilityPageSize+5]
	holder := uuid.New()
	if _, err := st.Reserve(context.Background(), doctorID, booked, holder, 10*time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := st.Commit(context.Background(), booked, holder); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rest, err := cur.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("collect rest: %v", err)
	}
	for _, s := range rest {
		if s.ID == booked {
			t.Fatalf("cursor returned a booked slot")
		}
	}
	if seen+len(rest) != 149 {
		t.Fatalf("expected 149 total available slots, got %d", seen+len(rest))
	}
}

func TestArchivePastKeepsBookings(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, repo := testStore(t, now)
	doctorID := uuid.New()

	past := insertSlot(t, repo, doctorID, now.Add(-2*time.Hour), ModeVirtual)
	_ = past
	bookedPast := insertSlot(t, repo, doctorID, now.Add(-3*time.Hour), ModeVirtual)
	future := insertSlot(t, repo, doctorID, now.Add(10*24*time.Hour), ModeVirtual)

	// Force a booking onto the past slot directly.
	holder := uuid.New()
	repo.mu.Lock()
	repo.slots[bookedPast].State = StateBooked
	repo.slots[bookedPast].HeldBy = &holder
	repo.mu.Unlock()

	archived, err := st.ArchivePast(context.Background())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected 1 archived, got %d", archived)
	}

	if _, err := st.Get(context.Background(), bookedPast); err != nil {
		t.Fatalf("booked past slot must survive: %v", err)
	}
	if _, err := st.Get(context.Background(), future); err != nil {
		t.Fatalf("future slot must survive: %v", err)
	}
}
