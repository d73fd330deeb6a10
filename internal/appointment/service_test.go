package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/payment"
	redisclient "github.com/curalink/scheduling/internal/redis"
	"github.com/curalink/scheduling/internal/slot"
)

type memSlotRepo struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot.TimeSlot
}

func newMemSlotRepo() *memSlotRepo {
	return &memSlotRepo{slots: make(map[uuid.UUID]*slot.TimeSlot)}
}

func (r *memSlotRepo) clone(s *slot.TimeSlot) *slot.TimeSlot {
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

func (r *memSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	return r.clone(s), nil
}

func (r *memSlotRepo) Hold(_ context.Context, slotID, holderID uuid.UUID, heldUntil, now time.Time) (*slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	if !s.Available(now) {
		return nil, slot.ErrSlotUnavailable
	}
	h, u := holderID, heldUntil
	s.State = slot.StateHeld
	s.HeldBy = &h
	s.HeldUntil = &u
	s.Version++
	return r.clone(s), nil
}

func (r *memSlotRepo) Book(_ context.Context, slotID, holderID uuid.UUID, now time.Time) (*slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	if !s.HeldByHolder(holderID, now) {
		if s.State == slot.StateHeld && s.HeldBy != nil && *s.HeldBy == holderID {
			return nil, slot.ErrHoldExpired
		}
		if s.State == slot.StateHeld {
			return nil, slot.ErrHoldMismatch
		}
		return nil, slot.ErrSlotUnavailable
	}
	s.State = slot.StateBooked
	s.Version++
	return r.clone(s), nil
}

func (r *memSlotRepo) Free(_ context.Context, slotID, holderID uuid.UUID) (*slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	if (s.State == slot.StateHeld || s.State == slot.StateBooked) && s.HeldBy != nil && *s.HeldBy == holderID {
		s.State = slot.StateFree
		s.HeldBy = nil
		s.HeldUntil = nil
		s.Version++
	}
	return r.clone(s), nil
}

func (r *memSlotRepo) ListAvailable(_ context.Context, doctorID uuid.UUID, from, to time.Time, mode slot.ConsultationMode, afterStart, now time.Time, limit int) ([]slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []slot.TimeSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Mode == mode && s.Available(now) &&
			!s.StartTime.Before(from) && s.StartTime.Before(to) && s.StartTime.After(afterStart) {
			out = append(out, *r.clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSlotRepo) FindLapsedHolds(_ context.Context, now time.Time, limit int) ([]slot.TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []slot.TimeSlot
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

func (r *memSlotRepo) Insert(_ context.Context, s *slot.TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.State = slot.StateFree
	r.slots[s.ID] = &cp
	return nil
}

func (r *memSlotRepo) ArchivePast(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.slots {
		if s.EndTime.Before(now) && s.State != slot.StateBooked {
			delete(r.slots, id)
			n++
		}
	}
	return n, nil
}

type memApptRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMemApptRepo() *memApptRepo {
	return &memApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *memApptRepo) clone(a *Appointment) *Appointment {
	cp := *a
	if a.PaymentIntentID != nil {
		v := *a.PaymentIntentID
		cp.PaymentIntentID = &v
	}
	if a.HoldExpiresAt != nil {
		v := *a.HoldExpiresAt
		cp.HoldExpiresAt = &v
	}
	return &cp
}

func (r *memApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.clone(a), nil
}

func (r *memApptRepo) GetBySlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.SlotID == slotID {
			return r.clone(a), nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memApptRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *memApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, version int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from || a.Version != version {
		return nil, ErrConcurrentModification
	}
	a.Status = to
	a.Version++
	return r.clone(a), nil
}

func (r *memApptRepo) SetPaymentIntent(_ context.Context, id uuid.UUID, intentID string, version int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Version != version {
		return nil, ErrConcurrentModification
	}
	v := intentID
	a.PaymentIntentID = &v
	a.Version++
	return r.clone(a), nil
}

func (r *memApptRepo) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if (a.Status == StatusPending || a.Status == StatusPendingPayment) &&
			a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now) {
			out = append(out, *r.clone(a))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, *r.clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *memEventRepo) InsertEvent(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memEventRepo) countType(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

type countingListener struct {
	mu   sync.Mutex
	seen map[uuid.UUID]int
}

func (l *countingListener) OnAppointmentCompleted(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[uuid.UUID]int)
	}
	l.seen[id]++
	return nil
}

type testEnv struct {
	svc      *Service
	slots    *slot.Store
	slotRepo *memSlotRepo
	repo     *memApptRepo
	events   *memEventRepo
	gateway  *payment.FakeGateway
	now      time.Time
	doctorID uuid.UUID
}

func newTestEnv(t *testing.T, amount int64) *testEnv {
	t.Helper()
	env := &testEnv{
		slotRepo: newMemSlotRepo(),
		repo:     newMemApptRepo(),
		events:   &memEventRepo{},
		gateway:  payment.NewFakeGateway(),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		doctorID: uuid.New(),
	}

	clock := func() time.Time { return env.now }
	env.slots = slot.NewStore(env.slotRepo, redisclient.NoopLocker{}, zerolog.Nop()).WithClock(clock)
	env.svc = NewService(env.repo, env.slots, env.gateway, event.NewRecorder(env.events, zerolog.Nop()), Policy{
		MinLeadTime:        7 * 24 * time.Hour,
		HoldTTL:            10 * time.Minute,
		ConsultationAmount: amount,
		PaymentTimeout:     5 * time.Second,
	}, zerolog.Nop()).WithClock(clock)

	return env
}

func (env *testEnv) addSlot(t *testing.T, start time.Time) uuid.UUID {
	t.Helper()
	s := &slot.TimeSlot{
		ID:              uuid.New(),
		DoctorID:        env.doctorID,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		DurationMinutes: 30,
		Mode:            slot.ModeVirtual,
	}
	if err := env.slotRepo.Insert(context.Background(), s); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
	return s.ID
}

func (env *testEnv) slotState(t *testing.T, id uuid.UUID) slot.ReservationState {
	t.Helper()
	s, err := env.slotRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return s.State
}

func TestCreateLeadTimeBoundary(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	// Exactly at the boundary is allowed.
	atBoundary := env.addSlot(t, env.now.Add(7*24*time.Hour))
	if _, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: atBoundary, Reason: "checkup"}); err != nil {
		t.Fatalf("boundary slot rejected: %v", err)
	}

	// One minute inside the window is not.
	inside := env.addSlot(t, env.now.Add(7*24*time.Hour-time.Minute))
	if _, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: inside, Reason: "checkup"}); !errors.Is(err, ErrLeadTimeViolation) {
		t.Fatalf("expected ErrLeadTimeViolation, got %v", err)
	}
	if env.slotState(t, inside) != slot.StateFree {
		t.Fatal("rejected booking must not hold the slot")
	}
}

func TestCreateAndConfirmPayment(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "migraines"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", a.Status)
	}
	if a.PaymentIntentID == nil {
		t.Fatal("expected a payment intent")
	}
	if env.slotState(t, slotID) != slot.StateHeld {
		t.Fatal("slot must be held while payment is pending")
	}

	confirmed, err := env.svc.ConfirmPayment(ctx, a.ID, payment.FakeMethodOK)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
	if env.slotState(t, slotID) != slot.StateBooked {
		t.Fatal("slot must be booked after payment")
	}

	if env.events.countType(EventConfirmed) != 1 {
		t.Fatal("expected one confirmation event")
	}
}

func TestCreateFreeConsultationSkipsPayment(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "follow-up"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", a.Status)
	}
	if a.PaymentIntentID != nil {
		t.Fatal("free consultation must not carry a payment intent")
	}
	if env.slotState(t, slotID) != slot.StateBooked {
		t.Fatal("slot must be booked immediately for free consultations")
	}
}

func TestConfirmPaymentOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"declined", payment.FakeMethodDeclined, payment.ErrPaymentFailed},
		{"requires action", payment.FakeMethodChallenge, payment.ErrPaymentRequiresAction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, 5000)
			ctx := context.Background()
			slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

			a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			if _, err := env.svc.ConfirmPayment(ctx, a.ID, tc.token); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			// The appointment stays payable and the hold survives for a retry.
			got, err := env.svc.Get(ctx, a.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != StatusPendingPayment {
				t.Fatalf("expected PENDING_PAYMENT after %s, got %s", tc.name, got.Status)
			}
			if env.slotState(t, slotID) != slot.StateHeld {
				t.Fatal("hold must survive a failed confirmation")
			}
		})
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	env := newTestEnv(t, 5000)
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Create(context.Background(), CreateParams{
				PatientID: uuid.New(),
				SlotID:    slotID,
				Reason:    "contended",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, slot.ErrSlotUnavailable) {
				losses++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || losses != contenders-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", contenders-1, wins, losses)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.ConfirmPayment(ctx, a.ID, payment.FakeMethodOK); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.svc.MarkReadyForCall(ctx, a.ID); err != nil {
		t.Fatalf("ready for call: %v", err)
	}
	if _, err := env.svc.StartConsultation(ctx, a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := env.svc.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
}

func TestSkippedStepsAreRejected(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// PENDING_PAYMENT cannot start or complete.
	if _, err := env.svc.StartConsultation(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for start, got %v", err)
	}
	if _, err := env.svc.Complete(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for complete, got %v", err)
	}

	if _, err := env.svc.ConfirmPayment(ctx, a.ID, payment.FakeMethodOK); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// CONFIRMED cannot skip READY_FOR_CALL.
	if _, err := env.svc.StartConsultation(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.ConfirmPayment(ctx, a.ID, payment.FakeMethodOK); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, a.ID, "patient")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if env.slotState(t, slotID) != slot.StateFree {
		t.Fatal("cancelled appointment must free its slot")
	}

	// Terminal states cannot be cancelled again.
	if _, err := env.svc.Cancel(ctx, a.ID, "patient"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteDispatchesListenersIdempotently(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	l := &countingListener{}
	env.svc.RegisterCompletionListener(l)

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.MarkReadyForCall(ctx, a.ID); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := env.svc.StartConsultation(ctx, a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.svc.Complete(ctx, a.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// A duplicated completion signal succeeds and re-dispatches.
	if _, err := env.svc.Complete(ctx, a.ID); err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}

	if l.seen[a.ID] != 2 {
		t.Fatalf("expected 2 dispatches, got %d", l.seen[a.ID])
	}
	if env.events.countType(EventCompleted) != 1 {
		t.Fatal("the COMPLETED transition must be recorded exactly once")
	}
}

func TestExpireStalePending(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	slotA := env.addSlot(t, env.now.Add(10*24*time.Hour))
	slotB := env.addSlot(t, env.now.Add(11*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotA, Reason: "x"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotB, Reason: "x"})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	// b pays in time; a does not.
	if _, err := env.svc.ConfirmPayment(ctx, b.ID, payment.FakeMethodOK); err != nil {
		t.Fatalf("confirm b: %v", err)
	}

	env.now = env.now.Add(time.Hour)

	expired, err := env.svc.ExpireStalePending(ctx, 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	gotA, _ := env.svc.Get(ctx, a.ID)
	if gotA.Status != StatusCancelled {
		t.Fatalf("expected a CANCELLED, got %s", gotA.Status)
	}
	if env.slotState(t, slotA) != slot.StateFree {
		t.Fatal("expired appointment must free its slot")
	}

	gotB, _ := env.svc.Get(ctx, b.ID)
	if gotB.Status != StatusConfirmed {
		t.Fatalf("paid appointment must survive the sweep, got %s", gotB.Status)
	}
	if env.slotState(t, slotB) != slot.StateBooked {
		t.Fatal("booked slot must survive the sweep")
	}

	// Re-running finds nothing new.
	expired, err = env.svc.ExpireStalePending(ctx, 100)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected 0 on second sweep, got %d", expired)
	}
}

func TestMarkNoShowReleasesSlot(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	slotID := env.addSlot(t, env.now.Add(10*24*time.Hour))

	a, err := env.svc.Create(ctx, CreateParams{PatientID: uuid.New(), SlotID: slotID, Reason: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	noShow, err := env.svc.MarkNoShow(ctx, a.ID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if noShow.Status != StatusNoShow {
		t.Fatalf("expected NO_SHOW, got %s", noShow.Status)
	}
	if env.slotState(t, slotID) != slot.StateFree {
		t.Fatal("no-show must free the slot")
	}
}
