package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/payment"
	"github.com/curalink/scheduling/internal/slot"
)

const (
	entityKind = "appointment"

	EventCreated          = "APPOINTMENT_CREATED"
	EventPaymentRequested = "APPOINTMENT_PAYMENT_REQUESTED"
	EventConfirmed        = "APPOINTMENT_CONFIRMED"
	EventReadyForCall     = "APPOINTMENT_READY_FOR_CALL"
	EventStarted          = "APPOINTMENT_STARTED"
	EventCompleted        = "APPOINTMENT_COMPLETED"
	EventCancelled        = "APPOINTMENT_CANCELLED"
	EventNoShow           = "APPOINTMENT_NO_SHOW"
)

// CompletionListener is notified synchronously when an appointment reaches
// COMPLETED. Listeners must be idempotent: duplicate completion signals for
// the same appointment are no-ops.
type CompletionListener interface {
	OnAppointmentCompleted(ctx context.Context, appointmentID uuid.UUID) error
}

type Policy struct {
	MinLeadTime        time.Duration
	HoldTTL            time.Duration
	ConsultationAmount int64 // minor units; 0 disables payment gating
	PaymentTimeout     time.Duration
}

type Service struct {
	repo      Repository
	slots     *slot.Store
	gateway   payment.Gateway
	events    *event.Recorder
	policy    Policy
	now       func() time.Time
	listeners []CompletionListener
	log       zerolog.Logger
}

func NewService(repo Repository, slots *slot.Store, gateway payment.Gateway, events *event.Recorder, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		slots:   slots,
		gateway: gateway,
		events:  events,
		policy:  policy,
		now:     time.Now,
		log:     log.With().Str("component", "appointment-engine").Logger(),
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterCompletionListener wires a downstream engine into the completion
// dispatch. Listener order is registration order.
func (s *Service) RegisterCompletionListener(l CompletionListener) {
	s.listeners = append(s.listeners, l)
}

type CreateParams struct {
	PatientID uuid.UUID
	SlotID    uuid.UUID
	Reason    string
}

// Create reserves the slot and opens the appointment. Paid consultations move
// straight to PENDING_PAYMENT with a gateway intent attached; free ones skip
// payment gating, commit the slot and land in CONFIRMED.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	sl, err := s.slots.Get(ctx, p.SlotID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sl.StartTime.Sub(now) < s.policy.MinLeadTime {
		return nil, ErrLeadTimeViolation
	}

	apptID := uuid.New()

	held, err := s.slots.Reserve(ctx, sl.DoctorID, sl.ID, apptID, s.policy.HoldTTL)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:             apptID,
		PatientID:      p.PatientID,
		DoctorID:       sl.DoctorID,
		SlotID:         sl.ID,
		Status:         StatusPending,
		Mode:           sl.Mode,
		ReasonForVisit: p.Reason,
		Amount:         s.policy.ConsultationAmount,
		HoldExpiresAt:  held.HeldUntil,
	}

	if err := s.repo.Create(ctx, a); err != nil {
		s.releaseSlot(ctx, sl.ID, apptID)
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.events.Record(ctx, entityKind, a.ID, EventCreated, map[string]any{
		"patient_id": p.PatientID.String(),
		"slot_id":    sl.ID.String(),
		"held_until": held.HeldUntil,
	})

	if a.Amount == 0 {
		if _, err := s.slots.Commit(ctx, sl.ID, apptID); err != nil {
			return nil, fmt.Errorf("commit slot for free consultation: %w", err)
		}
		confirmed, err := s.repo.UpdateStatus(ctx, a.ID, StatusPending, StatusConfirmed, a.Version)
		if err != nil {
			return nil, fmt.Errorf("confirm free appointment: %w", err)
		}
		s.events.Record(ctx, entityKind, a.ID, EventConfirmed, map[string]any{"free": true})
		return confirmed, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, a.ID, a.Amount)
	if err != nil {
		// No intent means the booking cannot advance; give the slot back
		// rather than stranding the hold until its TTL.
		s.releaseSlot(ctx, sl.ID, apptID)
		if _, cancelErr := s.repo.UpdateStatus(ctx, a.ID, StatusPending, StatusCancelled, a.Version); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("appointment_id", a.ID.String()).Msg("failed to cancel appointment after intent failure")
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	withIntent, err := s.repo.SetPaymentIntent(ctx, a.ID, intent.ID, a.Version)
	if err != nil {
		return nil, fmt.Errorf("attach payment intent: %w", err)
	}

	pending, err := s.repo.UpdateStatus(ctx, a.ID, StatusPending, StatusPendingPayment, withIntent.Version)
	if err != nil {
		return nil, fmt.Errorf("move to pending payment: %w", err)
	}

	s.events.Record(ctx, entityKind, a.ID, EventPaymentRequested, map[string]any{
		"payment_intent_id": intent.ID,
		"amount":            intent.Amount,
	})

	return pending, nil
}

// ConfirmPayment verifies the gateway outcome and finalizes the booking.
// requires_action and failed outcomes leave the appointment in
// PENDING_PAYMENT with its hold intact; the caller retries after resolving.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, methodToken string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}
	if a.PaymentIntentID == nil {
		return nil, ErrMissingPaymentIntent
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.policy.PaymentTimeout)
	defer cancel()

	intent, err := s.gateway.ConfirmIntent(confirmCtx, *a.PaymentIntentID, methodToken)
	if err != nil {
		return nil, fmt.Errorf("confirm payment intent: %w", err)
	}

	switch intent.Status {
	case payment.StatusSucceeded:
	case payment.StatusRequiresAction:
		return nil, payment.ErrPaymentRequiresAction
	default:
		return nil, payment.ErrPaymentFailed
	}

	if _, err := s.slots.Commit(ctx, a.SlotID, a.ID); err != nil {
		return nil, err
	}

	confirmed, err := s.repo.UpdateStatus(ctx, a.ID, StatusPendingPayment, StatusConfirmed, a.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, a.ID, EventConfirmed, map[string]any{
		"payment_intent_id": intent.ID,
	})

	return confirmed, nil
}

func (s *Service) MarkReadyForCall(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, StatusReadyForCall, EventReadyForCall, nil)
}

func (s *Service) StartConsultation(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusReadyForCall, StatusInProgress, EventStarted, nil)
}

// Complete closes the consultation and is the only transition that triggers
// the downstream lifecycles. Calling Complete on an already-COMPLETED
// appointment re-dispatches the listeners (each is idempotent) and succeeds,
// so a duplicated completion signal cannot orphan downstream entities.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.Status != StatusCompleted {
		a, err = s.transition(ctx, id, StatusInProgress, StatusCompleted, EventCompleted, nil)
		if err != nil {
			return nil, err
		}
	}

	for _, l := range s.listeners {
		if err := l.OnAppointmentCompleted(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("completion dispatch: %w", err)
		}
	}

	return a, nil
}

// Cancel is legal from any non-terminal state and returns the slot to the
// pool.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Terminal(a.Status) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.UpdateStatus(ctx, a.ID, a.Status, StatusCancelled, a.Version)
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, a.SlotID, a.ID)

	s.events.Record(ctx, entityKind, a.ID, EventCancelled, map[string]any{
		"actor": actor,
		"from":  string(a.Status),
	})

	return cancelled, nil
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Terminal(a.Status) {
		return nil, ErrInvalidTransition
	}

	noShow, err := s.repo.UpdateStatus(ctx, a.ID, a.Status, StatusNoShow, a.Version)
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, a.SlotID, a.ID)

	s.events.Record(ctx, entityKind, a.ID, EventNoShow, map[string]any{"from": string(a.Status)})

	return noShow, nil
}

// ExpireStalePending cancels appointments still waiting on payment after
// their slot hold lapsed. Called by the expiry sweep; per-entity errors are
// logged and skipped.
func (s *Service) ExpireStalePending(ctx context.Context, limit int) (int, error) {
	stale, err := s.repo.FindExpiredPending(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, a := range stale {
		if _, err := s.repo.UpdateStatus(ctx, a.ID, a.Status, StatusCancelled, a.Version); err != nil {
			if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to expire stale appointment")
			continue
		}
		s.releaseSlot(ctx, a.SlotID, a.ID)
		s.events.Record(ctx, entityKind, a.ID, EventCancelled, map[string]any{"reason": "hold_expired"})
		expired++
	}

	return expired, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, eventType string, payload map[string]any) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, ErrInvalidTransition
	}
	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, a.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, id, eventType, payload)

	return updated, nil
}

func (s *Service) releaseSlot(ctx context.Context, slotID, holderID uuid.UUID) {
	if err := s.slots.Release(ctx, slotID, holderID); err != nil {
		s.log.Error().Err(err).
			Str("slot_id", slotID.String()).
			Str("holder_id", holderID.String()).
			Msg("failed to release slot")
	}
}
