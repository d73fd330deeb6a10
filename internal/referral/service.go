package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/slot"
)

const (
	entityKind = "referral"

	EventIssued    = "REFERRAL_ISSUED"
	EventAccepted  = "REFERRAL_ACCEPTED"
	EventRejected  = "REFERRAL_REJECTED"
	EventScheduled = "REFERRAL_SCHEDULED"
	EventCompleted = "REFERRAL_COMPLETED"
	EventExpired   = "REFERRAL_EXPIRED"
	EventCancelled = "REFERRAL_CANCELLED"
)

// Booker is the slice of the appointment engine the referral engine needs.
type Booker interface {
	Create(ctx context.Context, p appointment.CreateParams) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, actor string) (*appointment.Appointment, error)
}

type Policy struct {
	// AllowedMode restricts which consultation mode a referral may schedule
	// into. Self-booked appointments are not restricted this way.
	AllowedMode slot.ConsultationMode
	Validity    time.Duration // issuance-to-expiry window
}

type Service struct {
	repo   Repository
	slots  *slot.Store
	booker Booker
	events *event.Recorder
	policy Policy
	now    func() time.Time
	log    zerolog.Logger
}

func NewService(repo Repository, slots *slot.Store, booker Booker, events *event.Recorder, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		slots:  slots,
		booker: booker,
		events: events,
		policy: policy,
		now:    time.Now,
		log:    log.With().Str("component", "referral-engine").Logger(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	PatientID         uuid.UUID
	ReferringDoctorID uuid.UUID
	ReferredDoctorID  uuid.UUID
	Reason            string
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Referral, error) {
	now := s.now()
	rf := &Referral{
		ID:                uuid.New(),
		PatientID:         p.PatientID,
		ReferringDoctorID: p.ReferringDoctorID,
		ReferredDoctorID:  p.ReferredDoctorID,
		Status:            StatusPending,
		ReasonForReferral: p.Reason,
		IssuedAt:          now,
		ExpiryDate:        now.Add(s.policy.Validity),
	}

	if err := s.repo.Create(ctx, rf); err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}

	s.events.Record(ctx, entityKind, rf.ID, EventIssued, map[string]any{
		"patient_id":          p.PatientID.String(),
		"referred_doctor_id":  p.ReferredDoctorID.String(),
		"referring_doctor_id": p.ReferringDoctorID.String(),
		"expiry_date":         rf.ExpiryDate,
	})

	return rf, nil
}

func (s *Service) Accept(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.transition(ctx, id, StatusPending, StatusAccepted, EventAccepted)
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.transition(ctx, id, StatusPending, StatusRejected, EventRejected)
}

// Schedule books the concrete appointment for an accepted referral. The slot
// must belong to the referred doctor and carry the policy consultation mode.
// If any step fails the referral stays ACCEPTED; a created-but-unlinked
// appointment is cancelled so no partial state survives.
func (s *Service) Schedule(ctx context.Context, id, slotID uuid.UUID) (*Referral, error) {
	rf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rf.Status == StatusExpired {
		return nil, ErrExpiryInProgress
	}
	if rf.Status != StatusAccepted {
		return nil, ErrInvalidTransition
	}
	if s.now().After(rf.ExpiryDate) {
		// Past the window but not yet swept; the caller's action is stale.
		return nil, ErrExpiryInProgress
	}

	sl, err := s.slots.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if sl.DoctorID != rf.ReferredDoctorID {
		return nil, ErrDoctorMismatch
	}
	if sl.Mode != s.policy.AllowedMode {
		return nil, ErrModeNotAllowed
	}

	appt, err := s.booker.Create(ctx, appointment.CreateParams{
		PatientID: rf.PatientID,
		SlotID:    slotID,
		Reason:    rf.ReasonForReferral,
	})
	if err != nil {
		return nil, err
	}

	linked, err := s.repo.LinkAppointment(ctx, rf.ID, appt.ID, rf.Version)
	if err != nil {
		// The appointment exists but the referral could not take it; unwind
		// so the referral remains cleanly ACCEPTED.
		if _, cancelErr := s.booker.Cancel(ctx, appt.ID, "referral-unwind"); cancelErr != nil {
			s.log.Error().Err(cancelErr).
				Str("referral_id", rf.ID.String()).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to unwind appointment after link failure")
		}
		return nil, err
	}

	s.events.Record(ctx, entityKind, rf.ID, EventScheduled, map[string]any{
		"appointment_id": appt.ID.String(),
		"slot_id":        slotID.String(),
	})

	return linked, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Referral, error) {
	rf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Terminal(rf.Status) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.UpdateStatus(ctx, rf.ID, rf.Status, StatusCancelled, rf.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, rf.ID, EventCancelled, map[string]any{"from": string(rf.Status)})

	return cancelled, nil
}

// OnAppointmentCompleted moves the linked referral SCHEDULED->COMPLETED.
// Appointments without a referral, and already-completed referrals, are
// no-ops: the appointment engine re-dispatches on duplicate completion
// signals.
func (s *Service) OnAppointmentCompleted(ctx context.Context, appointmentID uuid.UUID) error {
	rf, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			return nil
		}
		return err
	}
	if rf.Status == StatusCompleted {
		return nil
	}
	if rf.Status != StatusScheduled {
		return fmt.Errorf("referral %s in state %s at appointment completion: %w", rf.ID, rf.Status, ErrInvalidTransition)
	}

	if _, err := s.repo.UpdateStatus(ctx, rf.ID, StatusScheduled, StatusCompleted, rf.Version); err != nil {
		return err
	}

	s.events.Record(ctx, entityKind, rf.ID, EventCompleted, map[string]any{
		"appointment_id": appointmentID.String(),
	})

	return nil
}

// ExpireDue forces lapsed PENDING/ACCEPTED referrals to EXPIRED. Idempotent;
// per-entity failures are logged and skipped.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.FindExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("find expired referrals: %w", err)
	}

	expired := 0
	for _, rf := range due {
		if _, err := s.repo.UpdateStatus(ctx, rf.ID, rf.Status, StatusExpired, rf.Version); err != nil {
			if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrReferralNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("referral_id", rf.ID.String()).Msg("failed to expire referral")
			continue
		}
		s.events.Record(ctx, entityKind, rf.ID, EventExpired, map[string]any{"expiry_date": rf.ExpiryDate})
		expired++
	}

	return expired, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Referral, error) {
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

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, eventType string) (*Referral, error) {
	rf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rf.Status != from || !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, rf.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, id, eventType, nil)

	return updated, nil
}
