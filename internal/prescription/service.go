package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/event"
)

const (
	entityKind = "prescription"

	EventCreated    = "PRESCRIPTION_CREATED"
	EventSubmitted  = "PRESCRIPTION_SUBMITTED"
	EventProcessing = "PRESCRIPTION_PROCESSING"
	EventReady      = "PRESCRIPTION_READY"
	EventExpired    = "PRESCRIPTION_EXPIRED"
	EventCancelled  = "PRESCRIPTION_CANCELLED"
)

// ReadyListener is notified synchronously when a prescription reaches READY,
// the payable state. Must be idempotent.
type ReadyListener interface {
	OnPrescriptionReady(ctx context.Context, prescriptionID uuid.UUID) error
}

type Service struct {
	repo      Repository
	events    *event.Recorder
	validity  time.Duration
	now       func() time.Time
	listeners []ReadyListener
	log       zerolog.Logger
}

func NewService(repo Repository, events *event.Recorder, validity time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		events:   events,
		validity: validity,
		now:      time.Now,
		log:      log.With().Str("component", "prescription-engine").Logger(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) RegisterReadyListener(l ReadyListener) {
	s.listeners = append(s.listeners, l)
}

// OnAppointmentCompleted creates the single prescription for a completed
// appointment. Duplicate signals for the same appointment return the
// existing prescription without side effects.
func (s *Service) OnAppointmentCompleted(ctx context.Context, appointmentID uuid.UUID) error {
	existing, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err == nil && existing != nil {
		return nil
	}
	if err != nil && !errors.Is(err, ErrPrescriptionNotFound) {
		return fmt.Errorf("check existing prescription: %w", err)
	}

	p := &Prescription{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Status:        StatusCreated,
		ExpiresAt:     s.now().Add(s.validity),
	}

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return fmt.Errorf("create prescription: %w", err)
	}

	// Only record the event when this call actually inserted the row.
	if created.ID == p.ID {
		s.events.Record(ctx, entityKind, created.ID, EventCreated, map[string]any{
			"appointment_id": appointmentID.String(),
			"expires_at":     created.ExpiresAt,
		})
	}

	return nil
}

// SetItems attaches the medication list. Only legal while the prescription is
// still CREATED; once the pharmacy workflow starts the items are locked.
func (s *Service) SetItems(ctx context.Context, id uuid.UUID, items []Item) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCreated {
		return nil, ErrItemsLocked
	}
	return s.repo.SetItems(ctx, id, items, p.Version)
}

func (s *Service) SubmitForProcessing(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.transition(ctx, id, StatusCreated, StatusReadyForProcessing, EventSubmitted)
}

func (s *Service) BeginProcessing(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.transition(ctx, id, StatusReadyForProcessing, StatusProcessing, EventProcessing)
}

// MarkReady completes the pharmacy workflow and makes the prescription
// payable, which synchronously opens the delivery lifecycle.
func (s *Service) MarkReady(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.transition(ctx, id, StatusProcessing, StatusReady, EventReady)
	if err != nil {
		return nil, err
	}

	for _, l := range s.listeners {
		if err := l.OnPrescriptionReady(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("ready dispatch: %w", err)
		}
	}

	return p, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Terminal(p.Status) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.UpdateStatus(ctx, p.ID, p.Status, StatusCancelled, p.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, p.ID, EventCancelled, map[string]any{"from": string(p.Status)})

	return cancelled, nil
}

// ExpireDue force-expires prescriptions past their validity window that
// never reached READY. Idempotent per sweep.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.FindExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("find expired prescriptions: %w", err)
	}

	expired := 0
	for _, p := range due {
		if _, err := s.repo.UpdateStatus(ctx, p.ID, p.Status, StatusExpired, p.Version); err != nil {
			if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPrescriptionNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("failed to expire prescription")
			continue
		}
		s.events.Record(ctx, entityKind, p.ID, EventExpired, map[string]any{"expires_at": p.ExpiresAt})
		expired++
	}

	return expired, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, eventType string) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusExpired {
		return nil, ErrExpiryInProgress
	}
	if p.Status != from || !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, p.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, id, eventType, nil)

	return updated, nil
}
