package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/payment"
)

const (
	entityKind = "delivery"

	EventCreated        = "DELIVERY_CREATED"
	EventPaid           = "DELIVERY_PAID"
	EventPreparing      = "DELIVERY_PREPARING"
	EventReadyForPickup = "DELIVERY_READY_FOR_PICKUP"
	EventDispatched     = "DELIVERY_DISPATCHED"
	EventDelivered      = "DELIVERY_DELIVERED"
	EventCancelled      = "DELIVERY_CANCELLED"
)

type Service struct {
	repo           Repository
	gateway        payment.Gateway
	events         *event.Recorder
	baseAmount     int64
	paymentTimeout time.Duration
	log            zerolog.Logger
}

func NewService(repo Repository, gateway payment.Gateway, events *event.Recorder, baseAmount int64, paymentTimeout time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:           repo,
		gateway:        gateway,
		events:         events,
		baseAmount:     baseAmount,
		paymentTimeout: paymentTimeout,
		log:            log.With().Str("component", "delivery-engine").Logger(),
	}
}

// OnPrescriptionReady opens the fulfillment lifecycle for a payable
// prescription: one delivery in PENDING_PAYMENT with a gateway intent.
// Duplicate signals find the non-cancelled delivery and do nothing, except when an
// earlier attempt died before attaching its intent; then the signal retries
// the attach instead of leaving the delivery unpayable.
func (s *Service) OnPrescriptionReady(ctx context.Context, prescriptionID uuid.UUID) error {
	existing, err := s.repo.GetActiveByPrescription(ctx, prescriptionID)
	if err == nil && existing != nil {
		if existing.PaymentIntentID != nil || existing.Status != StatusPendingPayment {
			return nil
		}
		return s.attachIntent(ctx, existing)
	}
	if err != nil && !errors.Is(err, ErrDeliveryNotFound) {
		return fmt.Errorf("check existing delivery: %w", err)
	}

	d := &Delivery{
		ID:             uuid.New(),
		PrescriptionID: prescriptionID,
		Status:         StatusPendingPayment,
		Amount:         s.baseAmount,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}

	return s.attachIntent(ctx, d)
}

func (s *Service) attachIntent(ctx context.Context, d *Delivery) error {
	intent, err := s.gateway.CreateIntent(ctx, d.ID, d.Amount)
	if err != nil {
		// No intent means the delivery cannot be paid; cancel the row so
		// the next ready signal can start over.
		if _, cancelErr := s.repo.UpdateStatus(ctx, d.ID, StatusPendingPayment, StatusCancelled, d.Version); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("delivery_id", d.ID.String()).Msg("failed to cancel delivery after intent failure")
		}
		return fmt.Errorf("create delivery payment intent: %w", err)
	}

	if _, err := s.repo.SetPaymentIntent(ctx, d.ID, intent.ID, d.Version); err != nil {
		return fmt.Errorf("attach delivery payment intent: %w", err)
	}

	s.events.Record(ctx, entityKind, d.ID, EventCreated, map[string]any{
		"prescription_id":   d.PrescriptionID.String(),
		"payment_intent_id": intent.ID,
		"amount":            intent.Amount,
	})

	return nil
}

// ConfirmPayment mirrors the appointment flow: succeeded moves to PAID,
// requires_action and failed leave the delivery in PENDING_PAYMENT for a
// retry.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, methodToken string) (*Delivery, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}
	if d.PaymentIntentID == nil {
		return nil, ErrMissingPaymentIntent
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	intent, err := s.gateway.ConfirmIntent(confirmCtx, *d.PaymentIntentID, methodToken)
	if err != nil {
		return nil, fmt.Errorf("confirm delivery payment intent: %w", err)
	}

	switch intent.Status {
	case payment.StatusSucceeded:
	case payment.StatusRequiresAction:
		return nil, payment.ErrPaymentRequiresAction
	default:
		return nil, payment.ErrPaymentFailed
	}

	paid, err := s.repo.UpdateStatus(ctx, d.ID, StatusPendingPayment, StatusPaid, d.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, d.ID, EventPaid, map[string]any{
		"payment_intent_id": intent.ID,
	})

	return paid, nil
}

func (s *Service) StartPreparing(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return s.transition(ctx, id, StatusPaid, StatusPreparing, EventPreparing)
}

func (s *Service) MarkReadyForPickup(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return s.transition(ctx, id, StatusPreparing, StatusReadyForPickup, EventReadyForPickup)
}

func (s *Service) Dispatch(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return s.transition(ctx, id, StatusPreparing, StatusOutForDelivery, EventDispatched)
}

func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusReadyForPickup && d.Status != StatusOutForDelivery {
		return nil, ErrInvalidTransition
	}

	delivered, err := s.repo.UpdateStatus(ctx, d.ID, d.Status, StatusDelivered, d.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, d.ID, EventDelivered, map[string]any{"from": string(d.Status)})

	return delivered, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Terminal(d.Status) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.UpdateStatus(ctx, d.ID, d.Status, StatusCancelled, d.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, d.ID, EventCancelled, map[string]any{"from": string(d.Status)})

	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Delivery, error) {
	return s.repo.GetActiveByPrescription(ctx, prescriptionID)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to Status, eventType string) (*Delivery, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != from || !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, d.Version)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, entityKind, id, eventType, nil)

	return updated, nil
}
