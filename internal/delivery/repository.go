package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDeliveryNotFound       = errors.New("delivery not found")
	ErrConcurrentModification = errors.New("delivery was modified concurrently, reread and retry")
	ErrInvalidTransition      = errors.New("invalid delivery status transition")
	ErrMissingPaymentIntent   = errors.New("delivery has no payment intent")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error)

	// GetActiveByPrescription returns the non-cancelled delivery for the
	// prescription, if any. Delivered rows count: they keep the prescription
	// fulfilled and block a replacement, mirroring the partial unique index
	// on deliveries.
	GetActiveByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Delivery, error)

	Create(ctx context.Context, d *Delivery) error

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Delivery, error)

	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string, version int64) (*Delivery, error)
}
