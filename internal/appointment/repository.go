package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrConcurrentModification = errors.New("appointment was modified concurrently, reread and retry")
	ErrInvalidTransition      = errors.New("invalid appointment status transition")
	ErrLeadTimeViolation      = errors.New("slot starts inside the minimum lead time")
	ErrMissingPaymentIntent   = errors.New("appointment has no payment intent")
)

// Repository contains all DB interactions needed by the service. Writes are
// guarded by a version compare-and-swap; a lost CAS surfaces as
// ErrConcurrentModification so the caller rereads and retries.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBySlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)

	Create(ctx context.Context, a *Appointment) error

	// UpdateStatus applies from->to iff the row still carries version.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Appointment, error)

	// SetPaymentIntent records the gateway intent, same CAS discipline.
	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string, version int64) (*Appointment, error)

	// FindExpiredPending returns pre-payment appointments whose slot hold
	// deadline has passed. Used by the expiry sweep.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
}
