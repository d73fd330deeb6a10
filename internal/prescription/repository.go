package prescription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPrescriptionNotFound   = errors.New("prescription not found")
	ErrConcurrentModification = errors.New("prescription was modified concurrently, reread and retry")
	ErrInvalidTransition      = errors.New("invalid prescription status transition")
	ErrExpiryInProgress       = errors.New("prescription has already expired")
	ErrItemsLocked            = errors.New("prescription items can no longer be changed")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error)

	// Create inserts the prescription; a second insert for the same
	// appointment is a silent no-op (unique appointment_id, insert skipped on
	// conflict). Returns the row that owns the appointment either way.
	Create(ctx context.Context, p *Prescription) (*Prescription, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Prescription, error)

	SetItems(ctx context.Context, id uuid.UUID, items []Item, version int64) (*Prescription, error)

	// FindExpired returns prescriptions past their validity window that have
	// not reached READY or a terminal state.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]Prescription, error)
}
