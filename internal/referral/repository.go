package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReferralNotFound       = errors.New("referral not found")
	ErrConcurrentModification = errors.New("referral was modified concurrently, reread and retry")
	ErrInvalidTransition      = errors.New("invalid referral status transition")
	ErrExpiryInProgress       = errors.New("referral has already expired")
	ErrModeNotAllowed         = errors.New("slot consultation mode is not allowed for referrals")
	ErrDoctorMismatch         = errors.New("slot does not belong to the referred doctor")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Referral, error)

	Create(ctx context.Context, r *Referral) error

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Referral, error)

	// LinkAppointment performs the single ACCEPTED->SCHEDULED write: sets the
	// linked appointment and the status together, CAS on version, and only if
	// no appointment is linked yet.
	LinkAppointment(ctx context.Context, id, appointmentID uuid.UUID, version int64) (*Referral, error)

	// FindExpired returns PENDING or ACCEPTED referrals past their expiry
	// date.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]Referral, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Referral, error)
}
