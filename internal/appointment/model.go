package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/slot"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusConfirmed      Status = "CONFIRMED"
	StatusReadyForCall   Status = "READY_FOR_CALL"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusNoShow         Status = "NO_SHOW"
)

// transitions is the full edge set of the appointment state machine.
// CANCELLED and NO_SHOW are reachable from every pre-COMPLETED state.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPendingPayment, StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:      {StatusReadyForCall, StatusCancelled, StatusNoShow},
	StatusReadyForCall:   {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress:     {StatusCompleted, StatusCancelled, StatusNoShow},
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Appointment binds a patient to exactly one booked TimeSlot. The slot hold
// is keyed by the appointment ID, so the appointment acts as the holder for
// reserve, commit and release. HoldExpiresAt mirrors the slot hold deadline
// so the expiry sweep can find stale bookings without joining on slots.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotID          uuid.UUID
	Status          Status
	Mode            slot.ConsultationMode
	ReasonForVisit  string
	PaymentIntentID *string
	Amount          int64
	HoldExpiresAt   *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
