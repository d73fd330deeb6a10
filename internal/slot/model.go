package slot

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationMode string

const (
	ModeVirtual  ConsultationMode = "VIRTUAL"
	ModePhysical ConsultationMode = "PHYSICAL"
)

func ValidMode(m ConsultationMode) bool {
	return m == ModeVirtual || m == ModePhysical
}

type ReservationState string

const (
	StateFree   ReservationState = "FREE"
	StateHeld   ReservationState = "HELD"
	StateBooked ReservationState = "BOOKED"
)

// TimeSlot is a bookable window of a doctor's time. The hold fields are only
// meaningful while State is HELD.
type TimeSlot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Mode            ConsultationMode
	State           ReservationState
	HeldBy          *uuid.UUID
	HeldUntil       *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HoldLapsed reports whether a HELD slot's hold has passed its deadline.
// Lapsed holds are treated as FREE by Reserve and by availability queries;
// the expiry sweep reverts them for real.
func (s *TimeSlot) HoldLapsed(now time.Time) bool {
	return s.State == StateHeld && s.HeldUntil != nil && s.HeldUntil.Before(now)
}

// Available reports whether the slot can be handed to a new holder.
func (s *TimeSlot) Available(now time.Time) bool {
	return s.State == StateFree || s.HoldLapsed(now)
}

// HeldByHolder reports whether the slot currently carries a live hold owned
// by holderID.
func (s *TimeSlot) HeldByHolder(holderID uuid.UUID, now time.Time) bool {
	return s.State == StateHeld &&
		s.HeldBy != nil && *s.HeldBy == holderID &&
		s.HeldUntil != nil && now.Before(*s.HeldUntil)
}
