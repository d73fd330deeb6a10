package referral

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected, StatusExpired, StatusCancelled},
	StatusAccepted:  {StatusScheduled, StatusExpired, StatusCancelled},
	StatusScheduled: {StatusCompleted, StatusCancelled},
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
	return s == StatusRejected || s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Referral routes a patient from one doctor to a specialist. ExpiryDate is
// fixed at issuance and never extended; LinkedAppointmentID is written
// exactly once, at the SCHEDULED transition, and never cleared.
type Referral struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	ReferringDoctorID   uuid.UUID
	ReferredDoctorID    uuid.UUID
	Status              Status
	ReasonForReferral   string
	IssuedAt            time.Time
	ExpiryDate          time.Time
	LinkedAppointmentID *uuid.UUID
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
