package prescription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusReadyForProcessing Status = "READY_FOR_PROCESSING"
	StatusProcessing         Status = "PROCESSING"
	StatusReady              Status = "READY"
	StatusExpired            Status = "EXPIRED"
	StatusCancelled          Status = "CANCELLED"
)

// EXPIRED is reachable from any non-READY, non-terminal state; CANCELLED from
// any non-terminal state.
var transitions = map[Status][]Status{
	StatusCreated:            {StatusReadyForProcessing, StatusExpired, StatusCancelled},
	StatusReadyForProcessing: {StatusProcessing, StatusExpired, StatusCancelled},
	StatusProcessing:         {StatusReady, StatusExpired, StatusCancelled},
	StatusReady:              {StatusCancelled},
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
	return s == StatusExpired || s == StatusCancelled
}

type Item struct {
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Quantity       int    `json:"quantity"`
	Instructions   string `json:"instructions,omitempty"`
}

// Prescription is created exactly once per completed appointment. ExpiresAt
// bounds the pharmacy workflow: a prescription that has not reached READY by
// then is force-expired.
type Prescription struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Status        Status
	Items         []Item
	ExpiresAt     time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
