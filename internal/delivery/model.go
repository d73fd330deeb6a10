package delivery

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusPreparing      Status = "PREPARING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:           {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReadyForPickup, StatusOutForDelivery, StatusCancelled},
	StatusReadyForPickup: {StatusDelivered, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
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
	return s == StatusDelivered || s == StatusCancelled
}

// Delivery is the fulfillment of a READY prescription. At most one
// non-cancelled delivery exists per prescription, delivered ones included,
// so only a cancelled delivery may be replaced.
type Delivery struct {
	ID              uuid.UUID
	PrescriptionID  uuid.UUID
	Status          Status
	PaymentIntentID *string
	Amount          int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
