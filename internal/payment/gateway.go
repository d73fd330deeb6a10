// Package payment wraps the external payment provider. The engines only ever
// see the intent contract below; card and method details never enter the
// core.
package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

var (
	ErrPaymentFailed         = errors.New("payment failed")
	ErrPaymentRequiresAction = errors.New("payment requires an out-of-band action")
	ErrIntentNotFound        = errors.New("payment intent not found")
)

type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Status       Status
}

// Gateway is the payment provider boundary. ConfirmIntent is a remote
// round-trip; callers bound it with a context deadline and treat a timeout as
// "still pending", never as success.
type Gateway interface {
	CreateIntent(ctx context.Context, payableID uuid.UUID, amount int64) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, methodToken string) (*Intent, error)
}
