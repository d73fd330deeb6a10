package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	api      *client.API
	currency string
}

func NewStripeGateway(apiKey string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, currency: string(stripe.CurrencyUSD)}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, payableID uuid.UUID, amount int64) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.currency),
	}
	params.Context = ctx
	params.AddMetadata("payable_id", payableID.String())

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return fromStripeIntent(pi), nil
}

func (g *StripeGateway) ConfirmIntent(ctx context.Context, intentID, methodToken string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(methodToken),
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		// Card declines come back as errors with an intent attached; report
		// them as a failed confirmation, not a transport fault.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.PaymentIntent != nil {
			return fromStripeIntent(stripeErr.PaymentIntent), nil
		}
		return nil, fmt.Errorf("confirm payment intent: %w", err)
	}

	return fromStripeIntent(pi), nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Status:       mapStripeStatus(pi.Status),
	}
}

func mapStripeStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		return StatusRequiresAction
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
