package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Method tokens the fake gateway understands. Anything else fails.
const (
	FakeMethodOK        = "pm_card_ok"
	FakeMethodChallenge = "pm_card_3ds"
	FakeMethodDeclined  = "pm_card_declined"
)

// FakeGateway is an in-memory Gateway for tests and local development. The
// confirmation outcome is driven by the method token.
type FakeGateway struct {
	mu      sync.Mutex
	intents map[string]*Intent
	seq     int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{intents: make(map[string]*Intent)}
}

func (g *FakeGateway) CreateIntent(_ context.Context, payableID uuid.UUID, amount int64) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	in := &Intent{
		ID:           fmt.Sprintf("pi_fake_%06d", g.seq),
		ClientSecret: fmt.Sprintf("pi_fake_%06d_secret_%s", g.seq, uuid.NewString()[:8]),
		Amount:       amount,
		Status:       StatusPending,
	}
	g.intents[in.ID] = in

	return cloneIntent(in), nil
}

func (g *FakeGateway) ConfirmIntent(_ context.Context, intentID, methodToken string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}

	if in.Status != StatusSucceeded {
		switch methodToken {
		case FakeMethodOK:
			in.Status = StatusSucceeded
		case FakeMethodChallenge:
			in.Status = StatusRequiresAction
		default:
			in.Status = StatusFailed
		}
	}

	return cloneIntent(in), nil
}

// Intent returns the current state of an intent, for test assertions.
func (g *FakeGateway) Intent(intentID string) (*Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[intentID]
	if !ok {
		return nil, false
	}
	return cloneIntent(in), true
}

func cloneIntent(in *Intent) *Intent {
	cp := *in
	return &cp
}
