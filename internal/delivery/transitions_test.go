package delivery

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/payment"
)

// Random operation sequences must only ever move a delivery along edges of
// the transition table, whatever order the fulfillment calls arrive in.
func TestRandomOperationSequencesRespectTransitionTable(t *testing.T) {
	svc, _, _ := newDlvService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(31))

	tokens := []string{payment.FakeMethodOK, payment.FakeMethodDeclined, payment.FakeMethodChallenge}

	for run := 0; run < 30; run++ {
		rxID := uuid.New()
		if err := svc.OnPrescriptionReady(ctx, rxID); err != nil {
			t.Fatalf("run %d ready: %v", run, err)
		}
		d, err := svc.GetByPrescription(ctx, rxID)
		if err != nil {
			t.Fatalf("run %d get: %v", run, err)
		}

		ops := []func(){
			func() { svc.ConfirmPayment(ctx, d.ID, tokens[rng.Intn(len(tokens))]) },
			func() { svc.StartPreparing(ctx, d.ID) },
			func() { svc.MarkReadyForPickup(ctx, d.ID) },
			func() { svc.Dispatch(ctx, d.ID) },
			func() { svc.MarkDelivered(ctx, d.ID) },
			func() { svc.Cancel(ctx, d.ID) },
		}

		prev := d.Status
		for step := 0; step < 12; step++ {
			ops[rng.Intn(len(ops))]()

			cur, err := svc.Get(ctx, d.ID)
			if err != nil {
				t.Fatalf("run %d step %d get: %v", run, step, err)
			}
			if cur.Status != prev && !CanTransition(prev, cur.Status) {
				t.Fatalf("run %d step %d: illegal transition %s -> %s", run, step, prev, cur.Status)
			}
			prev = cur.Status
		}
	}
}
