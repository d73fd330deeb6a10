// Package expiry hosts the periodic sweep that forces time-bounded entities
// into their terminal expired states: lapsed slot holds, appointments stuck
// before payment, referrals past their expiry date and prescriptions past
// their validity window.
package expiry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	"github.com/curalink/scheduling/internal/slot"
)

const sweepBatchSize = 500

type Scanner struct {
	slots         *slot.Store
	appointments  *appointment.Service
	referrals     *referral.Service
	prescriptions *prescription.Service
	log           zerolog.Logger
}

func NewScanner(slots *slot.Store, appts *appointment.Service, refs *referral.Service, rx *prescription.Service, log zerolog.Logger) *Scanner {
	return &Scanner{
		slots:         slots,
		appointments:  appts,
		referrals:     refs,
		prescriptions: rx,
		log:           log.With().Str("component", "expiry-scanner").Logger(),
	}
}

type SweepResult struct {
	HoldsReleased         int
	AppointmentsCancelled int
	ReferralsExpired      int
	PrescriptionsExpired  int
	SlotsArchived         int64
}

// Sweep runs one pass over every time-bounded entity kind. Each kind is
// isolated: a failure in one does not abort the others, and re-running on
// already-expired entities is a no-op.
func (sc *Scanner) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	released, err := sc.slots.ReleaseLapsedHolds(ctx, sweepBatchSize)
	if err != nil {
		sc.log.Error().Err(err).Msg("lapsed hold sweep failed")
	}
	res.HoldsReleased = released

	cancelled, err := sc.appointments.ExpireStalePending(ctx, sweepBatchSize)
	if err != nil {
		sc.log.Error().Err(err).Msg("stale appointment sweep failed")
	}
	res.AppointmentsCancelled = cancelled

	expiredRefs, err := sc.referrals.ExpireDue(ctx, sweepBatchSize)
	if err != nil {
		sc.log.Error().Err(err).Msg("referral expiry sweep failed")
	}
	res.ReferralsExpired = expiredRefs

	expiredRx, err := sc.prescriptions.ExpireDue(ctx, sweepBatchSize)
	if err != nil {
		sc.log.Error().Err(err).Msg("prescription expiry sweep failed")
	}
	res.PrescriptionsExpired = expiredRx

	archived, err := sc.slots.ArchivePast(ctx)
	if err != nil {
		sc.log.Error().Err(err).Msg("slot archive failed")
	}
	res.SlotsArchived = archived

	sc.log.Info().
		Int("holds_released", res.HoldsReleased).
		Int("appointments_cancelled", res.AppointmentsCancelled).
		Int("referrals_expired", res.ReferralsExpired).
		Int("prescriptions_expired", res.PrescriptionsExpired).
		Int64("slots_archived", res.SlotsArchived).
		Msg("sweep complete")

	return res
}
