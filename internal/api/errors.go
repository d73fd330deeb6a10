package api

import (
	"errors"
	"net/http"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/delivery"
	"github.com/curalink/scheduling/internal/payment"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	"github.com/curalink/scheduling/internal/slot"
)

// handleDomainError maps engine errors onto HTTP codes. Contention and
// staleness come back as 409 with a distinct code so the client knows to
// re-query and retry with fresh data.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	// Slot store
	case errors.Is(err, slot.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, slot.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot was taken by another booking, re-query availability")
	case errors.Is(err, slot.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", err.Error())
	case errors.Is(err, slot.ErrHoldMismatch):
		writeError(w, http.StatusConflict, "hold_mismatch", err.Error())

	// Appointment engine
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrLeadTimeViolation):
		writeError(w, http.StatusUnprocessableEntity, "lead_time_violation", err.Error())
	case errors.Is(err, appointment.ErrMissingPaymentIntent):
		writeError(w, http.StatusConflict, "missing_payment_intent", err.Error())

	// Referral engine
	case errors.Is(err, referral.ErrReferralNotFound):
		writeError(w, http.StatusNotFound, "referral_not_found", err.Error())
	case errors.Is(err, referral.ErrModeNotAllowed):
		writeError(w, http.StatusUnprocessableEntity, "mode_not_allowed", err.Error())
	case errors.Is(err, referral.ErrDoctorMismatch):
		writeError(w, http.StatusUnprocessableEntity, "doctor_mismatch", err.Error())

	// Prescription engine
	case errors.Is(err, prescription.ErrPrescriptionNotFound):
		writeError(w, http.StatusNotFound, "prescription_not_found", err.Error())
	case errors.Is(err, prescription.ErrItemsLocked):
		writeError(w, http.StatusConflict, "items_locked", err.Error())

	// Delivery engine
	case errors.Is(err, delivery.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, "delivery_not_found", err.Error())
	case errors.Is(err, delivery.ErrMissingPaymentIntent):
		writeError(w, http.StatusConflict, "missing_payment_intent", err.Error())

	// Shared transition / concurrency outcomes
	case errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, referral.ErrInvalidTransition),
		errors.Is(err, prescription.ErrInvalidTransition),
		errors.Is(err, delivery.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrConcurrentModification),
		errors.Is(err, referral.ErrConcurrentModification),
		errors.Is(err, prescription.ErrConcurrentModification),
		errors.Is(err, delivery.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "entity changed underneath you, reread and retry")
	case errors.Is(err, referral.ErrExpiryInProgress),
		errors.Is(err, prescription.ErrExpiryInProgress):
		writeError(w, http.StatusConflict, "expired", err.Error())

	// Payment outcomes
	case errors.Is(err, payment.ErrPaymentRequiresAction):
		writeError(w, http.StatusPaymentRequired, "payment_requires_action", "complete the payment challenge and retry confirmation")
	case errors.Is(err, payment.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "payment_failed", "payment was declined, retry with another method")

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
