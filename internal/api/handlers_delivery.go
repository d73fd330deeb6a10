package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/delivery"
)

func getDeliveryHandler(svc *delivery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		d, err := svc.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	}
}

func getDeliveryByPrescriptionHandler(svc *delivery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prescriptionID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		d, err := svc.GetByPrescription(r.Context(), prescriptionID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	}
}

func confirmDeliveryPaymentHandler(svc *delivery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ConfirmPaymentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		d, err := svc.ConfirmPayment(r.Context(), id, req.PaymentMethodToken)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	}
}

func deliveryTransitionHandler(fn func(*http.Request, uuid.UUID) (*delivery.Delivery, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		d, err := fn(r, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	}
}
