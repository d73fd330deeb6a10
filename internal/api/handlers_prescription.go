package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/prescription"
)

func getPrescriptionHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPrescriptionResponse(p))
	}
}

func getPrescriptionByAppointmentHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.GetByAppointment(r.Context(), appointmentID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPrescriptionResponse(p))
	}
}

func setPrescriptionItemsHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req SetItemsRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		items := make([]prescription.Item, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, prescription.Item{
				MedicationName: it.MedicationName,
				Dosage:         it.Dosage,
				Quantity:       it.Quantity,
				Instructions:   it.Instructions,
			})
		}

		p, err := svc.SetItems(r.Context(), id, items)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPrescriptionResponse(p))
	}
}

func prescriptionTransitionHandler(fn func(*http.Request, uuid.UUID) (*prescription.Prescription, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := fn(r, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPrescriptionResponse(p))
	}
}
