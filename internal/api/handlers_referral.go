package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/referral"
)

func createReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReferralRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		referringID, _ := uuid.Parse(req.ReferringDoctorID)
		referredID, _ := uuid.Parse(req.ReferredDoctorID)

		rf, err := svc.Create(r.Context(), referral.CreateParams{
			PatientID:         patientID,
			ReferringDoctorID: referringID,
			ReferredDoctorID:  referredID,
			Reason:            req.Reason,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReferralResponse(rf))
	}
}

func getReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		rf, err := svc.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(rf))
	}
}

func listReferralsHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		rfs, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]ReferralResponse, 0, len(rfs))
		for i := range rfs {
			resp = append(resp, toReferralResponse(&rfs[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func referralTransitionHandler(fn func(*http.Request, uuid.UUID) (*referral.Referral, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		rf, err := fn(r, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(rf))
	}
}

func scheduleReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ScheduleReferralRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		slotID, _ := uuid.Parse(req.SlotID)

		rf, err := svc.Schedule(r.Context(), id, slotID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(rf))
	}
}
