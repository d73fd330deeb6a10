package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/slot"
)

const maxSlotResults = 500

// availableSlotsHandler serves the read-only availability surface:
// GET /doctors/{doctorID}/slots?start_date=...&end_date=...&mode=...
func availableSlotsHandler(store *slot.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(urlParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		q := r.URL.Query()

		from, err := time.Parse(time.RFC3339, q.Get("start_date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "start_date must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("end_date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", "end_date must be RFC3339")
			return
		}
		if !from.Before(to) {
			writeError(w, http.StatusBadRequest, "invalid_date_range", "start_date must be before end_date")
			return
		}

		mode := slot.ConsultationMode(q.Get("mode"))
		if !slot.ValidMode(mode) {
			writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be VIRTUAL or PHYSICAL")
			return
		}

		cursor := store.QueryAvailable(doctorID, from, to, mode)
		slots, err := cursor.Collect(r.Context(), maxSlotResults)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
