package slot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateDay expands a doctor's working window on a given day into
// back-to-back fixed-duration slots. Slots never overlap for the same doctor
// because each starts where the previous one ends.
func GenerateDay(doctorID uuid.UUID, day time.Time, startHour, endHour, durationMinutes int, mode ConsultationMode) ([]TimeSlot, error) {
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("invalid working window %d-%d", startHour, endHour)
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("invalid slot duration %d", durationMinutes)
	}
	if !ValidMode(mode) {
		return nil, fmt.Errorf("invalid consultation mode %q", mode)
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, day.Location())
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), endHour, 0, 0, 0, day.Location())
	step := time.Duration(durationMinutes) * time.Minute

	var slots []TimeSlot
	for start := dayStart; !start.Add(step).After(dayEnd); start = start.Add(step) {
		slots = append(slots, TimeSlot{
			ID:              uuid.New(),
			DoctorID:        doctorID,
			StartTime:       start,
			EndTime:         start.Add(step),
			DurationMinutes: durationMinutes,
			Mode:            mode,
			State:           StateFree,
		})
	}

	return slots, nil
}
