// Package event records domain events to the event_logs audit table. Engines
// record an event alongside every state transition; recording failures are
// logged and never fail the transition.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Event struct {
	ID         int64
	EventType  string
	EntityKind string
	EntityID   uuid.UUID
	Payload    []byte
	CreatedAt  time.Time
}

type Repository interface {
	InsertEvent(ctx context.Context, ev Event) error
}

type Recorder struct {
	repo Repository
	log  zerolog.Logger
}

func NewRecorder(repo Repository, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		log:  log.With().Str("component", "event-recorder").Logger(),
	}
}

func (r *Recorder) Record(ctx context.Context, entityKind string, entityID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := Event{
		EventType:  eventType,
		EntityKind: entityKind,
		EntityID:   entityID,
		Payload:    data,
		CreatedAt:  time.Now(),
	}

	if err := r.repo.InsertEvent(ctx, ev); err != nil {
		r.log.Error().Err(err).
			Str("event_type", eventType).
			Str("entity_kind", entityKind).
			Str("entity_id", entityID.String()).
			Msg("failed to insert event log")
	}
}
