package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InferenceData describes the model call an event belongs to.
type InferenceData struct {
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Streaming   bool     `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	DurationMs  *int64   `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

type EventMetadata struct {
	InferenceData

	// ID is unique per published event.
	ID uuid.UUID `json:"message_id" yaml:"message_id"`
	// SessionID is the persisted conversation id, empty until the first save.
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	// InferenceID groups every event of a single submission.
	InferenceID string                 `json:"inference_id,omitempty" yaml:"inference_id,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func NewEventMetadata(sessionID, inferenceID string) EventMetadata {
	return EventMetadata{
		ID:          uuid.New(),
		SessionID:   sessionID,
		InferenceID: inferenceID,
	}
}

// Next returns a copy with a fresh event ID.
func (em EventMetadata) Next() EventMetadata {
	em.ID = uuid.New()
	return em
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.InferenceID != "" {
		e.Str("inference_id", em.InferenceID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Provider != "" {
		e.Str("provider", em.Provider)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}
