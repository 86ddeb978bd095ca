package events

import (
	"encoding/json"
	"fmt"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published when a request has been handed to the transport.
	EventTypeStart EventType = "start"
	// EventTypePartialCompletion carries one delta and the live buffer after applying it.
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	// EventTypeInterrupt acknowledges a user cancellation.
	EventTypeInterrupt EventType = "interrupt"
	EventTypeError     EventType = "error"

	EventTypeStateChanged     EventType = "state-changed"
	EventTypeMessageAppended  EventType = "message-appended"
	EventTypePersistenceError EventType = "persistence-error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson)
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
	Streaming bool `json:"streaming"`
}

func NewStartEvent(metadata EventMetadata, streaming bool) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
		Streaming: streaming,
	}
}

var _ Event = &EventPartialCompletionStart{}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the whole live buffer after Delta was applied.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventInterrupt struct {
	EventImpl
	// Text is the finalized content, stop marker included.
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

type EventStateChanged struct {
	EventImpl
	Previous string `json:"previous"`
	State    string `json:"state"`
}

func NewStateChangedEvent(metadata EventMetadata, previous, state string) *EventStateChanged {
	return &EventStateChanged{
		EventImpl: EventImpl{
			Type_:     EventTypeStateChanged,
			Metadata_: metadata,
		},
		Previous: previous,
		State:    state,
	}
}

var _ Event = &EventStateChanged{}

type EventMessageAppended struct {
	EventImpl
	Index   int                  `json:"index"`
	Message conversation.Message `json:"message"`
}

func NewMessageAppendedEvent(metadata EventMetadata, index int, msg conversation.Message) *EventMessageAppended {
	return &EventMessageAppended{
		EventImpl: EventImpl{
			Type_:     EventTypeMessageAppended,
			Metadata_: metadata,
		},
		Index:   index,
		Message: msg,
	}
}

var _ Event = &EventMessageAppended{}

type EventPersistenceError struct {
	EventImpl
	Op          string `json:"op"`
	ErrorString string `json:"error_string"`
}

func NewPersistenceErrorEvent(metadata EventMetadata, op string, err error) *EventPersistenceError {
	return &EventPersistenceError{
		EventImpl: EventImpl{
			Type_:     EventTypePersistenceError,
			Metadata_: metadata,
		},
		Op:          op,
		ErrorString: err.Error(),
	}
}

var _ Event = &EventPersistenceError{}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return toTypedEventWithPayload[EventPartialCompletionStart](e)
	case EventTypePartialCompletion:
		return toTypedEventWithPayload[EventPartialCompletion](e)
	case EventTypeFinal:
		return toTypedEventWithPayload[EventFinal](e)
	case EventTypeInterrupt:
		return toTypedEventWithPayload[EventInterrupt](e)
	case EventTypeError:
		return toTypedEventWithPayload[EventError](e)
	case EventTypeStateChanged:
		return toTypedEventWithPayload[EventStateChanged](e)
	case EventTypeMessageAppended:
		return toTypedEventWithPayload[EventMessageAppended](e)
	case EventTypePersistenceError:
		return toTypedEventWithPayload[EventPersistenceError](e)
	}

	return e, nil
}

type typedEvent[T any] interface {
	*T
	Event
	setPayload([]byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func toTypedEventWithPayload[T any, PT typedEvent[T]](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, fmt.Errorf("could not cast event to %s", e.Type_)
	}
	PT(ret).setPayload(e.payload)
	return PT(ret), nil
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}
