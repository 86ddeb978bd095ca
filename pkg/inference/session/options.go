package session

import (
	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/rs/zerolog"
)

type Option func(*Controller)

// WithSettings sets the chat settings. The controller keeps its own copy.
func WithSettings(s *settings.ChatSettings) Option {
	return func(c *Controller) {
		c.settings = s.Clone()
	}
}

func WithHistory(msgs ...conversation.Message) Option {
	return func(c *Controller) {
		c.history = conversation.NewHistory(msgs...)
	}
}

// WithSessionID marks the controller as bound to an already persisted
// conversation.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.sessionID = id
	}
}

func WithName(name string) Option {
	return func(c *Controller) {
		c.name = name
	}
}

// WithGateway enables persistence. Without a gateway the history only lives
// in memory.
func WithGateway(g persistence.Gateway) Option {
	return func(c *Controller) {
		c.gateway = g
	}
}

func WithBuilder(b *request.Builder) Option {
	return func(c *Controller) {
		c.builder = b
	}
}

// WithPublisher sends every session event to sink.
func WithPublisher(sink events.EventSink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithStopMarker overrides the marker appended to a cancelled answer.
func WithStopMarker(marker string) Option {
	return func(c *Controller) {
		c.stopMarker = marker
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithPersistenceErrorHandler is called from the persistence worker for
// every failed gateway operation.
func WithPersistenceErrorHandler(f func(op string, err error)) Option {
	return func(c *Controller) {
		c.onPersistenceError = f
	}
}

type askOptions struct {
	persona *string
}

type AskOption func(*askOptions)

// WithPersona switches the system prompt for this and later submissions.
// Messages already in the history are left as they are.
func WithPersona(systemPrompt string) AskOption {
	return func(o *askOptions) {
		o.persona = &systemPrompt
	}
}
