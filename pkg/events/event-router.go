package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// DefaultTopic is the topic sessions publish on when wired through an EventRouter.
const DefaultTopic = "chat"

// ChatEventHandler receives session events, one method per event kind.
type ChatEventHandler interface {
	HandleStateChanged(ctx context.Context, e *EventStateChanged) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleInterrupt(ctx context.Context, e *EventInterrupt) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	dumpWriter io.Writer
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithPublisher(publisher message.Publisher) EventRouterOption {
	return func(r *EventRouter) {
		r.Publisher = publisher
	}
}

func WithSubscriber(subscriber message.Subscriber) EventRouterOption {
	return func(r *EventRouter) {
		r.Subscriber = subscriber
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
	}
}

func WithDumpWriter(w io.Writer) EventRouterOption {
	return func(r *EventRouter) {
		r.dumpWriter = w
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger:     watermill.NopLogger{},
		dumpWriter: os.Stdout,
	}

	for _, o := range options {
		o(ret)
	}

	if ret.Publisher == nil || ret.Subscriber == nil {
		goPubSub := gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, ret.logger)
		if ret.Publisher == nil {
			ret.Publisher = goPubSub
		}
		if ret.Subscriber == nil {
			ret.Subscriber = goPubSub
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// NewPublisherManager returns a PublisherManager feeding this router on topic.
func (e *EventRouter) NewPublisherManager(topic string) *PublisherManager {
	pm := NewPublisherManager()
	pm.SubscribePublisher(topic, e.Publisher)
	return pm
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		// not returning just yet
	}

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

// DispatchTo parses session events and routes them to the matching
// ChatEventHandler method. Unparseable payloads are logged and acked.
func DispatchTo(handler ChatEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse event from message payload")
			return nil
		}

		msgCtx := msg.Context()
		switch ev := e.(type) {
		case *EventStateChanged:
			return handler.HandleStateChanged(msgCtx, ev)
		case *EventPartialCompletion:
			return handler.HandlePartialCompletion(msgCtx, ev)
		case *EventFinal:
			return handler.HandleFinal(msgCtx, ev)
		case *EventError:
			return handler.HandleError(msgCtx, ev)
		case *EventInterrupt:
			return handler.HandleInterrupt(msgCtx, ev)
		default:
			log.Trace().Str("event_type", string(e.Type())).Msg("Unhandled event type")
		}
		return nil
	}
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// DumpRawEvents writes every event as indented JSON. Unless verbose is set,
// the metadata block is collapsed to the event id.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["id"] = meta["message_id"]
		}
		delete(s, "meta")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.dumpWriter, string(s_))
	return err
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}
