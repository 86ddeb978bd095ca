package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

const (
	MetadataSequenceNumber = "sequence_number"
	MetadataEventType      = "event_type"
	MetadataInferenceID    = "inference_id"
)

// PublisherManager is used to distribute messages to a set of Publishers.
// As such, you "subscribe" a publisher to the given topic.
// When you Publish a message, it will get distributed to all publishers
// on the topic they were subscribed with.
//
// The Manager also keeps a sequence number for each outgoing message,
// in the order they are handled by Publish.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

// Publish serializes payload to JSON and distributes it to all Publishers
// across all topics. A failing publisher is logged and skipped.
func (s *PublisherManager) Publish(payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	if e, ok := payload.(Event); ok {
		msg.Metadata.Set(MetadataEventType, string(e.Type()))
		if id := e.Metadata().InferenceID; id != "" {
			msg.Metadata.Set(MetadataInferenceID, id)
		}
	}

	// lock for the sequence number and to keep delivery in publish order
	s.mutex.Lock()
	defer s.mutex.Unlock()

	msg.Metadata.Set(MetadataSequenceNumber, fmt.Sprintf("%d", s.sequenceNumber))
	s.sequenceNumber++

	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			err = sub.Publish(topic, msg.Copy())
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}

	return nil
}

func (s *PublisherManager) PublishEvent(event Event) error {
	return s.Publish(event)
}

var _ EventSink = &PublisherManager{}
