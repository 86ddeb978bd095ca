package events

import "sync"

// EventSink receives every event a session publishes.
type EventSink interface {
	PublishEvent(event Event) error
}

type EventSinkFunc func(event Event) error

func (f EventSinkFunc) PublishEvent(event Event) error {
	return f(event)
}

// CollectingSink keeps published events in memory. Useful for tests and
// for surfaces that replay a session's activity.
type CollectingSink struct {
	mu     sync.Mutex
	events []Event
}

func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

func (c *CollectingSink) PublishEvent(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]Event, len(c.events))
	copy(ret, c.events)
	return ret
}

// OfType returns the collected events with the given type, in publish order.
func (c *CollectingSink) OfType(t EventType) []Event {
	var ret []Event
	for _, e := range c.Events() {
		if e.Type() == t {
			ret = append(ret, e)
		}
	}
	return ret
}

func (c *CollectingSink) Types() []EventType {
	var ret []EventType
	for _, e := range c.Events() {
		ret = append(ret, e.Type())
	}
	return ret
}

var _ EventSink = &CollectingSink{}
var _ EventSink = EventSinkFunc(nil)
