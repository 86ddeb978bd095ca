package stream

import "sync/atomic"

// CancelSignal is a cooperative stop request. Consumers poll it between
// deltas; setting it never interrupts a read that is already in progress.
type CancelSignal struct {
	set atomic.Bool
}

func NewCancelSignal() *CancelSignal {
	return &CancelSignal{}
}

// Set raises the signal. It reports whether this call was the one that raised it.
func (c *CancelSignal) Set() bool {
	if c == nil {
		return false
	}
	return c.set.CompareAndSwap(false, true)
}

func (c *CancelSignal) IsSet() bool {
	if c == nil {
		return false
	}
	return c.set.Load()
}
