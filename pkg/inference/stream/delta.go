package stream

// Delta is one element of a decoded stream. A stream is a finite sequence of
// text deltas followed by exactly one delta with Done set.
type Delta struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

var doneDelta = Delta{Done: true}
