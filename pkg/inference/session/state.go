package session

// State is the controller state. A controller is Waiting from the moment a
// prompt is accepted until its terminal message has been appended.
type State string

const (
	StateReady   State = "ready"
	StateWaiting State = "waiting"
)

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeCancelled is a user stop. It is not an error, the partial answer
	// is kept with the stop marker appended.
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDiscarded means the controller was closed while the request was
	// in flight and nothing was appended.
	OutcomeDiscarded Outcome = "discarded"
)
