package session

import (
	"context"
	"sync"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/pkg/errors"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// Result is the terminal outcome of one submission.
type Result struct {
	Outcome Outcome
	// Message is the assistant message appended to the history. It is empty
	// for discarded submissions.
	Message conversation.Message
	// Err is the cause of a failed submission.
	Err error
}

// ExecutionHandle represents a single in-flight submission.
//
// It is cancelable and waitable. Cancellation of a streaming submission is
// cooperative and takes effect at the next delta boundary.
type ExecutionHandle struct {
	SessionID   string
	InferenceID string
	Prompt      string
	Streaming   bool

	controller *Controller
	signal     *stream.CancelSignal
	done       chan struct{}
	once       sync.Once

	mu        sync.Mutex
	cancel    context.CancelFunc
	callState transport.CallState
	result    Result
}

func newExecutionHandle(
	c *Controller,
	sessionID, inferenceID, prompt string,
	streaming bool,
	cancel context.CancelFunc,
) *ExecutionHandle {
	ret := &ExecutionHandle{
		SessionID:   sessionID,
		InferenceID: inferenceID,
		Prompt:      prompt,
		Streaming:   streaming,
		controller:  c,
		done:        make(chan struct{}),
		cancel:      cancel,
		callState:   transport.CallStateIdle,
	}
	if streaming {
		ret.signal = stream.NewCancelSignal()
	}
	return ret
}

// setResult resolves the handle. Only the first call has an effect.
func (h *ExecutionHandle) setResult(r Result) {
	h.once.Do(func() {
		h.mu.Lock()
		h.result = r
		cancel := h.cancel
		h.cancel = nil
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(h.done)
	})
}

// abort tears down the run context, used when the controller is closed.
func (h *ExecutionHandle) abort() {
	h.signal.Set()
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *ExecutionHandle) setCallState(s transport.CallState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.callState.IsTerminal() {
		return
	}
	h.callState = s
}

// CallState is the transport state of the underlying request.
func (h *ExecutionHandle) CallState() transport.CallState {
	if h == nil {
		return transport.CallStateIdle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callState
}

// Cancel asks the controller to stop this submission. It is safe to call
// multiple times and returns ErrNotCancellable for non-streaming requests.
func (h *ExecutionHandle) Cancel() error {
	if h == nil {
		return ErrExecutionHandleNil
	}
	if !h.Streaming {
		return ErrNotCancellable
	}
	if !h.IsRunning() {
		return nil
	}
	return h.controller.cancelHandle(h)
}

// Done is closed once the submission is resolved.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the submission is resolved. The returned error is the
// cause of a failed submission, the failure is also recorded in the history.
func (h *ExecutionHandle) Wait() (Result, error) {
	if h == nil {
		return Result{}, ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.result.Err
}

// IsRunning reports whether the submission appears to still be running.
func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
