// Package session implements the conversation controller: it accepts prompts,
// runs one request at a time against a transport, accumulates streamed deltas
// into a live buffer and finalizes every submission into exactly one assistant
// message.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/helpers"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionBusy     = errors.New("a request is already in flight")
	ErrNotWaiting      = errors.New("no request in flight")
	ErrNotCancellable  = errors.New("non-streaming requests cannot be cancelled")
	ErrNoPendingPrompt = errors.New("no prompt to ask again")
	ErrSessionClosed   = errors.New("session is closed")
	ErrNoGateway       = errors.New("session has no persistence gateway")
)

// Controller owns one conversation: its history, its settings and the
// request currently in flight, if any.
type Controller struct {
	transport          transport.Transport
	builder            *request.Builder
	gateway            persistence.Gateway
	sink               events.EventSink
	metrics            *Metrics
	logger             zerolog.Logger
	stopMarker         string
	onPersistenceError func(op string, err error)
	persister          *persister

	mu            sync.Mutex
	settings      *settings.ChatSettings
	history       *conversation.History
	sessionID     string
	name          string
	pendingPrompt string
	state         State
	buffer        strings.Builder
	active        *ExecutionHandle
	// bumped for every submission and on Close, a run only finalizes while
	// its generation is current
	generation uint64
	// set while Load swaps in a stored conversation
	loading bool
	closed  bool
}

func New(t transport.Transport, options ...Option) *Controller {
	c := &Controller{
		transport: t,
		logger:    log.Logger,
		state:     StateReady,
	}
	for _, option := range options {
		option(c)
	}
	if c.settings == nil {
		c.settings = settings.NewChatSettings()
	}
	if c.history == nil {
		c.history = conversation.NewHistory()
	}
	if c.builder == nil {
		c.builder = request.NewBuilder()
	}
	c.logger = c.logger.With().Str("component", "session").Logger()

	if c.gateway != nil {
		c.persister = newPersister(c.gateway, c.sessionID, c.name, c.logger, c.adoptID, c.persistenceFailed)
	}
	return c
}

func (c *Controller) adoptID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = id
	}
}

func (c *Controller) persistenceFailed(op string, err error) {
	c.metrics.persistenceError(op)
	c.mu.Lock()
	meta := events.NewEventMetadata(c.sessionID, "")
	c.mu.Unlock()
	c.publish(context.Background(), events.NewPersistenceErrorEvent(meta, op, err))
	if c.onPersistenceError != nil {
		c.onPersistenceError(op, err)
	}
}

// publish sends e to the configured sink and to the sinks attached to ctx.
func (c *Controller) publish(ctx context.Context, e events.Event) {
	if c.sink != nil {
		if err := c.sink.PublishEvent(e); err != nil {
			c.logger.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event")
		}
	}
	events.PublishEventToContext(ctx, e)
}

// saveLocked queues a save of the current history. Callers hold c.mu so
// saves are queued in history order and bound to the conversation current at
// that point.
func (c *Controller) saveLocked() {
	if c.persister != nil {
		c.persister.save(c.history.Messages())
	}
}

func (c *Controller) metadataLocked(inferenceID string, cfg *settings.ChatSettings) events.EventMetadata {
	meta := events.NewEventMetadata(c.sessionID, inferenceID)
	meta.Streaming = cfg.Stream
	if cfg.Model != nil {
		meta.Provider = cfg.Model.Provider
		meta.Model = cfg.Model.Model
		meta.Temperature = cfg.Model.Temperature
	}
	return meta
}

// busyLocked reports whether a request or a Load is in progress.
func (c *Controller) busyLocked() bool {
	return c.state != StateReady || c.loading
}

func (c *Controller) markerFor(cfg *settings.ChatSettings) string {
	if c.stopMarker != "" {
		return c.stopMarker
	}
	return cfg.GetStopMarker()
}

// Submit appends prompt as a user message and starts the request. The user
// message is in the history when Submit returns. Configuration errors are
// returned before anything is appended; every other failure is recorded as an
// error message in the history.
func (c *Controller) Submit(ctx context.Context, prompt string) (*ExecutionHandle, error) {
	return c.submit(ctx, prompt, nil)
}

func (c *Controller) submit(ctx context.Context, prompt string, persona *string) (*ExecutionHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, request.ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if c.busyLocked() {
		c.mu.Unlock()
		c.metrics.rejected("busy")
		return nil, ErrSessionBusy
	}
	cfg := c.settings
	if persona != nil {
		cfg = cfg.WithPersona(*persona)
	}

	req, buildErr := c.builder.Build(cfg, c.history.Messages(), prompt)
	if buildErr != nil && request.IsConfigurationError(buildErr) {
		c.mu.Unlock()
		c.metrics.rejected("configuration")
		return nil, buildErr
	}
	// a rejected submission leaves the persona unchanged
	c.settings = cfg

	userMsg := conversation.NewUserMessage(prompt)
	c.history.Append(userMsg)
	userIdx := c.history.Len() - 1
	c.pendingPrompt = prompt
	c.state = StateWaiting
	c.generation++
	gen := c.generation

	inferenceID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	h := newExecutionHandle(c, c.sessionID, inferenceID, prompt, cfg.Stream, cancel)
	c.active = h
	c.buffer.Reset()
	meta := c.metadataLocked(inferenceID, cfg)
	c.saveLocked()
	c.mu.Unlock()

	c.logger.Debug().
		Str("inference_id", inferenceID).
		Bool("streaming", cfg.Stream).
		Int("history_len", userIdx+1).
		Fields(cfg.GetMetadata()).
		Msg("submission accepted")

	c.metrics.started()
	c.publish(ctx, events.NewMessageAppendedEvent(meta.Next(), userIdx, userMsg))
	c.publish(ctx, events.NewStateChangedEvent(meta.Next(), string(StateReady), string(StateWaiting)))

	go c.run(runCtx, h, gen, cfg, req, buildErr, meta)

	return h, nil
}

type runResult struct {
	outcome Outcome
	text    string
	message *conversation.Message
	err     error
}

func (c *Controller) run(
	ctx context.Context,
	h *ExecutionHandle,
	gen uint64,
	cfg *settings.ChatSettings,
	req *request.Request,
	buildErr error,
	meta events.EventMetadata,
) {
	start := time.Now()
	var res runResult
	switch {
	case buildErr != nil:
		res = runResult{outcome: OutcomeFailed, err: buildErr}
	case h.Streaming:
		res = c.runStreaming(ctx, h, gen, req, meta)
	default:
		res = c.runNonStreaming(ctx, h, req, meta)
	}
	c.finalize(ctx, h, gen, cfg, res, meta, start)
}

func (c *Controller) runStreaming(
	ctx context.Context,
	h *ExecutionHandle,
	gen uint64,
	req *request.Request,
	meta events.EventMetadata,
) runResult {
	c.publish(ctx, events.NewStartEvent(meta.Next(), true))

	h.setCallState(transport.CallStateConnecting)
	d, err := c.transport.SendStreaming(ctx, req, h.signal)
	if err != nil {
		return runResult{outcome: OutcomeFailed, err: err}
	}
	defer func() {
		if err := d.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("failed to close stream")
		}
	}()
	h.setCallState(transport.CallStateStreaming)

	for {
		delta := d.Next(ctx)
		if delta.Done {
			break
		}

		c.mu.Lock()
		if c.closed || c.generation != gen {
			c.mu.Unlock()
			return runResult{outcome: OutcomeDiscarded}
		}
		c.buffer.WriteString(delta.Text)
		completion := c.buffer.String()
		c.mu.Unlock()

		c.metrics.delta()
		c.publish(ctx, events.NewPartialCompletionEvent(meta.Next(), delta.Text, completion))
	}

	c.mu.Lock()
	text := c.buffer.String()
	c.mu.Unlock()

	if err := d.Err(); err != nil {
		c.logger.Debug().Err(err).Int("delta_count", d.Count()).Msg("stream failed")
		return runResult{outcome: OutcomeFailed, text: text, err: err}
	}
	if d.Cancelled() {
		return runResult{outcome: OutcomeCancelled, text: text}
	}
	return runResult{outcome: OutcomeCompleted, text: text}
}

func (c *Controller) runNonStreaming(
	ctx context.Context,
	h *ExecutionHandle,
	req *request.Request,
	meta events.EventMetadata,
) runResult {
	c.publish(ctx, events.NewStartEvent(meta.Next(), false))

	h.setCallState(transport.CallStateConnecting)
	resp, err := c.transport.SendNonStreaming(ctx, req)
	if err != nil {
		return runResult{outcome: OutcomeFailed, err: err}
	}
	if resp == nil {
		return runResult{outcome: OutcomeFailed, err: errors.New("empty response")}
	}

	// only the content is kept, the reply is always an assistant turn
	msg := conversation.NewAssistantMessage(resp.Message.Content)
	return runResult{outcome: OutcomeCompleted, text: msg.Content, message: &msg}
}

func (c *Controller) finalize(
	ctx context.Context,
	h *ExecutionHandle,
	gen uint64,
	cfg *settings.ChatSettings,
	res runResult,
	meta events.EventMetadata,
	start time.Time,
) {
	elapsed := time.Since(start)

	c.mu.Lock()
	if res.outcome == OutcomeDiscarded || c.closed || c.generation != gen {
		c.mu.Unlock()
		c.logger.Debug().Str("inference_id", h.InferenceID).Msg("discarding result of detached request")
		h.setResult(Result{Outcome: OutcomeDiscarded})
		return
	}

	var msg conversation.Message
	switch res.outcome {
	case OutcomeCompleted:
		if res.message != nil {
			msg = *res.message
		} else {
			msg = conversation.NewAssistantMessage(res.text)
		}
		h.setCallState(transport.CallStateCompleted)
	case OutcomeCancelled:
		marker := c.markerFor(cfg)
		content := marker
		if res.text != "" {
			content = res.text + " " + marker
		}
		msg = conversation.NewAssistantMessage(content, conversation.WithStopped())
		h.setCallState(transport.CallStateCancelled)
	default:
		msg = conversation.NewErrorMessage(res.err)
		h.setCallState(transport.CallStateFailed)
	}

	// the controller stays Waiting until the terminal events are out, so a
	// following submission cannot publish its events ahead of them
	c.history.Append(msg)
	idx := c.history.Len() - 1
	c.buffer.Reset()
	meta.SessionID = c.sessionID
	c.saveLocked()
	c.mu.Unlock()

	meta.DurationMs = helpers.Ptr(elapsed.Milliseconds())
	meta.Extra = map[string]interface{}{"call_state": string(h.CallState())}

	c.logger.Debug().
		Str("inference_id", h.InferenceID).
		Str("outcome", string(res.outcome)).
		Dur("duration", elapsed).
		Msg("submission finalized")

	c.publish(ctx, events.NewMessageAppendedEvent(meta.Next(), idx, msg))
	switch res.outcome {
	case OutcomeCompleted:
		c.publish(ctx, events.NewFinalEvent(meta.Next(), msg.Content))
	case OutcomeCancelled:
		c.publish(ctx, events.NewInterruptEvent(meta.Next(), msg.Content))
	default:
		c.publish(ctx, events.NewErrorEvent(meta.Next(), res.err))
	}
	c.publish(ctx, events.NewStateChangedEvent(meta.Next(), string(StateWaiting), string(StateReady)))

	c.mu.Lock()
	current := !c.closed && c.generation == gen
	if current {
		c.state = StateReady
		c.active = nil
	}
	c.mu.Unlock()
	// Close already counted a request it detached
	if current {
		c.metrics.finished(res.outcome, h.Streaming, elapsed)
	}

	h.setResult(Result{Outcome: res.outcome, Message: msg, Err: res.err})
}

// Cancel asks the in-flight streaming request to stop. The answer received so
// far is kept with the stop marker appended. Calling Cancel again while the
// same request is in flight has no further effect.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	h := c.active
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if h == nil {
		return ErrNotWaiting
	}
	return c.cancelHandle(h)
}

func (c *Controller) cancelHandle(h *ExecutionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != h {
		return ErrNotWaiting
	}
	if !h.Streaming {
		return ErrNotCancellable
	}
	if h.signal.Set() {
		c.logger.Debug().Str("inference_id", h.InferenceID).Msg("cancel requested")
	}
	return nil
}

// AskAgain resubmits the last prompt. The previous exchange stays in the
// history.
func (c *Controller) AskAgain(ctx context.Context, options ...AskOption) (*ExecutionHandle, error) {
	o := &askOptions{}
	for _, option := range options {
		option(o)
	}

	c.mu.Lock()
	prompt := c.pendingPrompt
	busy := c.busyLocked()
	closed := c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return nil, ErrSessionClosed
	case busy:
		return nil, ErrSessionBusy
	case prompt == "":
		return nil, ErrNoPendingPrompt
	}
	return c.submit(ctx, prompt, o.persona)
}

// ReloadForEdit returns the last submitted prompt.
func (c *Controller) ReloadForEdit() string {
	return c.PendingPrompt()
}

// SetPersona changes the system prompt used by the next submission.
func (c *Controller) SetPersona(systemPrompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = c.settings.WithPersona(systemPrompt)
}

// SetSettings replaces the chat settings used by the next submission.
func (c *Controller) SetSettings(s *settings.ChatSettings) error {
	if s == nil {
		return errors.New("settings are nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s.Clone()
	return nil
}

// Rename changes the display name. For a persisted conversation the rename
// is sent to the gateway and its error returned.
func (c *Controller) Rename(ctx context.Context, name string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.loading {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	c.name = name
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	return c.persister.rename(ctx, name)
}

func (c *Controller) deleteLocked(f func() error) error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.busyLocked() {
		return ErrSessionBusy
	}
	if err := f(); err != nil {
		return err
	}
	c.saveLocked()
	return nil
}

// DeleteMessage removes the message at index i.
func (c *Controller) DeleteMessage(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(func() error {
		_, err := c.history.DeleteAt(i)
		return err
	})
}

// DeleteExchange removes the message at index i together with the one
// before it.
func (c *Controller) DeleteExchange(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(func() error {
		_, err := c.history.DeletePair(i)
		return err
	})
}

// Load replaces the history with a stored conversation. The controller is busy
// until Load returns: submissions and deletions fail with ErrSessionBusy.
func (c *Controller) Load(ctx context.Context, id string) error {
	if c.gateway == nil {
		return ErrNoGateway
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	if err := c.persister.flush(ctx); err != nil {
		return err
	}
	doc, err := c.gateway.Load(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	c.history.Replace(doc.Messages)
	c.sessionID = doc.ID
	c.name = doc.Name
	c.pendingPrompt = ""
	c.persister.adopt(doc.ID, doc.Name)
	return nil
}

// Flush waits until all queued persistence operations have been processed.
func (c *Controller) Flush(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	return c.persister.flush(ctx)
}

// Close detaches the in-flight request, if any, and stops the controller.
// Deltas that arrive afterwards are dropped. Close does not wait for the
// request to end.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	h := c.active
	c.active = nil
	c.state = StateReady
	c.buffer.Reset()
	c.mu.Unlock()

	if h != nil {
		h.abort()
		h.setResult(Result{Outcome: OutcomeDiscarded})
		c.metrics.finished(OutcomeDiscarded, h.Streaming, 0)
	}
	if c.persister != nil {
		c.persister.close()
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LiveBuffer is the text streamed so far for the in-flight request. It is
// empty when no streaming request is in flight.
func (c *Controller) LiveBuffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

// History returns a copy of the messages.
func (c *Controller) History() conversation.Conversation {
	return c.history.Messages()
}

// SessionID is empty until the conversation has been persisted.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Controller) PendingPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingPrompt
}

// Settings returns a copy of the current chat settings.
func (c *Controller) Settings() *settings.ChatSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}
