package session

import (
	"context"
	"sync"
	"testing"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingGateway struct{}

var errDiskFull = errors.New("disk full")

func (failingGateway) Create(context.Context, string, conversation.Conversation) (*persistence.Document, error) {
	return nil, errDiskFull
}

func (failingGateway) Load(context.Context, string) (*persistence.Document, error) {
	return nil, errDiskFull
}

func (failingGateway) Save(context.Context, string, conversation.Conversation) error {
	return errDiskFull
}

func (failingGateway) Rename(context.Context, string, string) error {
	return errDiskFull
}

func (failingGateway) Delete(context.Context, string) error {
	return errDiskFull
}

func submitAndWait(t *testing.T, c *Controller, prompt string) Result {
	t.Helper()
	h, err := c.Submit(context.Background(), prompt)
	require.NoError(t, err)
	res, _ := h.Wait()
	return res
}

func TestController_PersistsAndAdoptsID(t *testing.T) {
	store := persistence.NewMemoryStore()
	c, _ := newController(t, &fakeTransport{stream: sliceStream("Hi", " there")}, true,
		WithGateway(store), WithName("greeting"))

	assert.Equal(t, "", c.SessionID())
	submitAndWait(t, c, "Hello")
	require.NoError(t, c.Flush(context.Background()))

	id := c.SessionID()
	require.NotEmpty(t, id)

	doc, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "greeting", doc.Name)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "Hi there", doc.Messages[1].Content)

	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestController_RenameBeforeAndAfterCreation(t *testing.T) {
	store := persistence.NewMemoryStore()
	c, _ := newController(t, &fakeTransport{stream: sliceStream("ok")}, true, WithGateway(store))
	ctx := context.Background()

	require.NoError(t, c.Rename(ctx, "draft"))
	submitAndWait(t, c, "Hello")
	require.NoError(t, c.Flush(ctx))

	doc, err := store.Load(ctx, c.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "draft", doc.Name)

	require.NoError(t, c.Rename(ctx, "final"))
	assert.Equal(t, "final", c.Name())
	doc, err = store.Load(ctx, c.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "final", doc.Name)
}

func TestController_PersistenceFailureKeepsHistory(t *testing.T) {
	var mu sync.Mutex
	var ops []string
	c, sink := newController(t, &fakeTransport{stream: sliceStream("ok")}, true,
		WithGateway(failingGateway{}),
		WithPersistenceErrorHandler(func(op string, err error) {
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, op)
		}))

	res := submitAndWait(t, c, "Hello")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.NoError(t, c.Flush(context.Background()))

	assert.Len(t, c.History(), 2)
	assert.Equal(t, "", c.SessionID())
	assert.Equal(t, StateReady, c.State())

	mu.Lock()
	assert.Equal(t, []string{"create", "create"}, ops)
	mu.Unlock()

	errs := sink.OfType(events.EventTypePersistenceError)
	require.Len(t, errs, 2)
	pe := errs[0].(*events.EventPersistenceError)
	assert.Equal(t, "create", pe.Op)
	assert.Contains(t, pe.ErrorString, "disk full")
}

func TestController_Load(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, "stored", conversation.Conversation{
		conversation.NewUserMessage("old question"),
		conversation.NewAssistantMessage("old answer"),
	})
	require.NoError(t, err)

	tr := &fakeTransport{stream: sliceStream("new answer")}
	c, _ := newController(t, tr, true, WithGateway(store))
	require.NoError(t, c.Load(ctx, doc.ID))
	assert.Equal(t, doc.ID, c.SessionID())
	assert.Equal(t, "stored", c.Name())
	require.Len(t, c.History(), 2)

	submitAndWait(t, c, "new question")
	require.NoError(t, c.Flush(ctx))
	assert.Len(t, tr.Requests()[0].ChatHistory, 2)

	loaded, err := store.Load(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 4)

	err = c.Load(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Len(t, c.History(), 4)
}

// gatedGateway holds Load and Save calls until their gate is closed. A nil
// gate lets calls through.
type gatedGateway struct {
	persistence.Gateway
	loadGate chan struct{}
	saveGate chan struct{}
	entered  chan string
}

func newGatedGateway(g persistence.Gateway) *gatedGateway {
	return &gatedGateway{Gateway: g, entered: make(chan string, 16)}
}

func (g *gatedGateway) Load(ctx context.Context, id string) (*persistence.Document, error) {
	if g.loadGate != nil {
		g.entered <- "load"
		<-g.loadGate
	}
	return g.Gateway.Load(ctx, id)
}

func (g *gatedGateway) Save(ctx context.Context, id string, history conversation.Conversation) error {
	if g.saveGate != nil {
		g.entered <- "save"
		<-g.saveGate
	}
	return g.Gateway.Save(ctx, id, history)
}

func contents(msgs conversation.Conversation) []string {
	var ret []string
	for _, m := range msgs {
		ret = append(ret, m.Content)
	}
	return ret
}

func TestController_BusyWhileLoading(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	oldDoc, err := store.Create(ctx, "old", conversation.Conversation{
		conversation.NewUserMessage("old-q"),
		conversation.NewAssistantMessage("old-a"),
	})
	require.NoError(t, err)
	newDoc, err := store.Create(ctx, "new", conversation.Conversation{
		conversation.NewUserMessage("new-q"),
		conversation.NewAssistantMessage("new-a"),
	})
	require.NoError(t, err)

	gw := newGatedGateway(store)
	c, _ := newController(t, &fakeTransport{stream: sliceStream("x")}, true, WithGateway(gw))
	require.NoError(t, c.Load(ctx, oldDoc.ID))
	require.Len(t, c.History(), 2)

	gw.loadGate = make(chan struct{})
	loaded := make(chan error, 1)
	go func() {
		loaded <- c.Load(ctx, newDoc.ID)
	}()
	require.Equal(t, "load", <-gw.entered)

	_, err = c.Submit(ctx, "concurrent")
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorIs(t, c.DeleteMessage(0), ErrSessionBusy)
	assert.ErrorIs(t, c.DeleteExchange(1), ErrSessionBusy)
	assert.ErrorIs(t, c.Rename(ctx, "other"), ErrSessionBusy)
	assert.ErrorIs(t, c.Load(ctx, oldDoc.ID), ErrSessionBusy)

	close(gw.loadGate)
	require.NoError(t, <-loaded)
	require.NoError(t, c.Flush(ctx))

	assert.Equal(t, newDoc.ID, c.SessionID())
	assert.Equal(t, []string{"new-q", "new-a"}, contents(c.History()))

	stored, err := store.Load(ctx, newDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-q", "new-a"}, contents(stored.Messages))
	stored, err = store.Load(ctx, oldDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-q", "old-a"}, contents(stored.Messages))

	submitAndWait(t, c, "follow-up")
	require.NoError(t, c.Flush(ctx))
	stored, err = store.Load(ctx, newDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-q", "new-a", "follow-up", "x"}, contents(stored.Messages))
}

func TestPersister_QueuedJobsKeepTheirConversation(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	first, err := store.Create(ctx, "first", nil)
	require.NoError(t, err)
	second, err := store.Create(ctx, "second", conversation.Conversation{
		conversation.NewUserMessage("kept"),
	})
	require.NoError(t, err)

	gw := newGatedGateway(store)
	gw.saveGate = make(chan struct{})
	p := newPersister(gw, first.ID, "first", zerolog.Nop(), nil, nil)
	defer p.close()

	p.save(conversation.Conversation{conversation.NewUserMessage("a")})
	require.Equal(t, "save", <-gw.entered)
	p.save(conversation.Conversation{conversation.NewUserMessage("a"), conversation.NewAssistantMessage("b")})
	p.adopt(second.ID, "second")
	close(gw.saveGate)
	require.NoError(t, p.flush(ctx))

	stored, err := store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, contents(stored.Messages))
	stored, err = store.Load(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(stored.Messages))
}

func TestPersister_CreatedIDFollowsQueuedSaves(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	other, err := store.Create(ctx, "other", nil)
	require.NoError(t, err)

	p := newPersister(store, "", "draft", zerolog.Nop(), nil, nil)
	defer p.close()

	p.save(conversation.Conversation{conversation.NewUserMessage("a")})
	p.save(conversation.Conversation{conversation.NewUserMessage("a"), conversation.NewAssistantMessage("b")})
	p.adopt(other.ID, "other")
	require.NoError(t, p.flush(ctx))

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	stored, err := store.Load(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
	for _, s := range summaries {
		if s.ID != other.ID {
			assert.Equal(t, "draft", s.Name)
			assert.Equal(t, 2, s.MessageCount)
		}
	}
}

func TestController_LoadWithoutGateway(t *testing.T) {
	c, _ := newController(t, &fakeTransport{stream: sliceStream()}, true)
	assert.ErrorIs(t, c.Load(context.Background(), "x"), ErrNoGateway)
	assert.NoError(t, c.Flush(context.Background()))
	assert.NoError(t, c.Rename(context.Background(), "name only"))
	assert.Equal(t, "name only", c.Name())
}

func TestController_ExistingSessionSavesInPlace(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, "kept", nil)
	require.NoError(t, err)

	c, _ := newController(t, &fakeTransport{stream: sliceStream("ok")}, true,
		WithGateway(store), WithSessionID(doc.ID), WithName("kept"))
	submitAndWait(t, c, "Hello")
	require.NoError(t, c.Flush(ctx))

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].MessageCount)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	feed := newChunkFeed()
	calls := 0
	tr := &fakeTransport{stream: func(ctx context.Context, signal *stream.CancelSignal) (*stream.Decoder, error) {
		calls++
		if calls == 1 {
			return sliceStream("a", "b")(ctx, signal)
		}
		return feed.open(ctx, signal)
	}}
	c, _ := newController(t, tr, true, WithMetrics(m))

	submitAndWait(t, c, "one")

	h, err := c.Submit(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	require.NoError(t, c.Cancel())
	close(feed.chunks)
	_, _ = h.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues(string(OutcomeCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues(string(OutcomeCancelled))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deltas))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))

	var nilMetrics *Metrics
	nilMetrics.delta()
	nilMetrics.finished(OutcomeFailed, false, 0)
}
