package surfaces

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport echoes prompts and keeps the requests it was sent.
type recordingTransport struct {
	echo *transport.EchoTransport

	mu       sync.Mutex
	requests []*request.Request
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{echo: &transport.EchoTransport{TimePerChunk: time.Millisecond}}
}

func (r *recordingTransport) record(req *request.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recordingTransport) last() *request.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func (r *recordingTransport) SendNonStreaming(ctx context.Context, req *request.Request) (*transport.Response, error) {
	r.record(req)
	return r.echo.SendNonStreaming(ctx, req)
}

func (r *recordingTransport) SendStreaming(ctx context.Context, req *request.Request, c *stream.CancelSignal) (*stream.Decoder, error) {
	r.record(req)
	return r.echo.SendStreaming(ctx, req, c)
}

func chatSettings() *settings.ChatSettings {
	s := settings.NewChatSettings()
	s.Model = settings.NewModelSettings("echo", "echo")
	s.PersonaSystemPrompt = "You are Sidekick."
	return s
}

func ask(t *testing.T, c *session.Controller, prompt string) {
	t.Helper()
	h, err := c.Submit(context.Background(), prompt)
	require.NoError(t, err)
	_, err = h.Wait()
	require.NoError(t, err)
}

func TestChat_PersistsThroughGateway(t *testing.T) {
	tr := newRecordingTransport()
	store := persistence.NewMemoryStore()
	sink := events.NewCollectingSink()
	c := Chat(Deps{Transport: tr, Gateway: store, Publisher: sink}, chatSettings())
	defer func() {
		_ = c.Close()
	}()

	ask(t, c, "hello there")
	ask(t, c, "again")
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, "You are Sidekick.", tr.last().SystemPrompt)
	assert.Len(t, tr.last().ChatHistory, 2)

	answer, ok := LastAnswer(c)
	require.True(t, ok)
	assert.Equal(t, "again", answer.Content)

	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 4, summaries[0].MessageCount)
	assert.NotEmpty(t, sink.OfType(events.EventTypeFinal))
}

func TestHelp_UsesHelpPersonaAndPrivateStore(t *testing.T) {
	tr := newRecordingTransport()
	shared := persistence.NewMemoryStore()
	c := Help(Deps{Transport: tr, Gateway: shared}, chatSettings(), "")
	defer func() {
		_ = c.Close()
	}()

	ask(t, c, "how do I rename?")
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, HelpPersona, tr.last().SystemPrompt)
	assert.Equal(t, "help", c.Name())
	assert.NotEmpty(t, c.SessionID())

	summaries, err := shared.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestNotes_SendsNotesAsContext(t *testing.T) {
	tr := newRecordingTransport()
	c := Notes(Deps{Transport: tr}, chatSettings(), []Note{
		{Title: "Groceries", Content: "milk, eggs"},
	})
	defer func() {
		_ = c.Close()
	}()

	ask(t, c, "what do I need?")
	assert.Equal(t, "You are Sidekick.\n\n## Groceries\nmilk, eggs", tr.last().SystemPrompt)
}

func TestPromptCell_RendersAndSendsAlone(t *testing.T) {
	tr := newRecordingTransport()
	cell, err := NewPromptCell(Deps{Transport: tr}, chatSettings(), "greet", "Say hello to {{ .name | upper }}")
	require.NoError(t, err)
	defer func() {
		_ = cell.Close()
	}()

	for _, name := range []string{"ada", "bob"} {
		h, err := cell.Run(context.Background(), map[string]interface{}{"name": name})
		require.NoError(t, err)
		_, err = h.Wait()
		require.NoError(t, err)
	}

	assert.Equal(t, "Say hello to BOB", tr.last().Prompt)
	assert.Empty(t, tr.last().ChatHistory)
	assert.Len(t, cell.History(), 4)

	_, err = cell.Run(context.Background(), map[string]interface{}{})
	require.Error(t, err)

	_, err = NewPromptCell(Deps{Transport: tr}, chatSettings(), "broken", "{{ .name ")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	d := Deps{Transport: newRecordingTransport()}
	catalog := settings.DefaultCatalog()

	for _, kind := range []string{"", KindChat, KindHelp, KindNotes} {
		c, err := New(kind, d, chatSettings(), catalog, nil)
		require.NoError(t, err, kind)
		_ = c.Close()
	}

	c, err := New(KindHelp, d, chatSettings(), catalog, nil)
	require.NoError(t, err)
	defer func() {
		_ = c.Close()
	}()
	help, err := catalog.Persona("help")
	require.NoError(t, err)
	assert.Equal(t, help.SystemPrompt, c.Settings().PersonaSystemPrompt)

	_, err = New("spreadsheet", d, chatSettings(), catalog, nil)
	require.Error(t, err)
}
