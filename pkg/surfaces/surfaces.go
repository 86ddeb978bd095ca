// Package surfaces wires one session controller per conversational surface.
// Surfaces differ only in what they put into requests and where they persist.
package surfaces

import (
	"context"
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	KindChat       = "chat"
	KindHelp       = "help"
	KindNotes      = "notes"
	KindPromptCell = "prompt-cell"
)

// HelpPersona is used when the catalog has no "help" persona.
const HelpPersona = "You are the Sidekick help assistant. Explain how to use Sidekick. If you do not know, say so."

// Deps are shared by every surface of a process.
type Deps struct {
	Transport transport.Transport
	Gateway   persistence.Gateway
	Publisher events.EventSink
	Metrics   *session.Metrics
}

func (d Deps) options(kind string, cfg *settings.ChatSettings) []session.Option {
	ret := []session.Option{
		session.WithSettings(cfg),
		session.WithLogger(log.With().Str("surface", kind).Logger()),
	}
	if d.Publisher != nil {
		ret = append(ret, session.WithPublisher(d.Publisher))
	}
	if d.Metrics != nil {
		ret = append(ret, session.WithMetrics(d.Metrics))
	}
	return ret
}

// Chat is the main conversation: configured persona, full history, persisted
// through the shared gateway.
func Chat(d Deps, cfg *settings.ChatSettings, options ...session.Option) *session.Controller {
	opts := d.options(KindChat, cfg)
	if d.Gateway != nil {
		opts = append(opts, session.WithGateway(d.Gateway))
	}
	return session.New(d.Transport, append(opts, options...)...)
}

// Help answers questions about the application. Its conversations are kept
// in memory only.
func Help(d Deps, cfg *settings.ChatSettings, persona string, options ...session.Option) *session.Controller {
	if persona == "" {
		persona = HelpPersona
	}
	opts := d.options(KindHelp, cfg.WithPersona(persona))
	opts = append(opts,
		session.WithGateway(persistence.NewMemoryStore()),
		session.WithName("help"),
	)
	return session.New(d.Transport, append(opts, options...)...)
}

// Note is a note a conversation is attached to.
type Note struct {
	Title   string
	Content string
}

// Notes chats about a set of notes. The notes are sent as context with
// every request.
func Notes(d Deps, cfg *settings.ChatSettings, notes []Note, options ...session.Option) *session.Controller {
	docs := make([]request.Document, 0, len(notes))
	for _, n := range notes {
		docs = append(docs, request.Document{Title: n.Title, Content: n.Content})
	}
	opts := d.options(KindNotes, cfg)
	opts = append(opts, session.WithBuilder(request.NewBuilder(request.WithContextDocuments(docs...))))
	if d.Gateway != nil {
		opts = append(opts, session.WithGateway(d.Gateway))
	}
	return session.New(d.Transport, append(opts, options...)...)
}

// PromptCell renders a prompt template and sends it on its own. Earlier
// runs of the cell stay in its history but are not sent again.
type PromptCell struct {
	*session.Controller
	Template *request.PromptTemplate
}

func NewPromptCell(d Deps, cfg *settings.ChatSettings, name, text string, options ...session.Option) (*PromptCell, error) {
	tmpl, err := request.NewPromptTemplate(name, text)
	if err != nil {
		return nil, err
	}
	opts := d.options(KindPromptCell, cfg)
	opts = append(opts,
		session.WithBuilder(request.NewBuilder(request.WithoutHistory())),
		session.WithName(name),
	)
	return &PromptCell{
		Controller: session.New(d.Transport, append(opts, options...)...),
		Template:   tmpl,
	}, nil
}

// Run renders the template with vars and submits the result.
func (p *PromptCell) Run(ctx context.Context, vars map[string]interface{}) (*session.ExecutionHandle, error) {
	prompt, err := p.Template.Render(vars)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.Errorf("prompt template %s rendered an empty prompt", p.Template.Name)
	}
	return p.Submit(ctx, prompt)
}

// LastAnswer returns the content of the most recent assistant message.
func LastAnswer(c *session.Controller) (conversation.Message, bool) {
	history := c.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleAssistant {
			return history[i], true
		}
	}
	return conversation.Message{}, false
}

// New builds the controller for a surface kind, used by the CLI.
func New(kind string, d Deps, cfg *settings.ChatSettings, catalog *settings.Catalog, notes []Note) (*session.Controller, error) {
	switch kind {
	case KindChat, "":
		return Chat(d, cfg), nil
	case KindHelp:
		persona := ""
		if catalog != nil {
			if p, err := catalog.Persona("help"); err == nil {
				persona = p.SystemPrompt
			}
		}
		return Help(d, cfg, persona), nil
	case KindNotes:
		return Notes(d, cfg, notes), nil
	default:
		return nil, errors.Errorf("unknown surface %q", kind)
	}
}
