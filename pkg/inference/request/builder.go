package request

import (
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/settings"
)

// WireMessage is the form a history message takes on the wire: role and
// content only, local metadata is never sent.
type WireMessage struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

// Request is the payload sent to the completion service.
type Request struct {
	ModelSettings *settings.ModelSettings `json:"modelSettings"`
	SystemPrompt  string                  `json:"systemPrompt"`
	Prompt        string                  `json:"prompt"`
	ChatHistory   []WireMessage           `json:"chatHistory"`
}

// Messages returns the full message list (system prompt, history, prompt) in
// the order a chat completion API expects it.
func (r *Request) Messages() []WireMessage {
	ret := make([]WireMessage, 0, len(r.ChatHistory)+2)
	if r.SystemPrompt != "" {
		ret = append(ret, WireMessage{Role: conversation.RoleSystem, Content: r.SystemPrompt})
	}
	ret = append(ret, r.ChatHistory...)
	ret = append(ret, WireMessage{Role: conversation.RoleUser, Content: r.Prompt})
	return ret
}

type Document struct {
	Title   string
	Content string
}

// Builder assembles requests from session configuration. It has no side
// effects, the history passed in is copied.
type Builder struct {
	documents    []Document
	historyLimit int
	noHistory    bool
}

type BuilderOption func(*Builder)

// WithContextDocuments appends documents (for example the notes a chat is
// attached to) to the system prompt of every request.
func WithContextDocuments(docs ...Document) BuilderOption {
	return func(b *Builder) {
		b.documents = append(b.documents, docs...)
	}
}

// WithHistoryLimit overrides the history limit of the chat settings.
func WithHistoryLimit(n int) BuilderOption {
	return func(b *Builder) {
		b.historyLimit = n
	}
}

// WithoutHistory sends every prompt on its own, prior messages are left out.
func WithoutHistory() BuilderOption {
	return func(b *Builder) {
		b.noHistory = true
	}
}

func NewBuilder(options ...BuilderOption) *Builder {
	ret := &Builder{}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (b *Builder) Build(cfg *settings.ChatSettings, history conversation.Conversation, prompt string) (*Request, error) {
	if cfg == nil || cfg.Model == nil {
		return nil, &ConfigurationError{Field: "model", Cause: ErrMissingModelSettings}
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "model", Cause: err}
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	limit := cfg.HistoryLimit
	if b.historyLimit > 0 {
		limit = b.historyLimit
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	if b.noHistory {
		history = nil
	}

	chatHistory := make([]WireMessage, 0, len(history))
	for _, m := range history {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
			continue
		}
		chatHistory = append(chatHistory, WireMessage{Role: m.Role, Content: m.Content})
	}

	return &Request{
		ModelSettings: cfg.Model.Clone(),
		SystemPrompt:  b.systemPrompt(cfg.PersonaSystemPrompt),
		Prompt:        prompt,
		ChatHistory:   chatHistory,
	}, nil
}

func (b *Builder) systemPrompt(persona string) string {
	if len(b.documents) == 0 {
		return persona
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(persona, "\n"))
	for _, doc := range b.documents {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		if doc.Title != "" {
			sb.WriteString("## ")
			sb.WriteString(doc.Title)
			sb.WriteString("\n")
		}
		sb.WriteString(doc.Content)
	}
	return sb.String()
}
