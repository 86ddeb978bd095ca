package request

import (
	"encoding/json"
	"testing"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatSettings() *settings.ChatSettings {
	cs := settings.NewChatSettings()
	cs.Model = settings.NewModelSettings("openai", "gpt-4o-mini")
	cs.PersonaSystemPrompt = "You are helpful."
	return cs
}

func TestBuilder_Build(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("q1"),
		conversation.NewAssistantMessage("a1"),
		conversation.NewUserMessage("q2"),
		conversation.NewAssistantMessage("Error: boom", conversation.WithError()),
	}

	req, err := NewBuilder().Build(newChatSettings(), history, "  next question \n")
	require.NoError(t, err)

	assert.Equal(t, "next question", req.Prompt)
	assert.Equal(t, "You are helpful.", req.SystemPrompt)
	assert.Equal(t, "gpt-4o-mini", req.ModelSettings.Model)
	require.Len(t, req.ChatHistory, 4)
	assert.Equal(t, WireMessage{Role: conversation.RoleUser, Content: "q1"}, req.ChatHistory[0])
	assert.Equal(t, WireMessage{Role: conversation.RoleAssistant, Content: "Error: boom"}, req.ChatHistory[3])
}

func TestBuilder_StripsMetadataOnTheWire(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("q1"),
		conversation.NewAssistantMessage("partial (stopped by user)", conversation.WithStopped()),
	}
	req, err := NewBuilder().Build(newChatSettings(), history, "hi")
	require.NoError(t, err)

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Contains(t, decoded, "chatHistory")
	require.Contains(t, decoded, "modelSettings")
	require.Contains(t, decoded, "systemPrompt")
	for _, m := range decoded["chatHistory"].([]interface{}) {
		entry := m.(map[string]interface{})
		assert.Len(t, entry, 2)
		assert.NotContains(t, entry, "metadata")
		assert.NotContains(t, entry, "id")
	}
}

func TestBuilder_SnapshotIsIndependent(t *testing.T) {
	history := conversation.Conversation{conversation.NewUserMessage("q1")}
	cs := newChatSettings()
	req, err := NewBuilder().Build(cs, history, "hi")
	require.NoError(t, err)

	history[0].Content = "changed"
	cs.Model.Model = "changed"

	assert.Equal(t, "q1", req.ChatHistory[0].Content)
	assert.Equal(t, "gpt-4o-mini", req.ModelSettings.Model)
}

func TestBuilder_MissingModelSettings(t *testing.T) {
	_, err := NewBuilder().Build(nil, nil, "hi")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.True(t, errors.Is(err, ErrMissingModelSettings))

	cs := settings.NewChatSettings()
	_, err = NewBuilder().Build(cs, nil, "hi")
	assert.True(t, IsConfigurationError(err))

	cs.Model = &settings.ModelSettings{Provider: "openai"}
	_, err = NewBuilder().Build(cs, nil, "hi")
	assert.True(t, IsConfigurationError(err))
}

func TestBuilder_EmptyPrompt(t *testing.T) {
	_, err := NewBuilder().Build(newChatSettings(), nil, "   ")
	assert.True(t, errors.Is(err, ErrEmptyPrompt))
	assert.False(t, IsConfigurationError(err))
}

func TestBuilder_HistoryLimit(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("q1"),
		conversation.NewAssistantMessage("a1"),
		conversation.NewUserMessage("q2"),
		conversation.NewAssistantMessage("a2"),
	}
	cs := newChatSettings()
	cs.HistoryLimit = 2

	req, err := NewBuilder().Build(cs, history, "q3")
	require.NoError(t, err)
	require.Len(t, req.ChatHistory, 2)
	assert.Equal(t, "q2", req.ChatHistory[0].Content)

	req, err = NewBuilder(WithHistoryLimit(1)).Build(cs, history, "q3")
	require.NoError(t, err)
	require.Len(t, req.ChatHistory, 1)
	assert.Equal(t, "a2", req.ChatHistory[0].Content)
}

func TestBuilder_WithoutHistory(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("q1"),
		conversation.NewAssistantMessage("a1"),
	}
	req, err := NewBuilder(WithoutHistory()).Build(newChatSettings(), history, "q2")
	require.NoError(t, err)
	assert.Empty(t, req.ChatHistory)
	assert.Equal(t, "q2", req.Prompt)
}

func TestBuilder_ContextDocuments(t *testing.T) {
	b := NewBuilder(WithContextDocuments(
		Document{Title: "Shopping", Content: "milk, eggs"},
		Document{Content: "untitled note"},
	))
	req, err := b.Build(newChatSettings(), nil, "what do I need?")
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.\n\n## Shopping\nmilk, eggs\n\nuntitled note", req.SystemPrompt)
}

func TestRequest_Messages(t *testing.T) {
	req := &Request{
		SystemPrompt: "sys",
		Prompt:       "hello",
		ChatHistory:  []WireMessage{{Role: conversation.RoleUser, Content: "q"}, {Role: conversation.RoleAssistant, Content: "a"}},
	}
	msgs := req.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, conversation.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hello", msgs[3].Content)

	req.SystemPrompt = ""
	assert.Len(t, req.Messages(), 3)
}

func TestPromptTemplate_Render(t *testing.T) {
	p, err := NewPromptTemplate("summary", `Summarize {{ .topic | upper }} in {{ .words }} words.`)
	require.NoError(t, err)

	s, err := p.Render(map[string]interface{}{"topic": "go channels", "words": 50})
	require.NoError(t, err)
	assert.Equal(t, "Summarize GO CHANNELS in 50 words.", s)

	_, err = p.Render(map[string]interface{}{"topic": "x"})
	require.Error(t, err)

	_, err = NewPromptTemplate("broken", "{{ .x ")
	require.Error(t, err)
}
