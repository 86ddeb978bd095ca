package conversation

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendKeepsOrder(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserMessage("hello"))
	h.Append(NewAssistantMessage("hi"), NewUserMessage("how are you"))

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "how are you", msgs[2].Content)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestHistory_MessagesIsSnapshot(t *testing.T) {
	h := NewHistory(NewUserMessage("one"))
	snapshot := h.Messages()

	h.Append(NewAssistantMessage("two"))
	snapshot[0].Content = "mutated"

	require.Len(t, snapshot, 1)
	first, ok := h.Get(0)
	require.True(t, ok)
	assert.Equal(t, "one", first.Content)
	assert.Equal(t, 2, h.Len())
}

func TestHistory_DeleteAt(t *testing.T) {
	h := NewHistory(NewUserMessage("a"), NewAssistantMessage("b"), NewUserMessage("c"))

	removed, err := h.DeleteAt(1)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.Content)

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)

	_, err = h.DeleteAt(5)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestHistory_DeletePairRemovesPredecessor(t *testing.T) {
	h := NewHistory(
		NewUserMessage("q1"), NewAssistantMessage("a1"),
		NewUserMessage("q2"), NewAssistantMessage("a2"),
	)

	removed, err := h.DeletePair(1)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, "q1", removed[0].Content)
	assert.Equal(t, "a1", removed[1].Content)

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)

	_, err = h.DeletePair(0)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestHistory_DeleteDoesNotAliasSnapshots(t *testing.T) {
	h := NewHistory(NewUserMessage("a"), NewAssistantMessage("b"), NewUserMessage("c"))
	before := h.Messages()

	_, err := h.DeleteAt(0)
	require.NoError(t, err)

	assert.Equal(t, "a", before[0].Content)
	assert.Equal(t, "b", before[1].Content)
	assert.Equal(t, "c", before[2].Content)
}

func TestHistory_JSONRoundTripKeepsMetadata(t *testing.T) {
	h := NewHistory(NewUserMessage("q"), NewAssistantMessage("boom", WithError()))

	var buf bytes.Buffer
	require.NoError(t, h.WriteJSON(&buf))

	loaded := NewHistory()
	require.NoError(t, json.Unmarshal(buf.Bytes(), loaded))

	msgs := loaded.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, h.Messages()[0].ID, msgs[0].ID)
	assert.True(t, msgs[1].IsError())
	assert.False(t, msgs[0].IsError())
}

func TestConversation_GetSinglePrompt(t *testing.T) {
	assert.Equal(t, "", Conversation{}.GetSinglePrompt())
	assert.Equal(t, "only", Conversation{NewUserMessage("only")}.GetSinglePrompt())
	assert.Equal(t,
		"[user]: q\n[assistant]: a\n",
		Conversation{NewUserMessage("q"), NewAssistantMessage("a")}.GetSinglePrompt())
}

func TestNewErrorMessage(t *testing.T) {
	m := NewErrorMessage(errors.New("rate limited"))
	assert.Equal(t, RoleAssistant, m.Role)
	assert.True(t, m.IsError())
	assert.Contains(t, m.Content, "rate limited")
}
