// Package conversation holds the ordered message log of a single chat session.
//
// History is append-only during normal operation. The only other mutations are
// explicit user deletions (a single message, or a user/assistant pair). Readers
// always receive copies, so a snapshot taken while a request is in flight is
// unaffected by later appends.
package conversation

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var ErrIndexOutOfRange = errors.New("message index out of range")

type Conversation []Message

// GetSinglePrompt concatenates all messages with their role in front. A single
// message is returned as is.
func (messages Conversation) GetSinglePrompt() string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) == 1 {
		return messages[0].Content
	}

	prompt := ""
	for _, message := range messages {
		prompt += fmt.Sprintf("[%s]: %s\n", message.Role, message.Content)
	}
	return prompt
}

type History struct {
	mu       sync.RWMutex
	messages []Message
}

func NewHistory(messages ...Message) *History {
	h := &History{}
	h.messages = append(h.messages, messages...)
	return h
}

// Append adds messages at the end of the history, in order.
func (h *History) Append(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Messages returns a copy of the history.
func (h *History) Messages() Conversation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ret := make(Conversation, len(h.messages))
	copy(ret, h.messages)
	return ret
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

func (h *History) Get(i int) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i < 0 || i >= len(h.messages) {
		return Message{}, false
	}
	return h.messages[i], true
}

func (h *History) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Replace swaps the whole content, used when a conversation is loaded.
func (h *History) Replace(msgs Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]Message, len(msgs))
	copy(h.messages, msgs)
}

// DeleteAt removes the message at index i.
func (h *History) DeleteAt(i int) (Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.messages) {
		return Message{}, errors.Wrapf(ErrIndexOutOfRange, "delete %d of %d", i, len(h.messages))
	}
	removed := h.messages[i]
	h.messages = append(h.messages[:i:i], h.messages[i+1:]...)
	return removed, nil
}

// DeletePair removes the message at index i and the one preceding it. This is
// how a user prompt and its answer are removed together.
func (h *History) DeletePair(i int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 1 || i >= len(h.messages) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "delete pair ending at %d of %d", i, len(h.messages))
	}
	removed := []Message{h.messages[i-1], h.messages[i]}
	h.messages = append(h.messages[:i-1:i-1], h.messages[i+1:]...)
	return removed, nil
}

func (h *History) Clone() *History {
	return NewHistory(h.Messages()...)
}

func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Messages())
}

func (h *History) UnmarshalJSON(data []byte) error {
	var msgs Conversation
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	h.Replace(msgs)
	return nil
}

// WriteJSON writes the history as indented JSON.
func (h *History) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(h.Messages())
}
