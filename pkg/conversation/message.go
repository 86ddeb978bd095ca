package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	default:
		return false
	}
}

type MessageID uuid.UUID

var NullMessageID = MessageID(uuid.Nil)

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id MessageID) MarshalYAML() (interface{}, error) {
	return id.String(), nil
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = NullMessageID
		return nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = MessageID(u)
	return nil
}

// Metadata holds local-only flags about a message. It is never sent to the
// completion service.
type Metadata struct {
	// Error marks an assistant message that describes a failed request.
	Error bool `json:"error,omitempty" yaml:"error,omitempty"`
	// Stopped marks an assistant message whose stream was cancelled by the user.
	Stopped bool `json:"stopped,omitempty" yaml:"stopped,omitempty"`
}

// Message is a single turn of the conversation. Messages are treated as
// values: once appended to a History they are never modified in place.
type Message struct {
	ID       MessageID `json:"id" yaml:"id"`
	Role     Role      `json:"role" yaml:"role"`
	Content  string    `json:"content" yaml:"content"`
	Time     time.Time `json:"time" yaml:"time"`
	Metadata Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithID(id MessageID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithError() MessageOption {
	return func(m *Message) {
		m.Metadata.Error = true
	}
}

func WithStopped() MessageOption {
	return func(m *Message) {
		m.Metadata.Stopped = true
	}
}

func NewMessage(role Role, content string, options ...MessageOption) Message {
	ret := Message{
		ID:      NewMessageID(),
		Role:    role,
		Content: content,
		Time:    time.Now(),
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

func NewUserMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleUser, content, options...)
}

func NewAssistantMessage(content string, options ...MessageOption) Message {
	return NewMessage(RoleAssistant, content, options...)
}

// NewErrorMessage builds the terminal assistant turn recorded when a request fails.
func NewErrorMessage(err error) Message {
	return NewMessage(RoleAssistant, fmt.Sprintf("Error: %s", err), WithError())
}

func (m Message) IsError() bool {
	return m.Metadata.Error
}

func (m Message) View() string {
	text := m.Content
	// keep fenced blocks valid markdown when prefixed with the role
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(text, "\n"))
}
