// Package persistence stores conversation documents by id.
package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("conversation not found")

// Document is one stored conversation.
type Document struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Messages  conversation.Conversation `json:"messages"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Summary describes a document without its messages.
type Summary struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

func (d *Document) Summary() Summary {
	return Summary{
		ID:           d.ID,
		Name:         d.Name,
		MessageCount: len(d.Messages),
		UpdatedAt:    d.UpdatedAt,
	}
}

// Gateway is the storage a session persists its history to. Save replaces the
// whole stored history, so repeating a save is harmless.
type Gateway interface {
	Create(ctx context.Context, name string, history conversation.Conversation) (*Document, error)
	Load(ctx context.Context, id string) (*Document, error)
	Save(ctx context.Context, id string, history conversation.Conversation) error
	Rename(ctx context.Context, id string, name string) error
	Delete(ctx context.Context, id string) error
}

// Lister is implemented by gateways that can enumerate their documents.
type Lister interface {
	List(ctx context.Context) ([]Summary, error)
}

// PersistenceError wraps a failed gateway operation.
type PersistenceError struct {
	Op    string
	ID    string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conversation: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s conversation %s: %v", e.Op, e.ID, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func wrapError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, ID: id, Cause: err}
}

func notFound(op, id string) error {
	return &PersistenceError{Op: op, ID: id, Cause: ErrNotFound}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}

func copyMessages(history conversation.Conversation) conversation.Conversation {
	ret := make(conversation.Conversation, len(history))
	copy(ret, history)
	return ret
}
