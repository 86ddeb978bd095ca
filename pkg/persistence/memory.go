package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/google/uuid"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
	now  func() time.Time
}

var _ Gateway = &MemoryStore{}
var _ Lister = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[string]*Document{},
		now:  time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, name string, history conversation.Conversation) (*Document, error) {
	now := m.now()
	doc := &Document{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  copyMessages(history),
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return cloneDocument(doc), nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, notFound("load", id)
	}
	return cloneDocument(doc), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, history conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return notFound("save", id)
	}
	doc.Messages = copyMessages(history)
	doc.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Rename(_ context.Context, id string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return notFound("rename", id)
	}
	doc.Name = name
	doc.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return notFound("delete", id)
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]Summary, 0, len(m.docs))
	for _, doc := range m.docs {
		ret = append(ret, doc.Summary())
	}
	sortSummaries(ret)
	return ret, nil
}

func cloneDocument(d *Document) *Document {
	ret := *d
	ret.Messages = copyMessages(d.Messages)
	return &ret
}
