package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const fileExtension = ".json"

// FileStore keeps one JSON file per conversation under a root directory.
// Writes go through a temporary file and a rename, so a crash never leaves a
// half written document behind.
type FileStore struct {
	root string
	// serializes read-modify-write cycles
	mu  sync.Mutex
	now func() time.Time
}

var _ Gateway = &FileStore{}
var _ Lister = &FileStore{}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store needs a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", root)
	}
	return &FileStore{root: root, now: time.Now}, nil
}

func (s *FileStore) path(id string) (string, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return filepath.Join(s.root, id+fileExtension), true
}

func (s *FileStore) read(op, id string) (*Document, error) {
	path, ok := s.path(id)
	if !ok {
		return nil, notFound(op, id)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(op, id)
		}
		return nil, wrapError(op, id, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, wrapError(op, id, errors.Wrap(err, "corrupt document"))
	}
	return &doc, nil
}

func (s *FileStore) write(op string, doc *Document) error {
	path, ok := s.path(doc.ID)
	if !ok {
		return notFound(op, doc.ID)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return wrapError(op, doc.ID, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return wrapError(op, doc.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return wrapError(op, doc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return wrapError(op, doc.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return wrapError(op, doc.ID, err)
	}
	return nil
}

func (s *FileStore) Create(_ context.Context, name string, history conversation.Conversation) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc := &Document{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  copyMessages(history),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.write("create", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FileStore) Load(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read("load", id)
}

func (s *FileStore) update(op, id string, f func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(op, id)
	if err != nil {
		return err
	}
	f(doc)
	doc.UpdatedAt = s.now()
	return s.write(op, doc)
}

func (s *FileStore) Save(_ context.Context, id string, history conversation.Conversation) error {
	return s.update("save", id, func(doc *Document) {
		doc.Messages = copyMessages(history)
	})
}

func (s *FileStore) Rename(_ context.Context, id string, name string) error {
	return s.update("rename", id, func(doc *Document) {
		doc.Name = name
	})
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.path(id)
	if !ok {
		return notFound("delete", id)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return notFound("delete", id)
		}
		return wrapError("delete", id, err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, wrapError("list", "", err)
	}

	var ret []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		doc, err := s.read("list", strings.TrimSuffix(name, fileExtension))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		ret = append(ret, doc.Summary())
	}
	sortSummaries(ret)
	return ret, nil
}
