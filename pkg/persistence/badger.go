package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const badgerKeyPrefix = "conversation/"

type BadgerConfig struct {
	// Path is the database directory, ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Verbose routes badger's own logging to zerolog.
	Verbose bool
}

// BadgerStore keeps documents in a badger key-value database, one JSON value
// per conversation under conversation/<id>.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ Gateway = &BadgerStore{}
var _ Lister = &BadgerStore{}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msg(fmt.Sprintf(format, args...))
}

func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent badger store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Verbose {
		opts = opts.WithLogger(&badgerLogger{logger: log.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger database")
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func getDocument(txn *badger.Txn, op, id string) (*Document, error) {
	item, err := txn.Get(badgerKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, notFound(op, id)
		}
		return nil, wrapError(op, id, err)
	}
	var doc Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, wrapError(op, id, errors.Wrap(err, "corrupt document"))
	}
	return &doc, nil
}

func setDocument(txn *badger.Txn, op string, doc *Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return wrapError(op, doc.ID, err)
	}
	if err := txn.Set(badgerKey(doc.ID), b); err != nil {
		return wrapError(op, doc.ID, err)
	}
	return nil
}

func (s *BadgerStore) Create(_ context.Context, name string, history conversation.Conversation) (*Document, error) {
	now := s.now()
	doc := &Document{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  copyMessages(history),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setDocument(txn, "create", doc)
	})
	if err != nil {
		return nil, wrapError("create", doc.ID, err)
	}
	return doc, nil
}

func (s *BadgerStore) Load(_ context.Context, id string) (*Document, error) {
	var doc *Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, "load", id)
		return err
	})
	if err != nil {
		return nil, wrapError("load", id, err)
	}
	return doc, nil
}

func (s *BadgerStore) update(op, id string, f func(doc *Document)) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		doc, err := getDocument(txn, op, id)
		if err != nil {
			return err
		}
		f(doc)
		doc.UpdatedAt = s.now()
		return setDocument(txn, op, doc)
	})
	return wrapError(op, id, err)
}

func (s *BadgerStore) Save(_ context.Context, id string, history conversation.Conversation) error {
	return s.update("save", id, func(doc *Document) {
		doc.Messages = copyMessages(history)
	})
}

func (s *BadgerStore) Rename(_ context.Context, id string, name string) error {
	return s.update("rename", id, func(doc *Document) {
		doc.Name = name
	})
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("delete", id)
			}
			return err
		}
		return txn.Delete(badgerKey(id))
	})
	return wrapError("delete", id, err)
}

func (s *BadgerStore) List(_ context.Context) ([]Summary, error) {
	var ret []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return errors.Wrapf(err, "corrupt document %s", it.Item().Key())
			}
			ret = append(ret, doc.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, wrapError("list", "", err)
	}
	sortSummaries(ret)
	return ret, nil
}
