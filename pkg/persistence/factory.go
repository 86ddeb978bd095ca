package persistence

import (
	"io"

	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
)

// NewGateway opens the store described by s. The returned closer releases the
// underlying resources and is never nil.
func NewGateway(s *settings.StorageSettings) (Gateway, io.Closer, error) {
	if s == nil {
		s = settings.NewStorageSettings()
	}
	if err := s.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid storage settings")
	}

	switch s.Type {
	case settings.StorageTypeMemory:
		return NewMemoryStore(), nopCloser{}, nil
	case settings.StorageTypeFile:
		fs, err := NewFileStore(s.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, nopCloser{}, nil
	case settings.StorageTypeBadger:
		bs, err := OpenBadgerStore(BadgerConfig{Path: s.Path, SyncWrites: true})
		if err != nil {
			return nil, nil, err
		}
		return bs, bs, nil
	default:
		return nil, nil, errors.Errorf("unknown storage type %q", s.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
