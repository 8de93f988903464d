// Package worldstore persists the world-scoped documents (device records and
// the phone directory). Only the coordinator may write them.
package worldstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Store is a badger-backed key/value store holding one JSON document per kind.
type Store struct {
	db          *badger.DB
	coordinator bool
	logger      *zap.Logger
}

// Open opens the store under dir. An empty dir keeps everything in memory.
func Open(dir string, coordinator bool, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open world store: %w", err)
	}
	return &Store{db: db, coordinator: coordinator, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Coordinator reports whether this store accepts writes.
func (s *Store) Coordinator() bool {
	return s.coordinator
}

// Get returns the raw document stored under kind, or domain.ErrNotFound.
func (s *Store) Get(kind string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(kind))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("world key %q: %w", kind, domain.ErrNotFound)
	}
	return out, err
}

// Commit replaces the document stored under kind with the JSON encoding of v.
func (s *Store) Commit(kind string, v any) error {
	if !s.coordinator {
		return fmt.Errorf("commit %s: %w", kind, domain.ErrUnauthorizedWrite)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kind), data)
	}); err != nil {
		return fmt.Errorf("commit %s: %w", kind, err)
	}
	s.logger.Debug("world document committed", zap.String("kind", kind), zap.Int("bytes", len(data)))
	return nil
}

// Devices loads the device document. A missing document yields an empty one.
func (s *Store) Devices() (domain.DeviceData, error) {
	out := domain.NewDeviceData()
	if err := s.load(domain.KindDeviceData, &out); err != nil {
		return domain.NewDeviceData(), err
	}
	if out.Devices == nil {
		out.Devices = make(map[string]domain.Device)
	}
	if out.DeviceMappings == nil {
		out.DeviceMappings = make(map[string][]string)
	}
	out.Removed = nil
	return out, nil
}

// Phones loads the phone directory. A missing document yields an empty one.
func (s *Store) Phones() (domain.PhoneData, error) {
	out := domain.NewPhoneData()
	if err := s.load(domain.KindPhoneData, &out); err != nil {
		return domain.NewPhoneData(), err
	}
	if out.PhoneNumberDictionary == nil {
		out.PhoneNumberDictionary = make(map[string]string)
	}
	if out.DevicePhoneNumbers == nil {
		out.DevicePhoneNumbers = make(map[string]string)
	}
	return out, nil
}

func (s *Store) load(kind string, v any) error {
	data, err := s.Get(kind)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

// badgerLogger routes badger's own logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, a ...any)   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...any) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...any)    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.s.Debugf(f, a...) }
