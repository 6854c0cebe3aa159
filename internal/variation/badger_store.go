package variation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "variation/"

// RestartInterruptedMessage is recorded on variations that were generating when the process stopped.
const RestartInterruptedMessage = "interrupted by restart"

// BadgerStore is a MemoryStore that writes every change through to badger.
// Reads are served from memory.
type BadgerStore struct {
	*MemoryStore
	db *badger.DB
}

// BadgerOptions configures OpenBadgerStore. An empty Path opens an in-memory database.
type BadgerOptions struct {
	Path       string
	SyncWrites bool
}

// OpenBadgerStore opens the database, restores saved variations and fails any
// that were still generating.
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{MemoryStore: NewMemoryStore(), db: db}
	if err := s.restore(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.persist = s.put
	s.remove = s.del

	if err := s.failInterrupted(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) put(v *models.Variation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode variation %s: %w", v.VariationID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+v.VariationID), data)
	})
}

func (s *BadgerStore) del(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

func (s *BadgerStore) restore() error {
	prefix := []byte(keyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var v models.Variation
				if err := json.Unmarshal(val, &v); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				s.load(&v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) failInterrupted() error {
	all, err := s.List()
	if err != nil {
		return err
	}
	for _, v := range all {
		if v.Status != models.StatusCreated && v.Status != models.StatusStreaming {
			continue
		}
		if err := s.SetError(v.VariationID, RestartInterruptedMessage); err != nil {
			return err
		}
		if err := s.CompareAndSetStatus(v.VariationID, v.Status, models.StatusFailed); err != nil {
			return err
		}
		logger.Warn("Variation interrupted by restart", logger.Fields{
			"variation_id": v.VariationID,
			"status":       string(v.Status),
		})
	}
	return nil
}

// badgerLogger routes badger's internal logging through the service logger.
// Info and debug output is dropped.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error("badger", fmt.Errorf(format, args...), nil)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf("badger: "+format, args...), nil)
}

func (badgerLogger) Infof(string, ...interface{}) {}

func (badgerLogger) Debugf(string, ...interface{}) {}
