// Package badgerdb is an embedded Store for local development and tests
// that need durability without cloud credentials. Instances are stored as
// JSON values under a key prefix.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

const instancePrefix = "instance/"

// Store persists instances in a BadgerDB database.
type Store struct {
	db *badger.DB
}

// badgerLoggerAdapter routes badger's internal logging through slog.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens (creating if needed) a badger-backed store at filePath. An
// empty path opens an in-memory database.
func Open(filePath string) (*Store, error) {
	var opts badger.Options
	if filePath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(filePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		opts = badger.DefaultOptions(filePath)
	}
	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

func instanceKey(key string) []byte {
	return []byte(instancePrefix + key)
}

func (s *Store) Create(ctx context.Context, inst *models.OrchestrationInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", inst.Key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(instanceKey(inst.Key))
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(instanceKey(inst.Key), data)
	})
}

func (s *Store) Get(ctx context.Context, key string) (*models.OrchestrationInstance, error) {
	var inst models.OrchestrationInstance
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(instanceKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inst)
		})
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *Store) Update(ctx context.Context, inst *models.OrchestrationInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", inst.Key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(instanceKey(inst.Key), data)
	})
}

func (s *Store) List(ctx context.Context, limit int) ([]*models.OrchestrationInstance, error) {
	var out []*models.OrchestrationInstance
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(instancePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var inst models.OrchestrationInstance
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inst)
			})
			if err != nil {
				return err
			}
			out = append(out, &inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ store.Store = (*Store)(nil)
