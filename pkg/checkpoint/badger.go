package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerSubdir keeps the badger files below the state directory so the
// directory can hold other state later without mixing files.
const badgerSubdir = "checkpoints"

// BadgerStore is a Store backed by an embedded BadgerDB. Writes are
// synced to disk before Set returns, which is what makes a returned Set
// a durability signal.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a checkpoint store under dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, badgerSubdir)).
		WithSyncWrites(true).
		WithNumGoroutines(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Get implements Store.Get.
func (s *BadgerStore) Get(source string) (Checkpoint, bool, error) {
	var cp Checkpoint

	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(source))
		if getErr != nil {
			return getErr
		}

		return item.Value(func(val []byte) error {
			unmarshalErr := json.Unmarshal(val, &cp)
			if unmarshalErr != nil {
				return fmt.Errorf("decode checkpoint for %q: %w", source, unmarshalErr)
			}

			found = true

			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Checkpoint{}, false, nil
		}

		return Checkpoint{}, false, fmt.Errorf("read checkpoint for %q: %w", source, err)
	}

	return cp, found, nil
}

// Set implements Store.Set. The update transaction commits synchronously,
// so the checkpoint is on disk when Set returns.
func (s *BadgerStore) Set(cp Checkpoint) error {
	value, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint for %q: %w", cp.Source, err)
	}

	updateErr := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cp.Source), value)
	})
	if updateErr != nil {
		return fmt.Errorf("persist checkpoint for %q: %w", cp.Source, updateErr)
	}

	slog.Debug("checkpoint persisted", "source", cp.Source, "cursor", cp.Cursor)

	return nil
}

// Delete implements Store.Delete.
func (s *BadgerStore) Delete(source string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(source))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint for %q: %w", source, err)
	}

	return nil
}

// List implements Store.List.
func (s *BadgerStore) List() ([]Checkpoint, error) {
	var checkpoints []Checkpoint

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint

			valueErr := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			})
			if valueErr != nil {
				return fmt.Errorf("decode checkpoint %q: %w", string(it.Item().Key()), valueErr)
			}

			checkpoints = append(checkpoints, cp)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Source < checkpoints[j].Source
	})

	return checkpoints, nil
}

// Close implements Store.Close.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
