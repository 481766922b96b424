// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("entity not found")

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// Open opens the database at path. An empty path keeps everything in
// memory.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts.WithLogger(nil))
}

// BadgerStore keeps JSON entities under a key prefix. Keys sort by ID, so
// List returns entities in ID order.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

func (s *BadgerStore) Create(entity Entity) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.makeKey(entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		// Check if key already exists
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("entity already exists: %s", entity.GetID())
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		return txn.Set(key, data)
	})
}

func (s *BadgerStore) Get(id string, entity Entity) error {
	key := s.makeKey(id)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
	})

	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *BadgerStore) Delete(id string) error {
	key := s.makeKey(id)

	return s.db.Update(func(txn *badger.Txn) error {
		// Check if exists
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// PutBlob stores raw bytes next to the entities, under a key of their own.
func (s *BadgerStore) PutBlob(id string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey("blob:"+id), data)
	})
}

func (s *BadgerStore) GetBlob(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey("blob:" + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	return data, err
}

// IDs returns the entity IDs in key order.
func (s *BadgerStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := s.stripPrefix(it.Item().Key())
			if strings.HasPrefix(id, "blob:") {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) List(results interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		blobs := []byte(s.prefix + ":blob:")
		var values []json.RawMessage

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if strings.HasPrefix(string(item.Key()), string(blobs)) {
				continue
			}
			err := item.Value(func(val []byte) error {
				values = append(values, append([]byte(nil), val...))
				return nil
			})
			if err != nil {
				return err
			}
		}

		// Marshal collected values into final result
		data, err := json.Marshal(values)
		if err != nil {
			return err
		}

		return json.Unmarshal(data, results)
	})

	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	return nil
}
