package storage

import (
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine stores all guard state in a single embedded badger database.
type BadgerEngine struct {
	db *badger.DB
}

var _ Engine = (*BadgerEngine)(nil)

func NewBadgerEngine(config Config) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(config.DataPath)

	if config.InMemory {
		opts = opts.WithInMemory(true)
	}

	opts = opts.WithSyncWrites(config.SyncWrites)
	opts = opts.WithLogger(nil) // Disable badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	engine := &BadgerEngine{db: db}

	if config.ValueLogGC && !config.InMemory {
		go engine.runGC(config.GCInterval)
	}

	return engine, nil
}

func (e *BadgerEngine) Put(key, value []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (e *BadgerEngine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}

	return value, err
}

func (e *BadgerEngine) Delete(key []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (e *BadgerEngine) Exists(key []byte) (bool, error) {
	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}

	return err == nil, err
}

func (e *BadgerEngine) List(prefix []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)

	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			result[string(key)] = value
		}

		return nil
	})

	return result, err
}

// Update runs fn against the current value of key inside one transaction.
// Returning nil bytes from fn deletes the key.
func (e *BadgerEngine) Update(key []byte, fn func(current []byte, found bool) ([]byte, error)) error {
	return e.db.Update(func(txn *badger.Txn) error {
		var current []byte
		found := true

		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			found = false
		} else if err != nil {
			return err
		} else {
			current, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		if next == nil {
			if !found {
				return nil
			}
			return txn.Delete(key)
		}
		return txn.Set(key, next)
	})
}

func (e *BadgerEngine) Stats() map[string]interface{} {
	lsmSize, vlogSize := e.db.Size()

	return map[string]interface{}{
		"lsm_size":   lsmSize,
		"vlog_size":  vlogSize,
		"total_size": lsmSize + vlogSize,
	}
}

func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

func (e *BadgerEngine) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		again := true
		for again {
			err := e.db.RunValueLogGC(0.7)
			again = err == nil
		}

		log.Printf("BadgerDB garbage collection completed")
	}
}
