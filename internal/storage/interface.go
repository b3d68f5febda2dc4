package storage

import (
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key does not exist in the engine.
var ErrKeyNotFound = errors.New("key not found")

// Engine is the embedded key-value layer underneath the state store.
// Update gives callers an atomic read-modify-write of a single key, which
// is what keeps a client's request history and scores consistent when the
// same identifier is hit by many concurrent requests.
type Engine interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Exists(key []byte) (bool, error)
	List(prefix []byte) (map[string][]byte, error)
	Update(key []byte, fn func(current []byte, found bool) ([]byte, error)) error
	Stats() map[string]interface{}
	Close() error
}

type Config struct {
	DataPath   string
	InMemory   bool
	SyncWrites bool
	ValueLogGC bool
	GCInterval time.Duration
}
