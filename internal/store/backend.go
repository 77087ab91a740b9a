package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by backends that can't perform a write,
	// such as read-only handles. The caller must not assume the write
	// happened.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrUnknownBackend is returned by NewBackend for an unknown kind.
	ErrUnknownBackend = errors.New("unknown backend type")

	errKeyEmpty      = errors.New("key cannot be empty")
	errValueNil      = errors.New("value cannot be nil")
	errBackendClosed = errors.New("backend is closed")
)

//go:generate ../../scripts/mockery_generate.sh Backend

// Backend is a byte-key/byte-value store holding a single table.
//
// Get must be safe for concurrent use. Set and Delete may serialize
// internally. A nil value with a nil error means the key is absent.
// Backends never report the previous value of a key.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// BackendType is the kind of engine holding a table.
type BackendType string

const (
	// MemDBBackend keeps the table in memory. Used in tests.
	MemDBBackend BackendType = "memdb"
	// GoLevelDBBackend is a pure go LSM store, suited to small random
	// updates.
	GoLevelDBBackend BackendType = "goleveldb"
	// BadgerBackend separates keys from values, suited to large values.
	BadgerBackend BackendType = "badger"
	// SQLiteBackend stores the table in its own sqlite database. It has less
	// write amplification than an LSM for large values. Requires cgo.
	SQLiteBackend BackendType = "sqlite"
)

// NewBackend opens a backend of the given kind for the table name, with its
// files under dir.
func NewBackend(name string, kind BackendType, dir string) (Backend, error) {
	switch kind {
	case MemDBBackend, GoLevelDBBackend:
		return newTMDBBackend(name, kind, dir)
	case BadgerBackend:
		return newBadgerBackend(name, dir)
	case SQLiteBackend:
		return newSQLiteBackend(name, dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return errKeyEmpty
	}
	return nil
}

func validateKV(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if value == nil {
		return errValueNil
	}
	return nil
}
