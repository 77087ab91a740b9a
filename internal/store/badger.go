package store

import (
	"errors"
	"path/filepath"

	"github.com/dgraph-io/badger/v2"
)

type badgerBackend struct {
	db *badger.DB
}

var _ Backend = (*badgerBackend)(nil)

func newBadgerBackend(name, dir string) (*badgerBackend, error) {
	return openBadger(badger.DefaultOptions(filepath.Join(dir, name+".badger")))
}

// NewBadgerMemBackend returns a badger backend that keeps everything in
// memory.
func NewBadgerMemBackend() (Backend, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*badgerBackend, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *badgerBackend) Set(key, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *badgerBackend) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *badgerBackend) Close() error {
	return b.db.Close()
}
