package store

import (
	dbm "github.com/tendermint/tm-db"
)

// tmdbBackend adapts a tm-db database to Backend.
type tmdbBackend struct {
	db dbm.DB
}

var _ Backend = (*tmdbBackend)(nil)

func newTMDBBackend(name string, kind BackendType, dir string) (*tmdbBackend, error) {
	db, err := dbm.NewDB(name, dbm.BackendType(kind), dir)
	if err != nil {
		return nil, err
	}
	return &tmdbBackend{db: db}, nil
}

// NewMemBackend returns an in-memory backend.
func NewMemBackend() Backend {
	return &tmdbBackend{db: dbm.NewMemDB()}
}

func (b *tmdbBackend) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return b.db.Get(key)
}

func (b *tmdbBackend) Set(key, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	return b.db.Set(key, value)
}

func (b *tmdbBackend) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.db.Delete(key)
}

func (b *tmdbBackend) Close() error {
	return b.db.Close()
}
