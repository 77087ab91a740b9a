package blockdata

import (
	"github.com/cfx-go/cfxcore/internal/store"
	"github.com/cfx-go/cfxcore/libs/log"
)

// NewMemDBManager returns a DBManager keeping every table in memory.
func NewMemDBManager(logger log.Logger) *DBManager {
	backends := make(map[Table]store.Backend, len(AllTables))
	for _, t := range AllTables {
		backends[t] = store.NewMemBackend()
	}
	m, err := NewDBManager(backends, logger, nil)
	if err != nil {
		panic(err)
	}
	return m
}
