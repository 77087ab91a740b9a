package blockdata

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/store"
	"github.com/cfx-go/cfxcore/libs/log"
)

var (
	// ErrMissingBackend is returned at construction when a table has no
	// backend. It is a configuration error and must not be recovered from.
	ErrMissingBackend = errors.New("no backend configured for table")

	// ErrCorrupted is the value DBManager panics with when a stored record
	// can't be decoded.
	ErrCorrupted = errors.New("database corrupted")
)

// DBManager routes every table to its backend and reads and writes the
// records of a node through a deterministic key layout and rlp.
//
// The table map is fixed at construction, so DBManager adds no locking of
// its own. Concurrent callers rely on the backends.
type DBManager struct {
	tables  map[Table]store.Backend
	logger  log.Logger
	metrics *Metrics

	headerCache *lru.Cache
}

// Option sets an optional parameter on the DBManager.
type Option func(*DBManager)

// WithHeaderCache keeps up to size decoded headers in memory. A size of 0
// disables the cache.
func WithHeaderCache(size int) Option {
	return func(m *DBManager) {
		if size <= 0 {
			m.headerCache = nil
			return
		}
		// lru.New only fails for non-positive sizes
		m.headerCache, _ = lru.New(size)
	}
}

// NewDBManager returns a DBManager over backends, which must hold every
// table. The DBManager owns the backends from then on.
func NewDBManager(
	backends map[Table]store.Backend,
	logger log.Logger,
	metrics *Metrics,
	options ...Option,
) (*DBManager, error) {
	tables := make(map[Table]store.Backend, len(AllTables))
	for _, t := range AllTables {
		b, ok := backends[t]
		if !ok || b == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingBackend, t)
		}
		tables[t] = b
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	m := &DBManager{
		tables:  tables,
		logger:  logger.With("module", "blockdata"),
		metrics: metrics,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// OpenDBManager opens one backend per table as selected by cfg.
func OpenDBManager(cfg *config.StorageConfig, logger log.Logger, metrics *Metrics) (*DBManager, error) {
	backends, err := openBackends(cfg, nil)
	if err != nil {
		return nil, err
	}
	return NewDBManager(backends, logger, metrics, WithHeaderCache(cfg.HeaderCacheSize))
}

// OpenReadOnlyDBManager opens the backends selected by cfg for reading.
// Writes through the returned DBManager fail with store.ErrUnsupported.
func OpenReadOnlyDBManager(cfg *config.StorageConfig, logger log.Logger) (*DBManager, error) {
	backends, err := openBackends(cfg, store.NewReadOnly)
	if err != nil {
		return nil, err
	}
	return NewDBManager(backends, logger, nil)
}

func openBackends(cfg *config.StorageConfig, wrap func(store.Backend) store.Backend) (map[Table]store.Backend, error) {
	backends := make(map[Table]store.Backend, len(AllTables))
	closeAll := func() {
		for _, b := range backends {
			b.Close()
		}
	}

	for _, t := range AllTables {
		kind, ok := cfg.Tables[t.String()]
		if !ok {
			closeAll()
			return nil, fmt.Errorf("%w: %s", ErrMissingBackend, t)
		}
		b, err := store.NewBackend(t.String(), store.BackendType(kind), cfg.DBDir())
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open %s backend for table %s: %w", kind, t, err)
		}
		if wrap != nil {
			b = wrap(b)
		}
		backends[t] = b
	}
	return backends, nil
}

// Close closes every backend.
func (m *DBManager) Close() error {
	var firstErr error
	for _, t := range AllTables {
		if err := m.tables[t].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close table %s: %w", t, err)
		}
	}
	return firstErr
}

func (m *DBManager) backend(table Table) (store.Backend, error) {
	b, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingBackend, table)
	}
	return b, nil
}

// Get returns the value stored under key, or nil if there is none.
func (m *DBManager) Get(table Table, key []byte) ([]byte, error) {
	b, err := m.backend(table)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	value, err := b.Get(key)
	m.metrics.ReadLatency.With("table", table.String()).Observe(time.Since(start).Seconds())
	m.metrics.Reads.With("table", table.String()).Add(1)
	return value, err
}

// Put stores value under key. A failed write is logged and returned; other
// writes of the same logical operation are not rolled back. Keys are
// deterministic, so callers can retry.
func (m *DBManager) Put(table Table, key, value []byte) error {
	b, err := m.backend(table)
	if err != nil {
		return err
	}
	return m.recordWrite(table, key, "put", b.Set(key, value))
}

// Delete removes key. Failures are handled like Put.
func (m *DBManager) Delete(table Table, key []byte) error {
	b, err := m.backend(table)
	if err != nil {
		return err
	}
	return m.recordWrite(table, key, "delete", b.Delete(key))
}

func (m *DBManager) recordWrite(table Table, key []byte, op string, err error) error {
	if err != nil {
		m.metrics.WriteFailures.With("table", table.String()).Add(1)
		m.logger.Error("failed to write to database",
			"table", table, "op", op, "key", log.NewHexadecimal(key), "err", err)
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
	m.metrics.Writes.With("table", table.String()).Add(1)
	return nil
}

// insert encodes value and stores it.
func (m *DBManager) insert(table Table, key []byte, value interface{}) error {
	bz, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", value, err)
	}
	return m.Put(table, key, bz)
}

// load reads and decodes the record under key into value. It returns false
// if there is no record. A read error or a record that can't be decoded
// panics.
func (m *DBManager) load(table Table, key []byte, value interface{}) bool {
	bz := m.mustGet(table, key)
	if bz == nil {
		return false
	}
	if err := rlp.DecodeBytes(bz, value); err != nil {
		m.corrupted(table, key, err)
	}
	return true
}

func (m *DBManager) mustGet(table Table, key []byte) []byte {
	bz, err := m.Get(table, key)
	if err != nil {
		panic(fmt.Errorf("failed to read %s key %X: %w", table, key, err))
	}
	return bz
}

func (m *DBManager) corrupted(table Table, key []byte, err error) {
	m.logger.Error("failed to decode stored record",
		"table", table, "key", log.NewHexadecimal(key), "err", err)
	panic(fmt.Errorf("%w: %s key %X: %v", ErrCorrupted, table, key, err))
}
