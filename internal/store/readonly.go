package store

import "sync/atomic"

// readOnlyBackend serves reads from a wrapped backend and refuses writes.
type readOnlyBackend struct {
	backend Backend
	closed  int32
}

var _ Backend = (*readOnlyBackend)(nil)

// NewReadOnly wraps b so that Set and Delete return ErrUnsupported.
func NewReadOnly(b Backend) Backend {
	return &readOnlyBackend{backend: b}
}

func (r *readOnlyBackend) Get(key []byte) ([]byte, error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil, errBackendClosed
	}
	return r.backend.Get(key)
}

func (r *readOnlyBackend) Set([]byte, []byte) error { return ErrUnsupported }

func (r *readOnlyBackend) Delete([]byte) error { return ErrUnsupported }

func (r *readOnlyBackend) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	return r.backend.Close()
}
