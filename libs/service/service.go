package service

import (
	"context"
	"errors"
	"sync"

	"github.com/cfx-go/cfxcore/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to start a service
	// that has already been stopped.
	ErrAlreadyStopped = errors.New("already stopped")
)

// Service defines a service that can be started and stopped.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates. If the service is already running, Start
	// must report an error.
	Start(context.Context) error

	// Stop stops the service. Calling Stop on a service that never
	// started is a no-op.
	Stop()

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled.
	OnStop()
}

/*
BaseService carries the start/stop bookkeeping shared by the long running
components (request manager, reactor). The embedding type provides
OnStart/OnStop; OnStart receives a context that is canceled when the service
stops, so goroutines started there exit together with it.

	type RequestManager struct {
		*service.BaseService
	}

	func NewRequestManager() *RequestManager {
		m := &RequestManager{}
		m.BaseService = service.NewBaseService(logger, "RequestManager", m)
		return m
	}
*/
type BaseService struct {
	logger log.Logger
	name   string
	impl   Implementation

	mtx     sync.Mutex
	quit    <-chan struct{}
	cancel  context.CancelFunc
	stopped bool
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. An error will be
// returned if the service is already running or stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit != nil {
		if bs.stopped {
			return ErrAlreadyStopped
		}
		return ErrAlreadyStarted
	}

	srvCtx, cancel := context.WithCancel(context.Background())
	bs.logger.Info("starting service", "service", bs.name)
	if err := bs.impl.OnStart(srvCtx); err != nil {
		cancel()
		return err
	}

	bs.quit = srvCtx.Done()
	bs.cancel = cancel

	go func() {
		select {
		case <-srvCtx.Done():
			// explicitly stopped
		case <-ctx.Done():
			bs.Stop()
		}
	}()

	return nil
}

// Stop calls OnStop and cancels the context handed to OnStart.
func (bs *BaseService) Stop() {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit == nil || bs.stopped {
		return
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.stopped = true
	bs.impl.OnStop()
	bs.cancel()
}

// IsRunning implements Service by returning true or false depending on the
// service's state.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	return bs.quit != nil && !bs.stopped
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() {
	bs.mtx.Lock()
	quit := bs.quit
	bs.mtx.Unlock()
	if quit == nil {
		return
	}
	<-quit
}

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
