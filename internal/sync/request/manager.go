package request

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/sync/message"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/libs/service"
)

// Sender delivers envelopes to peers. *p2p.Channel implements it.
type Sender interface {
	Send(ctx context.Context, envelope p2p.Envelope) error
}

// AbandonHandler is called, without locks held, with a request that won't be
// sent again and the last peer it was sent to.
type AbandonHandler func(req message.Request, lastPeer p2p.NodeID)

type pendingRequest struct {
	req      message.Request
	peer     p2p.NodeID
	keys     []message.Key
	bz       []byte
	deadline time.Time
	resends  int
	tried    []p2p.NodeID
}

// Manager sends requests to peers and tracks them until they are answered,
// time out or are cancelled.
//
// Every resource key is claimed by at most one pending request. A request
// whose keys are all claimed already is dropped without being sent. Keys
// are released when the request is answered, times out or is cancelled;
// on timeout the request is sent again, to another peer if there is one,
// until its resend ceiling is reached and it is abandoned.
type Manager struct {
	*service.BaseService
	logger log.Logger

	cfg       *config.SyncConfig
	sender    Sender
	peers     *p2p.PeerSet
	clock     clock.Clock
	metrics   *Metrics
	onAbandon AbandonHandler

	mtx     sync.Mutex
	lastID  uint64
	keys    *KeyContainer
	pending map[uint64]*pendingRequest
}

// Option sets an optional parameter on the Manager.
type Option func(*Manager)

// WithClock sets the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithAbandonHandler sets the function told about abandoned requests.
func WithAbandonHandler(fn AbandonHandler) Option {
	return func(m *Manager) { m.onAbandon = fn }
}

// NewManager returns a Manager sending through sender. Resends pick their
// peer from peers.
func NewManager(
	logger log.Logger,
	cfg *config.SyncConfig,
	sender Sender,
	peers *p2p.PeerSet,
	options ...Option,
) *Manager {
	m := &Manager{
		logger:  logger,
		cfg:     cfg,
		sender:  sender,
		peers:   peers,
		clock:   clock.New(),
		metrics: NopMetrics(),
		keys:    NewKeyContainer(),
		pending: make(map[uint64]*pendingRequest),
	}
	for _, opt := range options {
		opt(m)
	}
	m.BaseService = service.NewBaseService(logger, "RequestManager", m)
	return m
}

// OnStart starts checking for timed out requests every
// TimeoutCheckInterval.
func (m *Manager) OnStart(ctx context.Context) error {
	go m.timeoutRoutine(ctx)
	return nil
}

// OnStop implements service.Service. Pending requests are left as they are.
func (m *Manager) OnStop() {}

func (m *Manager) timeoutRoutine(ctx context.Context) {
	ticker := m.clock.Ticker(m.cfg.TimeoutCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckTimeouts(ctx)
		}
	}
}

// Request sends req to peer unless every resource it asks for is already
// being fetched. Keys fetched by other requests are narrowed out of req
// first. sent is false if nothing was sent.
func (m *Manager) Request(ctx context.Context, req message.Request, peer p2p.NodeID) (sent bool, err error) {
	m.mtx.Lock()
	p, err := m.register(req, peer, 0, nil)
	m.mtx.Unlock()
	if p == nil || err != nil {
		return false, err
	}

	if err := m.send(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// register claims the keys of req and records it as pending under a new
// request id. It returns nil if req was coalesced with pending requests.
// The caller must hold the lock.
func (m *Manager) register(
	req message.Request,
	peer p2p.NodeID,
	resends int,
	tried []p2p.NodeID,
) (*pendingRequest, error) {
	m.lastID++
	id := m.lastID

	claimed := m.keys.Claim(req.InflightKeys(), id)
	req.Narrow(claimed)
	if req.IsEmpty() {
		m.keys.Release(claimed, id)
		m.metrics.Coalesced.With("kind", req.MsgID().String()).Add(1)
		m.logger.Debug("request coalesced", "kind", req.MsgID(), "peer", peer)
		return nil, nil
	}

	req.SetRequestID(id)
	bz, err := message.Encode(req)
	if err != nil {
		m.keys.Release(claimed, id)
		return nil, err
	}

	p := &pendingRequest{
		req:      req,
		peer:     peer,
		keys:     claimed,
		bz:       bz,
		deadline: m.clock.Now().Add(req.Timeout(m.cfg)),
		resends:  resends,
		tried:    append(append([]p2p.NodeID(nil), tried...), peer),
	}
	m.pending[id] = p
	m.metrics.Pending.Set(float64(len(m.pending)))
	return p, nil
}

// send delivers a registered request. If that fails the request is
// dropped and its keys released.
func (m *Manager) send(ctx context.Context, p *pendingRequest) error {
	id := p.req.GetRequestID()
	if err := m.sender.Send(ctx, p2p.Envelope{To: p.peer, Message: p.bz}); err != nil {
		m.mtx.Lock()
		m.remove(id)
		m.mtx.Unlock()
		return err
	}

	m.metrics.Sent.With("kind", p.req.MsgID().String()).Add(1)
	m.logger.Debug("sent request", "kind", p.req.MsgID(), "id", id, "peer", p.peer, "attempt", p.resends+1)
	return nil
}

// remove drops a pending request and releases its keys. The caller must
// hold the lock.
func (m *Manager) remove(id uint64) *pendingRequest {
	p, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	m.keys.Release(p.keys, id)
	m.metrics.Pending.Set(float64(len(m.pending)))
	return p
}

// Match looks up the request resp answers. The request is removed and its
// keys released. req is the request as it was sent to peer; live holds the
// keys it still claimed, so items cancelled since it was sent are absent
// from live. ok is false for responses to unknown, cancelled or abandoned
// requests, responses from another peer than the one asked, and responses
// of the wrong kind; these are dropped.
func (m *Manager) Match(peer p2p.NodeID, resp message.Message) (req message.Request, live []message.Key, ok bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	id := resp.GetRequestID()
	p, ok := m.pending[id]
	if ok {
		kind, _ := message.ResponseKind(p.req.MsgID())
		ok = p.peer == peer && kind == resp.MsgID()
	}
	if !ok {
		m.metrics.LateResponses.With("kind", resp.MsgID().String()).Add(1)
		m.logger.Debug("dropping unmatched response", "kind", resp.MsgID(), "id", id, "peer", peer)
		return nil, nil, false
	}

	m.remove(id)
	return p.req, p.keys, true
}

// CheckTimeouts resends or abandons every request whose deadline passed.
func (m *Manager) CheckTimeouts(ctx context.Context) {
	now := m.clock.Now()
	m.expire(ctx, "timeout", func(p *pendingRequest) bool {
		return !now.Before(p.deadline)
	})
}

// RemovePeer treats every request pending on peer as timed out, so they
// are resent to other peers right away. peer should be removed from the
// PeerSet first.
func (m *Manager) RemovePeer(ctx context.Context, peer p2p.NodeID) {
	m.expire(ctx, "peer removed", func(p *pendingRequest) bool {
		return p.peer == peer
	})
}

func (m *Manager) expire(ctx context.Context, reason string, expired func(*pendingRequest) bool) {
	var resend, abandon []*pendingRequest

	m.mtx.Lock()
	ids := make([]uint64, 0, len(m.pending))
	for id, p := range m.pending {
		if expired(p) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := m.remove(id)
		m.metrics.Timeouts.With("kind", p.req.MsgID().String()).Add(1)
		m.logger.Debug("request expired", "kind", p.req.MsgID(), "id", id, "peer", p.peer, "reason", reason)

		// keys were released above and are claimed again below while the
		// lock is held, so no other request can slip in between
		next, giveUp := m.nextAttempt(p)
		switch {
		case giveUp:
			abandon = append(abandon, p)
		case next != nil:
			resend = append(resend, next)
		}
	}
	m.mtx.Unlock()

	for _, p := range abandon {
		m.abandon(p)
	}
	for _, p := range resend {
		m.metrics.Resends.With("kind", p.req.MsgID().String()).Add(1)
		if err := m.send(ctx, p); err != nil {
			m.logger.Error("failed to resend request", "kind", p.req.MsgID(), "peer", p.peer, "err", err)
			m.abandon(p)
		}
	}
}

// nextAttempt registers the next attempt of an expired request. The caller
// must hold the lock.
func (m *Manager) nextAttempt(p *pendingRequest) (next *pendingRequest, giveUp bool) {
	if p.resends >= p.req.MaxResends(m.cfg) {
		return nil, true
	}
	req := p.req.Resend()
	if req == nil {
		return nil, true
	}
	// drop what was cancelled since the last attempt
	req.Narrow(p.keys)
	peer, ok := m.peers.Next(p.tried...)
	if !ok {
		return nil, true
	}

	next, err := m.register(req, peer, p.resends+1, p.tried)
	if err != nil {
		m.logger.Error("failed to register resend", "kind", req.MsgID(), "err", err)
		return nil, true
	}
	// nil means another request took over the keys
	return next, false
}

func (m *Manager) abandon(p *pendingRequest) {
	m.metrics.Abandoned.With("kind", p.req.MsgID().String()).Add(1)
	m.logger.Info("abandoning request", "kind", p.req.MsgID(), "peer", p.peer, "attempts", p.resends+1)
	if m.onAbandon != nil {
		m.onAbandon(p.req, p.peer)
	}
}

// Cancel releases the given keys. Requests left without keys are dropped
// and a late response to them is ignored. It returns the number of keys
// that were inflight.
func (m *Manager) Cancel(keys ...message.Key) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	canceled := 0
	for _, k := range keys {
		id, ok := m.keys.Owner(k)
		if !ok {
			continue
		}
		canceled++
		m.keys.Release([]message.Key{k}, id)

		p := m.pending[id]
		remaining := p.keys[:0:0]
		for _, pk := range p.keys {
			if pk != k {
				remaining = append(remaining, pk)
			}
		}
		p.keys = remaining
		if len(remaining) == 0 {
			delete(m.pending, id)
		}
	}
	m.metrics.Pending.Set(float64(len(m.pending)))
	return canceled
}

// Inflight reports whether a pending request claims key.
func (m *Manager) Inflight(key message.Key) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.keys.Contains(key)
}

// NumPending returns the number of requests awaiting a response.
func (m *Manager) NumPending() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.pending)
}
