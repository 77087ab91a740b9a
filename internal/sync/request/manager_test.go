package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/sync/message"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/types"
)

const (
	peerA = p2p.NodeID("aa")
	peerB = p2p.NodeID("bb")
	peerC = p2p.NodeID("cc")
)

type recordingSender struct {
	mtx  sync.Mutex
	sent []p2p.Envelope
	err  error
}

func (s *recordingSender) Send(_ context.Context, e p2p.Envelope) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e)
	return nil
}

func (s *recordingSender) Sent() []p2p.Envelope {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]p2p.Envelope(nil), s.sent...)
}

func (s *recordingSender) request(t *testing.T, i int) message.Request {
	t.Helper()
	sent := s.Sent()
	require.Greater(t, len(sent), i)
	msg, err := message.Decode(sent[i].Message)
	require.NoError(t, err)
	req, ok := msg.(message.Request)
	require.True(t, ok)
	return req
}

// terminalChunkRequest is never resent.
type terminalChunkRequest struct {
	*message.GetSnapshotChunk
}

func (terminalChunkRequest) Resend() message.Request { return nil }

type abandoned struct {
	mtx  sync.Mutex
	reqs []message.Request
	last []p2p.NodeID
}

func (a *abandoned) handle(req message.Request, peer p2p.NodeID) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.reqs = append(a.reqs, req)
	a.last = append(a.last, peer)
}

type managerSetup struct {
	manager   *Manager
	sender    *recordingSender
	clock     *clock.Mock
	peers     *p2p.PeerSet
	cfg       *config.SyncConfig
	abandoned *abandoned
}

func setupManager(t *testing.T, peers ...p2p.NodeID) *managerSetup {
	t.Helper()
	s := &managerSetup{
		sender:    &recordingSender{},
		clock:     clock.NewMock(),
		peers:     p2p.NewPeerSet(),
		cfg:       config.TestSyncConfig(),
		abandoned: &abandoned{},
	}
	for _, p := range peers {
		s.peers.Append(p)
	}
	s.manager = NewManager(log.TestingLogger(), s.cfg, s.sender, s.peers,
		WithClock(s.clock), WithAbandonHandler(s.abandoned.handle))
	return s
}

func chunkRequest(chunk byte) *message.GetSnapshotChunk {
	return &message.GetSnapshotChunk{Checkpoint: types.Hash{0xcc}, ChunkHash: types.Hash{chunk}}
}

func TestManagerCoalescesSameChunk(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)

	sent, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	assert.True(t, sent)

	// a second fetch of the same chunk, even from another peer, is dropped
	sent, err = s.manager.Request(ctx, chunkRequest(1), peerB)
	require.NoError(t, err)
	assert.False(t, sent)

	require.Len(t, s.sender.Sent(), 1)
	assert.Equal(t, peerA, s.sender.Sent()[0].To)
	assert.Equal(t, 1, s.manager.NumPending())
	assert.True(t, s.manager.Inflight(message.Key{Kind: message.GetSnapshotChunkID, Hash: types.Hash{1}}))
}

func TestManagerNarrowsPartiallyInflight(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA)
	a, b, c := types.Hash{0x0a}, types.Hash{0x0b}, types.Hash{0x0c}

	_, err := s.manager.Request(ctx, &message.GetBlockHeaders{Hashes: []types.Hash{a, b}}, peerA)
	require.NoError(t, err)
	sent, err := s.manager.Request(ctx, &message.GetBlockHeaders{Hashes: []types.Hash{b, c}}, peerA)
	require.NoError(t, err)
	require.True(t, sent)

	second := s.sender.request(t, 1).(*message.GetBlockHeaders)
	assert.Equal(t, []types.Hash{c}, second.Hashes)
	assert.NotEqual(t, s.sender.request(t, 0).GetRequestID(), second.RequestID)
}

func TestManagerEmptyRequestNotSent(t *testing.T) {
	s := setupManager(t, peerA)
	sent, err := s.manager.Request(context.Background(), &message.GetBlocks{}, peerA)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, s.sender.Sent())
	assert.Zero(t, s.manager.NumPending())
}

func TestManagerResendCeiling(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB, peerC)
	s.cfg.SnapshotChunkMaxResends = 2
	timeout := s.cfg.SnapshotChunkRequestTimeout

	sent, err := s.manager.Request(ctx, chunkRequest(7), peerA)
	require.NoError(t, err)
	require.True(t, sent)

	for i := 0; i < 3; i++ {
		// not expired yet
		s.clock.Add(timeout - time.Millisecond)
		s.manager.CheckTimeouts(ctx)
		require.Len(t, s.sender.Sent(), i+1)

		s.clock.Add(time.Millisecond)
		s.manager.CheckTimeouts(ctx)
	}

	sent3 := s.sender.Sent()
	require.Len(t, sent3, 3)
	// every attempt goes to a peer not tried before
	assert.ElementsMatch(t, []p2p.NodeID{peerA, peerB, peerC},
		[]p2p.NodeID{sent3[0].To, sent3[1].To, sent3[2].To})

	require.Len(t, s.abandoned.reqs, 1)
	assert.Equal(t, types.Hash{7}, s.abandoned.reqs[0].(*message.GetSnapshotChunk).ChunkHash)
	assert.Equal(t, sent3[2].To, s.abandoned.last[0])
	assert.Zero(t, s.manager.NumPending())
	assert.False(t, s.manager.Inflight(message.Key{Kind: message.GetSnapshotChunkID, Hash: types.Hash{7}}))

	// nothing more happens
	s.clock.Add(10 * timeout)
	s.manager.CheckTimeouts(ctx)
	assert.Len(t, s.sender.Sent(), 3)
	assert.Len(t, s.abandoned.reqs, 1)
}

func TestManagerZeroResends(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)
	s.cfg.HeadersMaxResends = 0

	_, err := s.manager.Request(ctx, &message.GetBlockHeaders{Hashes: []types.Hash{{0x01}}}, peerA)
	require.NoError(t, err)

	s.clock.Add(s.cfg.HeadersRequestTimeout)
	s.manager.CheckTimeouts(ctx)
	assert.Len(t, s.sender.Sent(), 1)
	assert.Len(t, s.abandoned.reqs, 1)
}

func TestManagerTerminalRequestAbandoned(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)

	req := terminalChunkRequest{chunkRequest(3)}
	sent, err := s.manager.Request(ctx, req, peerA)
	require.NoError(t, err)
	require.True(t, sent)

	s.clock.Add(s.cfg.SnapshotChunkRequestTimeout)
	s.manager.CheckTimeouts(ctx)
	assert.Len(t, s.sender.Sent(), 1)
	require.Len(t, s.abandoned.reqs, 1)
	assert.Equal(t, req, s.abandoned.reqs[0])
}

func TestManagerResendReusesLastPeer(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA)

	_, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	s.clock.Add(s.cfg.SnapshotChunkRequestTimeout)
	s.manager.CheckTimeouts(ctx)

	// only one peer, so it is asked again
	sent := s.sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, peerA, sent[1].To)
}

func TestManagerNoPeersAbandons(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t)

	_, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	s.clock.Add(s.cfg.SnapshotChunkRequestTimeout)
	s.manager.CheckTimeouts(ctx)

	assert.Len(t, s.sender.Sent(), 1)
	assert.Len(t, s.abandoned.reqs, 1)
}

func TestManagerMatch(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)

	_, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	id := s.sender.request(t, 0).GetRequestID()

	// wrong peer
	_, _, ok := s.manager.Match(peerB, &message.SnapshotChunk{RequestID: id, ChunkHash: types.Hash{1}})
	assert.False(t, ok)
	// wrong kind
	_, _, ok = s.manager.Match(peerA, &message.Blocks{RequestID: id})
	assert.False(t, ok)
	// unknown id
	_, _, ok = s.manager.Match(peerA, &message.SnapshotChunk{RequestID: id + 100})
	assert.False(t, ok)
	assert.Equal(t, 1, s.manager.NumPending())

	req, _, ok := s.manager.Match(peerA, &message.SnapshotChunk{RequestID: id, ChunkHash: types.Hash{1}})
	require.True(t, ok)
	assert.Equal(t, types.Hash{1}, req.(*message.GetSnapshotChunk).ChunkHash)
	assert.Zero(t, s.manager.NumPending())

	// a duplicate response is late
	_, _, ok = s.manager.Match(peerA, &message.SnapshotChunk{RequestID: id, ChunkHash: types.Hash{1}})
	assert.False(t, ok)

	// the key is free again
	sent, err := s.manager.Request(ctx, chunkRequest(1), peerB)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestManagerLateResponseAfterResend(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)

	_, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	first := s.sender.request(t, 0).GetRequestID()

	s.clock.Add(s.cfg.SnapshotChunkRequestTimeout)
	s.manager.CheckTimeouts(ctx)
	require.Len(t, s.sender.Sent(), 2)
	require.Equal(t, peerB, s.sender.Sent()[1].To)
	second := s.sender.request(t, 1).GetRequestID()
	require.NotEqual(t, first, second)

	_, _, ok := s.manager.Match(peerA, &message.SnapshotChunk{RequestID: first, ChunkHash: types.Hash{1}})
	assert.False(t, ok)
	_, _, ok = s.manager.Match(peerB, &message.SnapshotChunk{RequestID: second, ChunkHash: types.Hash{1}})
	assert.True(t, ok)
}

func TestManagerCancel(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA)
	a, b := types.Hash{0x0a}, types.Hash{0x0b}
	keyA := message.Key{Kind: message.GetBlocksID, Hash: a}
	keyB := message.Key{Kind: message.GetBlocksID, Hash: b}

	_, err := s.manager.Request(ctx, &message.GetBlocks{Hashes: []types.Hash{a, b}}, peerA)
	require.NoError(t, err)
	id := s.sender.request(t, 0).GetRequestID()

	assert.Equal(t, 1, s.manager.Cancel(keyA))
	assert.False(t, s.manager.Inflight(keyA))
	assert.True(t, s.manager.Inflight(keyB))
	assert.Equal(t, 1, s.manager.NumPending())

	// cancelling twice is a no-op
	assert.Equal(t, 0, s.manager.Cancel(keyA))

	assert.Equal(t, 1, s.manager.Cancel(keyB))
	assert.Zero(t, s.manager.NumPending())

	_, _, ok := s.manager.Match(peerA, &message.Blocks{RequestID: id})
	assert.False(t, ok)

	// cancelled requests are not resent
	s.clock.Add(s.cfg.BlocksRequestTimeout)
	s.manager.CheckTimeouts(ctx)
	assert.Len(t, s.sender.Sent(), 1)
	assert.Empty(t, s.abandoned.reqs)
}

func TestManagerCancelNarrowsResend(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)
	a, b := types.Hash{0x0a}, types.Hash{0x0b}

	_, err := s.manager.Request(ctx, &message.GetBlocks{Hashes: []types.Hash{a, b}}, peerA)
	require.NoError(t, err)
	s.manager.Cancel(message.Key{Kind: message.GetBlocksID, Hash: a})

	s.clock.Add(s.cfg.BlocksRequestTimeout)
	s.manager.CheckTimeouts(ctx)

	resent := s.sender.request(t, 1).(*message.GetBlocks)
	assert.Equal(t, []types.Hash{b}, resent.Hashes)
}

func TestManagerMatchAfterPartialCancel(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA)
	a, b := types.Hash{0x0a}, types.Hash{0x0b}
	keyA := message.Key{Kind: message.GetBlocksID, Hash: a}
	keyB := message.Key{Kind: message.GetBlocksID, Hash: b}

	_, err := s.manager.Request(ctx, &message.GetBlocks{Hashes: []types.Hash{a, b}}, peerA)
	require.NoError(t, err)
	id := s.sender.request(t, 0).GetRequestID()
	require.Equal(t, 1, s.manager.Cancel(keyA))

	req, live, ok := s.manager.Match(peerA, &message.Blocks{RequestID: id})
	require.True(t, ok)
	// the request is reported as sent, the cancelled key is not live
	assert.Equal(t, []types.Hash{a, b}, req.(*message.GetBlocks).Hashes)
	assert.Equal(t, []message.Key{keyB}, live)
	assert.False(t, s.manager.Inflight(keyB))
	assert.Zero(t, s.manager.NumPending())
}

func TestManagerRemovePeer(t *testing.T) {
	ctx := context.Background()
	s := setupManager(t, peerA, peerB)

	_, err := s.manager.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)
	_, err = s.manager.Request(ctx, chunkRequest(2), peerB)
	require.NoError(t, err)

	s.peers.Remove(peerA)
	s.manager.RemovePeer(ctx, peerA)

	// resent to B right away, B's own request untouched
	sent := s.sender.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, peerB, sent[2].To)
	resent := s.sender.request(t, 2).(*message.GetSnapshotChunk)
	assert.Equal(t, types.Hash{1}, resent.ChunkHash)
	assert.Equal(t, 2, s.manager.NumPending())
}

func TestManagerSendFailure(t *testing.T) {
	s := setupManager(t, peerA)
	s.sender.err = errors.New("closed")

	sent, err := s.manager.Request(context.Background(), chunkRequest(1), peerA)
	require.Error(t, err)
	assert.False(t, sent)
	assert.Zero(t, s.manager.NumPending())
	assert.False(t, s.manager.Inflight(message.Key{Kind: message.GetSnapshotChunkID, Hash: types.Hash{1}}))
}

func TestManagerService(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.TestSyncConfig()
	cfg.SnapshotChunkMaxResends = 1
	sender := &recordingSender{}
	peers := p2p.NewPeerSet()
	peers.Append(peerA)
	peers.Append(peerB)

	abandonedCh := make(chan message.Request, 1)
	m := NewManager(log.TestingLogger(), cfg, sender, peers,
		WithAbandonHandler(func(req message.Request, _ p2p.NodeID) { abandonedCh <- req }))
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	_, err := m.Request(ctx, chunkRequest(1), peerA)
	require.NoError(t, err)

	select {
	case <-abandonedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not abandoned")
	}
	assert.Len(t, sender.Sent(), 2)
}
