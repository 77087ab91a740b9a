package sync

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/p2p/p2ptest"
	"github.com/cfx-go/cfxcore/internal/statesync"
	"github.com/cfx-go/cfxcore/internal/statesync/mocks"
	"github.com/cfx-go/cfxcore/internal/sync/message"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/types"
)

const (
	peerA = p2p.NodeID("aa")
	peerB = p2p.NodeID("bb")
)

type reactorTestSuite struct {
	reactor *Reactor
	db      *blockdata.DBManager
	sink    *mocks.StateSink
	cfg     *config.Config

	out  chan p2p.Envelope
	errs chan p2p.PeerError
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.TestConfig()
	cfg.StateSync.TempDir = t.TempDir()
	return cfg
}

// setup creates a reactor that isn't started. Outbound envelopes are
// collected on out.
func setup(t *testing.T, cfg *config.Config, options ...ReactorOption) *reactorTestSuite {
	t.Helper()
	s := &reactorTestSuite{
		db:   blockdata.NewMemDBManager(log.TestingLogger()),
		sink: mocks.NewStateSink(t),
		cfg:  cfg,
		out:  make(chan p2p.Envelope, 64),
		errs: make(chan p2p.PeerError, 64),
	}
	channel := p2p.NewChannel("sync", make(chan p2p.Envelope), s.out, s.errs)
	s.reactor = NewReactor(log.TestingLogger(), cfg, s.db, s.sink, channel, options...)
	t.Cleanup(func() { require.NoError(t, s.db.Close()) })
	return s
}

func (s *reactorTestSuite) receive(t *testing.T, from p2p.NodeID, msg message.Message) error {
	t.Helper()
	bz, err := message.Encode(msg)
	require.NoError(t, err)
	return s.reactor.Receive(context.Background(), p2p.Envelope{From: from, Message: bz})
}

func (s *reactorTestSuite) next(t *testing.T) (p2p.NodeID, message.Message) {
	t.Helper()
	select {
	case envelope := <-s.out:
		msg, err := message.Decode(envelope.Message)
		require.NoError(t, err)
		return envelope.To, msg
	case <-time.After(time.Second):
		require.FailNow(t, "no envelope sent")
	}
	return "", nil
}

func (s *reactorTestSuite) requireNoSend(t *testing.T) {
	t.Helper()
	select {
	case envelope := <-s.out:
		require.FailNow(t, "unexpected envelope", "to %v", envelope.To)
	default:
	}
}

func hashesOf(blocks []*types.Block) []types.Hash {
	hashes := make([]types.Hash, len(blocks))
	for i, b := range blocks {
		hashes[i] = b.Hash()
	}
	return hashes
}

func TestReactorHandlesEveryMessage(t *testing.T) {
	s := setup(t, testConfig(t))
	for _, id := range []message.MsgID{
		message.GetBlockHeadersID, message.BlockHeadersID,
		message.GetBlocksID, message.BlocksID,
		message.GetSnapshotManifestID, message.SnapshotManifestID,
		message.GetSnapshotChunkID, message.SnapshotChunkID,
	} {
		assert.Contains(t, s.reactor.handlers, id, id.String())
	}
}

func TestReactorRespondsHeaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.MaxHeadersPerRequest = 2
	s := setup(t, cfg)
	chain := types.MakeChain(3, 1)
	for _, b := range chain {
		require.NoError(t, s.db.InsertBlock(b))
	}

	req := &message.GetBlockHeaders{RequestID: 7, Hashes: append([]types.Hash{{0xff}}, hashesOf(chain)...)}
	require.NoError(t, s.receive(t, peerA, req))

	to, msg := s.next(t)
	assert.Equal(t, peerA, to)
	resp := msg.(*message.BlockHeaders)
	assert.EqualValues(t, 7, resp.RequestID)
	// the unknown hash is skipped, the rest capped
	require.Len(t, resp.Headers, 2)
	assert.Equal(t, chain[0].Hash(), resp.Headers[0].Hash())
	assert.Equal(t, chain[1].Hash(), resp.Headers[1].Hash())
}

func TestReactorRespondsBlocks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.MaxBlocksPerRequest = 1
	s := setup(t, cfg)
	chain := types.MakeChain(2, 2)
	for _, b := range chain {
		require.NoError(t, s.db.InsertBlock(b))
	}

	require.NoError(t, s.receive(t, peerA, &message.GetBlocks{RequestID: 1, Hashes: hashesOf(chain)}))
	_, msg := s.next(t)
	resp := msg.(*message.Blocks)
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, chain[0].Hash(), resp.Blocks[0].Hash())
	assert.Equal(t, chain[0].Transactions.TransactionsRoot(), resp.Blocks[0].Transactions.TransactionsRoot())

	require.NoError(t, s.receive(t, peerA, &message.GetBlocks{RequestID: 2, Hashes: []types.Hash{{0x01}}}))
	_, msg = s.next(t)
	assert.Empty(t, msg.(*message.Blocks).Blocks)
}

func TestReactorRespondsSnapshot(t *testing.T) {
	s := setup(t, testConfig(t))
	checkpoint := types.Hash{0x01}
	manifest, err := statesync.CreateSnapshot(s.db, checkpoint, []byte("some state to serve"), 8)
	require.NoError(t, err)

	require.NoError(t, s.receive(t, peerA, &message.GetSnapshotManifest{RequestID: 1, Checkpoint: checkpoint}))
	_, msg := s.next(t)
	assert.Equal(t, manifest.ChunkHashes, msg.(*message.SnapshotManifest).ChunkHashes)

	// unknown checkpoints get an empty manifest
	require.NoError(t, s.receive(t, peerA, &message.GetSnapshotManifest{RequestID: 2, Checkpoint: types.Hash{0x02}}))
	_, msg = s.next(t)
	resp := msg.(*message.SnapshotManifest)
	assert.Equal(t, types.Hash{0x02}, resp.Checkpoint)
	assert.Empty(t, resp.ChunkHashes)

	chunk := manifest.ChunkHashes[0]
	require.NoError(t, s.receive(t, peerA, &message.GetSnapshotChunk{RequestID: 3, Checkpoint: checkpoint, ChunkHash: chunk}))
	_, msg = s.next(t)
	chunkResp := msg.(*message.SnapshotChunk)
	assert.False(t, chunkResp.Missing)
	assert.Equal(t, chunk, types.ChunkHash(chunkResp.Chunk))

	require.NoError(t, s.receive(t, peerA, &message.GetSnapshotChunk{RequestID: 4, Checkpoint: checkpoint, ChunkHash: types.Hash{0x03}}))
	_, msg = s.next(t)
	assert.True(t, msg.(*message.SnapshotChunk).Missing)
}

func TestReactorCustomProvider(t *testing.T) {
	provider := mocks.NewProvider(t)
	s := setup(t, testConfig(t), WithProvider(provider))
	checkpoint := types.Hash{0x01}
	chunks := []types.Hash{{0x0a}, {0x0b}}
	provider.On("Manifest", checkpoint).
		Return(&types.SnapshotManifest{Checkpoint: checkpoint, ChunkHashes: chunks}, true).Once()

	require.NoError(t, s.receive(t, peerA, &message.GetSnapshotManifest{RequestID: 1, Checkpoint: checkpoint}))
	_, msg := s.next(t)
	assert.Equal(t, chunks, msg.(*message.SnapshotManifest).ChunkHashes)
}

func TestReactorRejectsInvalidMessages(t *testing.T) {
	s := setup(t, testConfig(t))
	ctx := context.Background()

	assert.Error(t, s.reactor.Receive(ctx, p2p.Envelope{From: peerA, Message: nil}))
	assert.Error(t, s.reactor.Receive(ctx, p2p.Envelope{From: peerA, Message: []byte{0xee, 0xc0}}))
	assert.Error(t, s.receive(t, peerA, &message.GetBlockHeaders{Hashes: []types.Hash{{0x01}}}))
	assert.Error(t, s.receive(t, peerA, &message.GetBlockHeaders{RequestID: 1}))
	s.requireNoSend(t)
}

func TestReactorDropsUnmatchedResponses(t *testing.T) {
	s := setup(t, testConfig(t))
	chain := types.MakeChain(1, 1)

	resp := &message.BlockHeaders{RequestID: 99, Headers: []*types.BlockHeader{chain[0].Header}}
	require.NoError(t, s.receive(t, peerA, resp))
	assert.Nil(t, s.db.BlockHeader(chain[0].Hash()))
}

func TestReactorStoresFetchedHeaders(t *testing.T) {
	ctx := context.Background()
	s := setup(t, testConfig(t))
	chain := types.MakeChain(3, 1)
	s.reactor.AddPeer(peerA)

	require.NoError(t, s.reactor.FetchHeaders(ctx, hashesOf(chain[:2])))
	to, msg := s.next(t)
	require.Equal(t, peerA, to)
	req := msg.(*message.GetBlockHeaders)
	assert.Equal(t, hashesOf(chain[:2]), req.Hashes)

	// an unrequested header is a protocol violation; the rest is kept
	resp := &message.BlockHeaders{RequestID: req.RequestID, Headers: []*types.BlockHeader{
		chain[0].Header, chain[1].Header, chain[2].Header,
	}}
	require.Error(t, s.receive(t, peerA, resp))

	assert.Equal(t, chain[0].Hash(), s.db.BlockHeader(chain[0].Hash()).Hash())
	assert.NotNil(t, s.db.BlockHeader(chain[1].Hash()))
	assert.Nil(t, s.db.BlockHeader(chain[2].Hash()))
	assert.Zero(t, s.reactor.NumPending())
	s.requireNoSend(t)

	// stored headers aren't fetched again
	require.NoError(t, s.reactor.FetchHeaders(ctx, hashesOf(chain)))
	_, msg = s.next(t)
	assert.Equal(t, []types.Hash{chain[2].Hash()}, msg.(*message.GetBlockHeaders).Hashes)
}

func TestReactorStoresFetchedBlocks(t *testing.T) {
	ctx := context.Background()
	s := setup(t, testConfig(t))
	chain := types.MakeChain(2, 2)
	s.reactor.AddPeer(peerA)

	require.NoError(t, s.reactor.FetchBlocks(ctx, hashesOf(chain)))
	_, msg := s.next(t)
	req := msg.(*message.GetBlocks)
	require.NoError(t, s.receive(t, peerA, &message.Blocks{RequestID: req.RequestID, Blocks: chain}))

	for _, b := range chain {
		stored := s.db.Block(b.Hash())
		require.NotNil(t, stored)
		assert.Len(t, stored.Transactions, 2)
	}
}

func TestReactorFetchBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.MaxHeadersPerRequest = 2
	s := setup(t, cfg)
	chain := types.MakeChain(5, 1)

	require.ErrorIs(t, s.reactor.FetchHeaders(context.Background(), hashesOf(chain)), ErrNoPeers)
	s.requireNoSend(t)

	s.reactor.AddPeer(peerA)
	s.reactor.AddPeer(peerB)
	require.NoError(t, s.reactor.FetchHeaders(context.Background(), hashesOf(chain)))

	var requested []types.Hash
	recipients := map[p2p.NodeID]bool{}
	for i := 0; i < 3; i++ {
		to, msg := s.next(t)
		recipients[to] = true
		requested = append(requested, msg.(*message.GetBlockHeaders).Hashes...)
	}
	assert.Equal(t, hashesOf(chain), requested)
	assert.Len(t, recipients, 2)
	assert.Equal(t, 3, s.reactor.NumPending())
}

func TestReactorRefetchesMissingBlocks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.BlocksMaxResends = 1
	s := setup(t, cfg)
	chain := types.MakeChain(2, 1)
	s.reactor.AddPeer(peerA)
	s.reactor.AddPeer(peerB)

	require.NoError(t, s.reactor.FetchBlocks(ctx, hashesOf(chain)))
	to, msg := s.next(t)
	require.Equal(t, peerA, to)
	req := msg.(*message.GetBlocks)

	// peer A only has the first block
	require.NoError(t, s.receive(t, peerA, &message.Blocks{RequestID: req.RequestID, Blocks: chain[:1]}))
	to, msg = s.next(t)
	assert.Equal(t, peerB, to)
	refetch := msg.(*message.GetBlocks)
	assert.Equal(t, []types.Hash{chain[1].Hash()}, refetch.Hashes)

	// neither does B; the ceiling is reached
	require.NoError(t, s.receive(t, peerB, &message.Blocks{RequestID: refetch.RequestID, Blocks: []*types.Block{}}))
	s.requireNoSend(t)
	assert.Zero(t, s.reactor.NumPending())
}

func TestReactorRemovePeerResends(t *testing.T) {
	ctx := context.Background()
	s := setup(t, testConfig(t))
	chain := types.MakeChain(1, 1)
	s.reactor.AddPeer(peerA)
	s.reactor.AddPeer(peerB)

	require.NoError(t, s.reactor.FetchHeaders(ctx, hashesOf(chain)))
	to, _ := s.next(t)
	require.Equal(t, peerA, to)

	s.reactor.RemovePeer(ctx, peerA)
	to, msg := s.next(t)
	assert.Equal(t, peerB, to)
	assert.Equal(t, hashesOf(chain), msg.(*message.GetBlockHeaders).Hashes)
}

func TestReactorCorruptedHeaderPanics(t *testing.T) {
	s := setup(t, testConfig(t))
	hash := types.Hash{0x01}
	require.NoError(t, s.db.Put(blockdata.Blocks, append(hash.Bytes(), 0), []byte{0xff, 0x01}))

	defer func() {
		e := recover()
		require.NotNil(t, e, "corruption was not reported")
		err, ok := e.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, blockdata.ErrCorrupted)
	}()
	_ = s.receive(t, peerA, &message.GetBlockHeaders{RequestID: 1, Hashes: []types.Hash{hash}})
}

func TestReactorIgnoresCancelledHeaders(t *testing.T) {
	ctx := context.Background()
	s := setup(t, testConfig(t))
	chain := types.MakeChain(2, 1)
	s.reactor.AddPeer(peerA)

	require.NoError(t, s.reactor.FetchHeaders(ctx, hashesOf(chain)))
	_, msg := s.next(t)
	req := msg.(*message.GetBlockHeaders)
	s.reactor.requests.Cancel(message.Key{Kind: message.GetBlockHeadersID, Hash: chain[1].Hash()})

	// peer A answers what was sent, including the cancelled header
	resp := &message.BlockHeaders{RequestID: req.RequestID, Headers: []*types.BlockHeader{
		chain[0].Header, chain[1].Header,
	}}
	require.NoError(t, s.receive(t, peerA, resp))
	assert.NotNil(t, s.db.BlockHeader(chain[0].Hash()))
	assert.Nil(t, s.db.BlockHeader(chain[1].Hash()))
	assert.Zero(t, s.reactor.NumPending())
	s.requireNoSend(t)
}

func TestReactorRefetchesAfterInvalidBlocks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.BlocksMaxResends = 1
	s := setup(t, cfg)
	chain := types.MakeChain(1, 2)
	s.reactor.AddPeer(peerA)
	s.reactor.AddPeer(peerB)

	require.NoError(t, s.reactor.FetchBlocks(ctx, hashesOf(chain)))
	to, msg := s.next(t)
	require.Equal(t, peerA, to)
	req := msg.(*message.GetBlocks)

	bad := &types.Block{Header: chain[0].Header, Transactions: chain[0].Transactions[:1]}
	require.Error(t, s.receive(t, peerA, &message.Blocks{RequestID: req.RequestID, Blocks: []*types.Block{bad}}))
	assert.Nil(t, s.db.Block(chain[0].Hash()))

	to, msg = s.next(t)
	assert.Equal(t, peerB, to)
	refetch := msg.(*message.GetBlocks)
	assert.Equal(t, hashesOf(chain), refetch.Hashes)
	assert.Equal(t, 1, s.reactor.NumPending())

	require.NoError(t, s.receive(t, peerB, &message.Blocks{RequestID: refetch.RequestID, Blocks: chain}))
	assert.NotNil(t, s.db.Block(chain[0].Hash()))
	assert.Zero(t, s.reactor.NumPending())
}

func TestReactorAbandonedRefetchIsForgotten(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.BlocksMaxResends = 1
	mockClock := clock.NewMock()
	s := setup(t, cfg, WithClock(mockClock))
	chain := types.MakeChain(2, 1)
	s.reactor.AddPeer(peerA)
	s.reactor.AddPeer(peerB)

	require.NoError(t, s.reactor.FetchBlocks(ctx, hashesOf(chain)))
	_, msg := s.next(t)
	req := msg.(*message.GetBlocks)
	require.NoError(t, s.receive(t, peerA, &message.Blocks{RequestID: req.RequestID, Blocks: chain[:1]}))
	to, _ := s.next(t)
	require.Equal(t, peerB, to)

	s.reactor.mtx.Lock()
	require.Len(t, s.reactor.refetch, 1)
	s.reactor.mtx.Unlock()

	// the refetch times out on B, is resent to A and times out again
	mockClock.Add(cfg.Sync.BlocksRequestTimeout)
	s.reactor.requests.CheckTimeouts(ctx)
	to, _ = s.next(t)
	require.Equal(t, peerA, to)
	mockClock.Add(cfg.Sync.BlocksRequestTimeout)
	s.reactor.requests.CheckTimeouts(ctx)
	s.requireNoSend(t)
	require.Zero(t, s.reactor.NumPending())

	s.reactor.mtx.Lock()
	defer s.reactor.mtx.Unlock()
	assert.Empty(t, s.reactor.refetch)
}

//-----------------------------------------------------------------------------
// over the in-memory network

type networkNode struct {
	*reactorTestSuite
	node *p2ptest.Node
}

func setupNetwork(ctx context.Context, t *testing.T, n int) []*networkNode {
	t.Helper()
	network := p2ptest.MakeNetwork(ctx, t, n)
	ids := network.NodeIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes := make([]*networkNode, n)
	for i, id := range ids {
		node := network.Node(id)
		cfg := testConfig(t)
		s := &reactorTestSuite{
			db:   blockdata.NewMemDBManager(log.TestingLogger()),
			sink: mocks.NewStateSink(t),
			cfg:  cfg,
		}
		s.reactor = NewReactor(log.TestingLogger().With("node", id), cfg, s.db, s.sink, node.Channel)
		require.NoError(t, s.reactor.Start(ctx))
		nodes[i] = &networkNode{reactorTestSuite: s, node: node}

		t.Cleanup(func() {
			s.reactor.Stop()
			require.NoError(t, s.db.Close())
		})
	}
	return nodes
}

func TestReactorSyncsBlocksOverNetwork(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := setupNetwork(ctx, t, 3)
	source, other, fetcher := nodes[0], nodes[1], nodes[2]
	chain := types.MakeChain(4, 2)
	for _, b := range chain[:3] {
		require.NoError(t, source.db.InsertBlock(b))
	}
	require.NoError(t, other.db.InsertBlock(chain[3]))

	fetcher.reactor.AddPeer(source.node.NodeID)
	fetcher.reactor.AddPeer(other.node.NodeID)
	require.NoError(t, fetcher.reactor.FetchBlocks(ctx, hashesOf(chain)))

	require.Eventually(t, func() bool {
		for _, b := range chain {
			if fetcher.db.Block(b.Hash()) == nil {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	p2ptest.RequireNoError(t, source.node, 50*time.Millisecond)
	p2ptest.RequireNoError(t, fetcher.node, 50*time.Millisecond)
}

func TestReactorSnapshotSyncOverNetwork(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := setupNetwork(ctx, t, 3)
	fetcher := nodes[2]
	checkpoint := types.Hash{0x01}
	state := []byte("a state big enough to need a few chunks of sixteen bytes")
	for _, n := range nodes[:2] {
		_, err := statesync.CreateSnapshot(n.db, checkpoint, state, n.cfg.StateSync.ChunkSize)
		require.NoError(t, err)
		fetcher.reactor.AddPeer(n.node.NodeID)
	}

	restored := make(chan *statesync.Snapshot, 1)
	fetcher.sink.On("RestoreSnapshot", mock.Anything).Run(func(args mock.Arguments) {
		restored <- args.Get(0).(*statesync.Snapshot)
	}).Return(nil).Once()

	require.NoError(t, fetcher.reactor.SyncCheckpoint(ctx, checkpoint))

	select {
	case snapshot := <-restored:
		assert.Equal(t, checkpoint, snapshot.Checkpoint)
		got, err := snapshot.State()
		require.NoError(t, err)
		assert.Equal(t, state, got)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "snapshot not restored")
	}
}

func TestReactorUnknownCheckpointOverNetwork(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := setupNetwork(ctx, t, 2)
	fetcher := nodes[1]
	fetcher.reactor.AddPeer(nodes[0].node.NodeID)

	restored := make(chan *statesync.Snapshot, 1)
	fetcher.sink.On("RestoreSnapshot", mock.Anything).Run(func(args mock.Arguments) {
		restored <- args.Get(0).(*statesync.Snapshot)
	}).Return(nil).Once()

	require.NoError(t, fetcher.reactor.SyncCheckpoint(ctx, types.Hash{0x09}))
	select {
	case snapshot := <-restored:
		assert.Empty(t, snapshot.Chunks)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "snapshot not restored")
	}
}

func TestReactorReportsPeerErrors(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	nodes := setupNetwork(ctx, t, 2)
	sender, receiver := nodes[0], nodes[1]

	require.NoError(t, sender.node.Channel.Send(ctx, p2p.Envelope{
		To:      receiver.node.NodeID,
		Message: []byte{0xee},
	}))
	pe := p2ptest.RequireError(t, receiver.node, time.Second)
	assert.Equal(t, sender.node.NodeID, pe.NodeID)
}
