package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	gosync "sync"

	"github.com/benbjohnson/clock"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/statesync"
	"github.com/cfx-go/cfxcore/internal/sync/message"
	"github.com/cfx-go/cfxcore/internal/sync/request"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/libs/service"
	"github.com/cfx-go/cfxcore/types"
)

var _ service.Service = (*Reactor)(nil)

// ErrNoPeers is returned when there is no peer to fetch from.
var ErrNoPeers = statesync.ErrNoPeers

type handlerFunc func(ctx context.Context, from p2p.NodeID, msg message.Message) error

// Reactor serves chain data to peers and fetches it from them.
type Reactor struct {
	*service.BaseService
	logger log.Logger

	cfg      *config.SyncConfig
	db       *blockdata.DBManager
	provider statesync.Provider
	channel  *p2p.Channel
	peers    *p2p.PeerSet
	requests *request.Manager
	syncer   *statesync.Syncer

	handlers map[message.MsgID]handlerFunc

	// refetch counts how often an item was asked for again because a peer
	// didn't return it.
	mtx     gosync.Mutex
	refetch map[message.Key]int

	requestOptions   []request.Option
	stateSyncMetrics *statesync.Metrics
}

// ReactorOption sets an optional parameter on the Reactor.
type ReactorOption func(*Reactor)

// WithProvider sets where served snapshots come from. The default serves
// the snapshots stored in the DBManager.
func WithProvider(provider statesync.Provider) ReactorOption {
	return func(r *Reactor) { r.provider = provider }
}

func WithRequestMetrics(metrics *request.Metrics) ReactorOption {
	return func(r *Reactor) { r.requestOptions = append(r.requestOptions, request.WithMetrics(metrics)) }
}

func WithStateSyncMetrics(metrics *statesync.Metrics) ReactorOption {
	return func(r *Reactor) { r.stateSyncMetrics = metrics }
}

// WithClock sets the time source of the request manager.
func WithClock(c clock.Clock) ReactorOption {
	return func(r *Reactor) { r.requestOptions = append(r.requestOptions, request.WithClock(c)) }
}

// NewReactor returns a Reactor exchanging messages over channel. Restored
// snapshots are handed to sink.
func NewReactor(
	logger log.Logger,
	cfg *config.Config,
	db *blockdata.DBManager,
	sink statesync.StateSink,
	channel *p2p.Channel,
	options ...ReactorOption,
) *Reactor {
	r := &Reactor{
		logger:  logger,
		cfg:     cfg.Sync,
		db:      db,
		channel: channel,
		peers:   p2p.NewPeerSet(),
		refetch: make(map[message.Key]int),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.provider == nil {
		r.provider = statesync.NewDBProvider(db)
	}

	r.requests = request.NewManager(
		logger.With("module", "request"),
		cfg.Sync,
		channel,
		r.peers,
		append(r.requestOptions, request.WithAbandonHandler(r.handleAbandoned))...,
	)
	restorer := statesync.NewRestorer(
		logger.With("module", "restorer"),
		sink,
		cfg.StateSync.ChunkDir(),
		cfg.StateSync.ChunkBufferSize,
	)
	r.syncer = statesync.NewSyncer(logger.With("module", "statesync"), r.requests, r.peers, restorer, r.stateSyncMetrics)

	r.handlers = map[message.MsgID]handlerFunc{
		message.GetBlockHeadersID:     r.handleGetBlockHeaders,
		message.BlockHeadersID:        r.handleBlockHeaders,
		message.GetBlocksID:           r.handleGetBlocks,
		message.BlocksID:              r.handleBlocks,
		message.GetSnapshotManifestID: r.handleGetSnapshotManifest,
		message.SnapshotManifestID:    r.handleSnapshotManifest,
		message.GetSnapshotChunkID:    r.handleGetSnapshotChunk,
		message.SnapshotChunkID:       r.handleSnapshotChunk,
	}

	r.BaseService = service.NewBaseService(logger, "Sync", r)
	return r
}

// OnStart starts the request manager and processes inbound envelopes
// until the reactor is stopped.
func (r *Reactor) OnStart(ctx context.Context) error {
	if err := r.requests.Start(ctx); err != nil {
		return err
	}
	go r.processChannel(ctx)
	return nil
}

// OnStop stops the request manager and discards any snapshot restoration
// in progress.
func (r *Reactor) OnStop() {
	r.requests.Stop()
	if err := r.syncer.Close(); err != nil {
		r.logger.Error("failed to close snapshot syncer", "err", err)
	}
}

// processChannel handles envelopes received on the channel. Any error
// results in a PeerError for the sender.
func (r *Reactor) processChannel(ctx context.Context) {
	iter := r.channel.Receive(ctx)
	for iter.Next(ctx) {
		envelope := iter.Envelope()
		if err := r.Receive(ctx, *envelope); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			r.logger.Error("failed to process message", "peer", envelope.From, "err", err)
			if serr := r.channel.SendError(ctx, p2p.PeerError{
				NodeID: envelope.From,
				Err:    err,
			}); serr != nil {
				return
			}
		}
	}
}

// Receive decodes, validates and dispatches an inbound envelope. The
// returned error is the sender's fault. Panics while handling the message
// are recovered and returned as errors.
func (r *Reactor) Receive(ctx context.Context, envelope p2p.Envelope) (err error) {
	defer func() {
		if e := recover(); e != nil {
			// a corrupted database is the node's fault, not the peer's
			if perr, ok := e.(error); ok && errors.Is(perr, blockdata.ErrCorrupted) {
				panic(e)
			}
			err = fmt.Errorf("panic in processing message: %v", e)
			r.logger.Error(
				"recovering from processing message panic",
				"err", err,
				"stack", string(debug.Stack()),
			)
		}
	}()

	msg, err := message.Decode(envelope.Message)
	if err != nil {
		return err
	}
	if err := message.Validate(msg); err != nil {
		r.releaseInvalid(ctx, envelope.From, msg)
		return fmt.Errorf("invalid %v message: %w", msg.MsgID(), err)
	}

	handler, ok := r.handlers[msg.MsgID()]
	if !ok {
		return fmt.Errorf("received unknown message: %v", msg.MsgID())
	}
	r.logger.Debug("received message", "kind", msg.MsgID(), "id", msg.GetRequestID(), "peer", envelope.From)
	return handler(ctx, envelope.From, msg)
}

func (r *Reactor) send(ctx context.Context, to p2p.NodeID, msg message.Message) error {
	bz, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return r.channel.Send(ctx, p2p.Envelope{To: to, Message: bz})
}

//-----------------------------------------------------------------------------
// responders

func (r *Reactor) handleGetBlockHeaders(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	req := msg.(*message.GetBlockHeaders)
	resp := &message.BlockHeaders{RequestID: req.RequestID, Headers: []*types.BlockHeader{}}
	for _, h := range req.Hashes {
		if len(resp.Headers) >= r.cfg.MaxHeadersPerRequest {
			break
		}
		if header := r.db.BlockHeader(h); header != nil {
			resp.Headers = append(resp.Headers, header)
		}
	}
	return r.send(ctx, from, resp)
}

func (r *Reactor) handleGetBlocks(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	req := msg.(*message.GetBlocks)
	resp := &message.Blocks{RequestID: req.RequestID, Blocks: []*types.Block{}}
	for _, h := range req.Hashes {
		if len(resp.Blocks) >= r.cfg.MaxBlocksPerRequest {
			break
		}
		if block := r.db.Block(h); block != nil {
			resp.Blocks = append(resp.Blocks, block)
		}
	}
	return r.send(ctx, from, resp)
}

// handleGetSnapshotManifest answers with the manifest of the requested
// checkpoint. A checkpoint without snapshot gets an empty chunk list.
func (r *Reactor) handleGetSnapshotManifest(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	req := msg.(*message.GetSnapshotManifest)
	resp := &message.SnapshotManifest{
		RequestID:   req.RequestID,
		Checkpoint:  req.Checkpoint,
		ChunkHashes: []types.Hash{},
	}
	if manifest, ok := r.provider.Manifest(req.Checkpoint); ok {
		resp.ChunkHashes = manifest.ChunkHashes
	} else {
		r.logger.Debug("peer requesting a snapshot we do not have", "peer", from, "checkpoint", req.Checkpoint)
	}
	return r.send(ctx, from, resp)
}

func (r *Reactor) handleGetSnapshotChunk(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	req := msg.(*message.GetSnapshotChunk)
	resp := &message.SnapshotChunk{RequestID: req.RequestID, ChunkHash: req.ChunkHash}
	if body, ok := r.provider.Chunk(req.ChunkHash); ok {
		resp.Chunk = body
	} else {
		r.logger.Debug("peer requesting a chunk we do not have", "peer", from, "chunk", req.ChunkHash)
		resp.Missing = true
	}
	return r.send(ctx, from, resp)
}

//-----------------------------------------------------------------------------
// response consumers

func (r *Reactor) handleBlockHeaders(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	resp := msg.(*message.BlockHeaders)
	matched, live, ok := r.requests.Match(from, resp)
	if !ok {
		return nil
	}
	req := matched.(*message.GetBlockHeaders)

	sent, wanted := hashSet(req.Hashes), liveHashes(live)
	var unrequested error
	for _, header := range resp.Headers {
		hash := header.Hash()
		if !sent[hash] {
			unrequested = fmt.Errorf("received unrequested header %x", hash)
			continue
		}
		if !wanted[hash] {
			// cancelled or a duplicate
			continue
		}
		delete(wanted, hash)
		if err := r.db.InsertBlockHeader(header); err != nil {
			r.logger.Error("failed to store header", "hash", hash, "err", err)
		}
		r.received(message.Key{Kind: message.GetBlockHeadersID, Hash: hash})
	}

	r.refetchMissing(ctx, from, message.GetBlockHeadersID, req.Hashes, wanted)
	return unrequested
}

func (r *Reactor) handleBlocks(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	resp := msg.(*message.Blocks)
	matched, live, ok := r.requests.Match(from, resp)
	if !ok {
		return nil
	}
	req := matched.(*message.GetBlocks)

	sent, wanted := hashSet(req.Hashes), liveHashes(live)
	var unrequested error
	for _, block := range resp.Blocks {
		hash := block.Hash()
		if !sent[hash] {
			unrequested = fmt.Errorf("received unrequested block %x", hash)
			continue
		}
		if !wanted[hash] {
			continue
		}
		delete(wanted, hash)
		if err := r.db.InsertBlock(block); err != nil {
			r.logger.Error("failed to store block", "hash", hash, "err", err)
		}
		r.received(message.Key{Kind: message.GetBlocksID, Hash: hash})
	}

	r.refetchMissing(ctx, from, message.GetBlocksID, req.Hashes, wanted)
	return unrequested
}

// releaseInvalid drops the request an invalid header or block response
// answers and asks another peer for what it still wanted.
func (r *Reactor) releaseInvalid(ctx context.Context, from p2p.NodeID, msg message.Message) {
	var kind message.MsgID
	switch msg.(type) {
	case *message.BlockHeaders:
		kind = message.GetBlockHeadersID
	case *message.Blocks:
		kind = message.GetBlocksID
	default:
		return
	}
	matched, live, ok := r.requests.Match(from, msg)
	if !ok {
		return
	}
	var requested []types.Hash
	switch req := matched.(type) {
	case *message.GetBlockHeaders:
		requested = req.Hashes
	case *message.GetBlocks:
		requested = req.Hashes
	}
	r.refetchMissing(ctx, from, kind, requested, liveHashes(live))
}

func hashSet(hashes []types.Hash) map[types.Hash]bool {
	set := make(map[types.Hash]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	return set
}

func liveHashes(keys []message.Key) map[types.Hash]bool {
	set := make(map[types.Hash]bool, len(keys))
	for _, k := range keys {
		set[k.Hash] = true
	}
	return set
}

func (r *Reactor) received(key message.Key) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.refetch, key)
}

// forget drops the refetch counts of hashes.
func (r *Reactor) forget(kind message.MsgID, hashes []types.Hash) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, h := range hashes {
		delete(r.refetch, message.Key{Kind: kind, Hash: h})
	}
}

// refetchMissing asks another peer for the requested hashes a peer didn't
// return. Each item is asked for again at most as often as a timed out
// request is resent.
func (r *Reactor) refetchMissing(
	ctx context.Context,
	from p2p.NodeID,
	kind message.MsgID,
	requested []types.Hash,
	missing map[types.Hash]bool,
) {
	if len(missing) == 0 {
		return
	}
	ceiling := r.cfg.HeadersMaxResends
	if kind == message.GetBlocksID {
		ceiling = r.cfg.BlocksMaxResends
	}

	hashes := make([]types.Hash, 0, len(missing))
	r.mtx.Lock()
	for _, h := range requested {
		if !missing[h] {
			continue
		}
		key := message.Key{Kind: kind, Hash: h}
		if r.refetch[key] >= ceiling {
			delete(r.refetch, key)
			r.logger.Info("giving up on item no peer returned", "kind", kind, "hash", h)
			continue
		}
		r.refetch[key]++
		hashes = append(hashes, h)
	}
	r.mtx.Unlock()

	if len(hashes) == 0 {
		return
	}
	peer, ok := r.peers.Next(from)
	if !ok || peer == from {
		return
	}
	var req message.Request
	if kind == message.GetBlocksID {
		req = &message.GetBlocks{Hashes: hashes}
	} else {
		req = &message.GetBlockHeaders{Hashes: hashes}
	}
	if _, err := r.requests.Request(ctx, req, peer); err != nil {
		r.logger.Error("failed to request missing items", "kind", kind, "peer", peer, "err", err)
	}
}

func (r *Reactor) handleSnapshotManifest(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	resp := msg.(*message.SnapshotManifest)
	matched, _, ok := r.requests.Match(from, resp)
	if !ok {
		return nil
	}
	return r.syncer.HandleManifest(ctx, from, matched.(*message.GetSnapshotManifest), resp)
}

func (r *Reactor) handleSnapshotChunk(ctx context.Context, from p2p.NodeID, msg message.Message) error {
	resp := msg.(*message.SnapshotChunk)
	matched, _, ok := r.requests.Match(from, resp)
	if !ok {
		return nil
	}
	return r.syncer.HandleChunk(ctx, from, matched.(*message.GetSnapshotChunk), resp)
}

func (r *Reactor) handleAbandoned(req message.Request, peer p2p.NodeID) {
	switch req := req.(type) {
	case *message.GetSnapshotManifest, *message.GetSnapshotChunk:
		r.syncer.HandleAbandoned(req, peer)
	case *message.GetBlockHeaders:
		r.forget(message.GetBlockHeadersID, req.Hashes)
		r.logger.Info("header request abandoned", "hashes", len(req.Hashes), "peer", peer)
	case *message.GetBlocks:
		r.forget(message.GetBlocksID, req.Hashes)
		r.logger.Info("block request abandoned", "hashes", len(req.Hashes), "peer", peer)
	}
}

//-----------------------------------------------------------------------------
// fetching

// FetchHeaders requests the headers not stored yet, in batches of at most
// MaxHeadersPerRequest, spread over the peers.
func (r *Reactor) FetchHeaders(ctx context.Context, hashes []types.Hash) error {
	missing := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if r.db.BlockHeader(h) == nil {
			missing = append(missing, h)
		}
	}
	return r.fetch(ctx, missing, r.cfg.MaxHeadersPerRequest, func(batch []types.Hash) message.Request {
		return &message.GetBlockHeaders{Hashes: batch}
	})
}

// FetchBlocks requests the blocks whose body isn't stored yet.
func (r *Reactor) FetchBlocks(ctx context.Context, hashes []types.Hash) error {
	missing := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := r.db.BlockBody(h); !ok {
			missing = append(missing, h)
		}
	}
	return r.fetch(ctx, missing, r.cfg.MaxBlocksPerRequest, func(batch []types.Hash) message.Request {
		return &message.GetBlocks{Hashes: batch}
	})
}

func (r *Reactor) fetch(
	ctx context.Context,
	hashes []types.Hash,
	batchSize int,
	makeRequest func([]types.Hash) message.Request,
) error {
	if batchSize > message.MaxHashesPerMessage {
		batchSize = message.MaxHashesPerMessage
	}
	for len(hashes) > 0 {
		n := batchSize
		if n > len(hashes) {
			n = len(hashes)
		}
		peer, ok := r.peers.Next()
		if !ok {
			return ErrNoPeers
		}
		batch := append([]types.Hash(nil), hashes[:n]...)
		if _, err := r.requests.Request(ctx, makeRequest(batch), peer); err != nil {
			return err
		}
		hashes = hashes[n:]
	}
	return nil
}

// SyncCheckpoint starts restoring the state snapshot at checkpoint.
func (r *Reactor) SyncCheckpoint(ctx context.Context, checkpoint types.Hash) error {
	return r.syncer.SyncCheckpoint(ctx, checkpoint)
}

// RetrySnapshot requests whatever the snapshot being restored still lacks.
func (r *Reactor) RetrySnapshot(ctx context.Context) error {
	return r.syncer.RetryMissing(ctx)
}

// AddPeer makes peer available for requests.
func (r *Reactor) AddPeer(peer p2p.NodeID) {
	if r.peers.Append(peer) {
		r.logger.Debug("added peer", "peer", peer)
	}
}

// RemovePeer stops sending requests to peer. Its pending requests are
// sent to other peers right away.
func (r *Reactor) RemovePeer(ctx context.Context, peer p2p.NodeID) {
	r.peers.Remove(peer)
	r.requests.RemovePeer(ctx, peer)
	r.logger.Debug("removed peer", "peer", peer)
}

// NumPending returns the number of requests awaiting a response.
func (r *Reactor) NumPending() int {
	return r.requests.NumPending()
}
