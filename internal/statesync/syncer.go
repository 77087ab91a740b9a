package statesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/sync/message"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/types"
)

// ErrNoPeers is returned when there is no peer to send a request to.
var ErrNoPeers = errors.New("no peers available")

// Requester sends requests to peers. *request.Manager implements it.
type Requester interface {
	Request(ctx context.Context, req message.Request, peer p2p.NodeID) (bool, error)
	Cancel(keys ...message.Key) int
}

// Syncer restores the state snapshot at a checkpoint from peers. It asks a
// peer for the manifest, then fetches every chunk the manifest lists,
// spreading the requests over all peers, and feeds them to a Restorer.
//
// Responses are handed to the Syncer by the reactor once they have been
// matched to their request. Errors returned by HandleManifest and
// HandleChunk are the sending peer's fault.
type Syncer struct {
	logger   log.Logger
	requests Requester
	peers    *p2p.PeerSet
	restorer *Restorer
	metrics  *Metrics

	mtx      sync.Mutex
	target   types.Hash
	manifest *types.SnapshotManifest
}

// NewSyncer creates a Syncer. A nil metrics means NopMetrics.
func NewSyncer(
	logger log.Logger,
	requests Requester,
	peers *p2p.PeerSet,
	restorer *Restorer,
	metrics *Metrics,
) *Syncer {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Syncer{
		logger:   logger,
		requests: requests,
		peers:    peers,
		restorer: restorer,
		metrics:  metrics,
	}
}

// SyncCheckpoint starts restoring the snapshot at checkpoint. Outstanding
// requests for another checkpoint are cancelled; its partial restoration
// is discarded once the new manifest arrives.
func (s *Syncer) SyncCheckpoint(ctx context.Context, checkpoint types.Hash) error {
	if checkpoint == (types.Hash{}) {
		return errors.New("checkpoint cannot be empty")
	}

	s.mtx.Lock()
	if s.target != checkpoint {
		s.cancelOutstanding()
		s.target = checkpoint
		s.manifest = nil
	}
	s.mtx.Unlock()

	s.logger.Info("syncing snapshot", "checkpoint", checkpoint)
	return s.requestManifest(ctx, checkpoint)
}

// cancelOutstanding cancels the requests of the current target. The caller
// must hold the lock.
func (s *Syncer) cancelOutstanding() {
	if s.target == (types.Hash{}) {
		return
	}
	keys := []message.Key{{Kind: message.GetSnapshotManifestID, Hash: s.target}}
	if s.manifest != nil {
		for _, h := range s.manifest.ChunkHashes {
			keys = append(keys, message.Key{Kind: message.GetSnapshotChunkID, Hash: h})
		}
	}
	if n := s.requests.Cancel(keys...); n > 0 {
		s.logger.Debug("cancelled snapshot requests", "checkpoint", s.target, "requests", n)
	}
}

func (s *Syncer) isTarget(checkpoint types.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.target == checkpoint
}

// nextPeer picks the next peer that isn't excluded.
func (s *Syncer) nextPeer(exclude ...p2p.NodeID) (p2p.NodeID, bool) {
	peer, ok := s.peers.Next(exclude...)
	if !ok {
		return "", false
	}
	for _, e := range exclude {
		if peer == e {
			return "", false
		}
	}
	return peer, true
}

func (s *Syncer) requestManifest(ctx context.Context, checkpoint types.Hash, exclude ...p2p.NodeID) error {
	peer, ok := s.nextPeer(exclude...)
	if !ok {
		return ErrNoPeers
	}
	_, err := s.requests.Request(ctx, &message.GetSnapshotManifest{Checkpoint: checkpoint}, peer)
	return err
}

// requestChunks asks for each chunk, round robin over the peers. Chunks
// left over when only excluded peers remain are fetched by RetryMissing.
func (s *Syncer) requestChunks(
	ctx context.Context,
	checkpoint types.Hash,
	hashes []types.Hash,
	exclude ...p2p.NodeID,
) error {
	for _, h := range hashes {
		peer, ok := s.nextPeer(exclude...)
		if !ok {
			return ErrNoPeers
		}
		req := &message.GetSnapshotChunk{Checkpoint: checkpoint, ChunkHash: h}
		if _, err := s.requests.Request(ctx, req, peer); err != nil {
			return err
		}
	}
	return nil
}

// HandleManifest accepts the manifest of the checkpoint being synced and
// requests its chunks. Manifests for other checkpoints, and repeated
// manifests, are ignored.
func (s *Syncer) HandleManifest(
	ctx context.Context,
	peer p2p.NodeID,
	req *message.GetSnapshotManifest,
	resp *message.SnapshotManifest,
) error {
	if resp.Checkpoint != req.Checkpoint {
		if err := s.requestManifest(ctx, req.Checkpoint, peer); err != nil {
			s.logger.Debug("failed to request manifest again", "checkpoint", req.Checkpoint, "err", err)
		}
		return fmt.Errorf("manifest for %x answers request for %x", resp.Checkpoint, req.Checkpoint)
	}

	manifest := resp.Manifest()
	s.mtx.Lock()
	if manifest.Checkpoint != s.target || s.manifest != nil {
		s.mtx.Unlock()
		s.logger.Debug("ignoring manifest", "checkpoint", manifest.Checkpoint, "peer", peer)
		return nil
	}
	s.manifest = manifest
	s.mtx.Unlock()

	s.metrics.Manifests.Add(1)
	s.metrics.SnapshotChunkTotal.Set(float64(len(manifest.ChunkHashes)))
	s.logger.Info("received snapshot manifest", "checkpoint", manifest.Checkpoint,
		"chunks", len(manifest.ChunkHashes), "peer", peer)

	done, err := s.restorer.Begin(manifest)
	if err != nil {
		s.logger.Error("failed to begin snapshot restoration", "checkpoint", manifest.Checkpoint, "err", err)
		s.resetManifest(manifest.Checkpoint)
		return nil
	}
	if done {
		s.metrics.RestoredSnapshots.Add(1)
		return nil
	}

	// a restoration kept from an earlier sync may already hold some chunks
	if err := s.requestChunks(ctx, manifest.Checkpoint, s.restorer.Missing()); err != nil {
		s.logger.Error("failed to request snapshot chunks", "checkpoint", manifest.Checkpoint, "err", err)
	}
	return nil
}

// resetManifest forgets the manifest of checkpoint so that RetryMissing
// requests it again.
func (s *Syncer) resetManifest(checkpoint types.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.target == checkpoint {
		s.manifest = nil
	}
}

// HandleChunk adds a chunk to the restoration. A chunk that doesn't match
// its hash, or that the peer doesn't have, is requested from another peer.
// Chunks of other checkpoints are ignored.
func (s *Syncer) HandleChunk(
	ctx context.Context,
	peer p2p.NodeID,
	req *message.GetSnapshotChunk,
	resp *message.SnapshotChunk,
) error {
	if !s.isTarget(req.Checkpoint) {
		s.logger.Debug("ignoring chunk of stale checkpoint", "checkpoint", req.Checkpoint, "chunk", req.ChunkHash)
		return nil
	}

	if resp.Missing {
		s.logger.Debug("peer is missing chunk", "chunk", req.ChunkHash, "peer", peer)
		if err := s.requestChunks(ctx, req.Checkpoint, []types.Hash{req.ChunkHash}, peer); err != nil {
			s.logger.Debug("failed to request chunk again", "chunk", req.ChunkHash, "err", err)
		}
		return nil
	}

	added, done, err := s.restorer.Add(req.Checkpoint, req.ChunkHash, resp.Chunk)
	switch {
	case errors.Is(err, ErrChunkMismatch):
		s.metrics.RejectedChunks.Add(1)
		if rerr := s.requestChunks(ctx, req.Checkpoint, []types.Hash{req.ChunkHash}, peer); rerr != nil {
			s.logger.Debug("failed to request chunk again", "chunk", req.ChunkHash, "err", rerr)
		}
		return err

	case errors.Is(err, ErrNoRestoration), errors.Is(err, ErrWrongCheckpoint), errors.Is(err, ErrUnexpectedChunk):
		s.logger.Debug("ignoring chunk", "chunk", req.ChunkHash, "peer", peer, "reason", err)
		return nil

	case err != nil:
		s.logger.Error("failed to add chunk", "chunk", req.ChunkHash, "err", err)
		if done {
			s.resetManifest(req.Checkpoint)
		}
		return nil
	}

	if added {
		s.metrics.SnapshotChunk.Add(1)
		s.logger.Debug("added chunk", "chunk", req.ChunkHash, "peer", peer)
	}
	if done {
		s.metrics.RestoredSnapshots.Add(1)
	}
	return nil
}

// HandleAbandoned is told about snapshot requests the request manager gave
// up on. What they asked for is fetched again by RetryMissing.
func (s *Syncer) HandleAbandoned(req message.Request, peer p2p.NodeID) {
	switch req := req.(type) {
	case *message.GetSnapshotManifest:
		s.logger.Info("manifest request abandoned", "checkpoint", req.Checkpoint, "peer", peer)
	case *message.GetSnapshotChunk:
		s.logger.Info("chunk request abandoned", "checkpoint", req.Checkpoint, "chunk", req.ChunkHash, "peer", peer)
	}
}

// RetryMissing requests whatever the current sync still lacks: the
// manifest, or the chunks not yet received. Requests still in flight are
// not duplicated.
func (s *Syncer) RetryMissing(ctx context.Context) error {
	s.mtx.Lock()
	target, manifest := s.target, s.manifest
	s.mtx.Unlock()

	switch {
	case target == (types.Hash{}):
		return nil
	case manifest == nil:
		return s.requestManifest(ctx, target)
	}

	if checkpoint, ok := s.restorer.Checkpoint(); !ok || checkpoint != target {
		return nil
	}
	return s.requestChunks(ctx, target, s.restorer.Missing())
}

// Close discards the restoration in progress.
func (s *Syncer) Close() error {
	return s.restorer.Close()
}
