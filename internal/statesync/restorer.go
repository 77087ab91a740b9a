package statesync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/types"
)

//go:generate ../../scripts/mockery_generate.sh StateSink

// StateSink receives restored snapshots.
type StateSink interface {
	RestoreSnapshot(snapshot *Snapshot) error
}

var (
	// ErrNoRestoration is returned by Restorer.Add when no snapshot is being
	// restored.
	ErrNoRestoration = errors.New("no snapshot restoration in progress")
	// ErrWrongCheckpoint is returned by Restorer.Add for a chunk of another
	// snapshot than the one being restored.
	ErrWrongCheckpoint = errors.New("chunk belongs to another checkpoint")
	// ErrUnexpectedChunk is returned by Restorer.Add for a chunk the
	// manifest doesn't list.
	ErrUnexpectedChunk = errors.New("chunk not in manifest")
	// ErrChunkMismatch is returned by Restorer.Add when a chunk body doesn't
	// match its hash.
	ErrChunkMismatch = errors.New("chunk hash mismatch")
)

// Restorer assembles the snapshot of one manifest at a time from verified
// chunks. The first bufferSize chunks of the manifest are kept in memory,
// the others are spooled to a temporary directory until the snapshot is
// complete. Once every chunk is present the snapshot is handed to the sink
// and the working set is discarded.
type Restorer struct {
	mtx        sync.Mutex
	logger     log.Logger
	sink       StateSink
	tempDir    string
	bufferSize int

	manifest   *types.SnapshotManifest
	positions  map[types.Hash]int
	dir        string
	memChunks  map[int][]byte
	diskChunks map[int]string
}

// NewRestorer creates a Restorer spooling chunks under tempDir, or the OS
// temp dir if tempDir is empty.
func NewRestorer(logger log.Logger, sink StateSink, tempDir string, bufferSize int) *Restorer {
	return &Restorer{
		logger:     logger,
		sink:       sink,
		tempDir:    tempDir,
		bufferSize: bufferSize,
	}
}

// Begin starts restoring the snapshot of manifest. Any restoration in
// progress is discarded, unless it is for the same checkpoint, in which
// case Begin does nothing. A manifest without chunks is restored right
// away. done is true if the snapshot was restored.
func (r *Restorer) Begin(manifest *types.SnapshotManifest) (done bool, err error) {
	if err := manifest.ValidateBasic(); err != nil {
		return false, err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.manifest != nil {
		if r.manifest.Checkpoint == manifest.Checkpoint {
			return false, nil
		}
		r.logger.Info("discarding snapshot restoration", "checkpoint", r.manifest.Checkpoint,
			"missing", len(r.manifest.ChunkHashes)-len(r.memChunks)-len(r.diskChunks))
		if err := r.discard(); err != nil {
			return false, err
		}
	}

	if manifest.IsEmpty() {
		return true, r.restore(&Snapshot{Checkpoint: manifest.Checkpoint, Chunks: [][]byte{}})
	}

	dir, err := os.MkdirTemp(r.tempDir, "cfx-statesync")
	if err != nil {
		return false, fmt.Errorf("unable to create temp dir for snapshot chunks: %w", err)
	}
	r.manifest = manifest
	r.dir = dir
	r.positions = make(map[types.Hash]int, len(manifest.ChunkHashes))
	for i, h := range manifest.ChunkHashes {
		r.positions[h] = i
	}
	r.memChunks = make(map[int][]byte)
	r.diskChunks = make(map[int]string)

	r.logger.Info("restoring snapshot", "checkpoint", manifest.Checkpoint, "chunks", len(manifest.ChunkHashes))
	return false, nil
}

// Add verifies a chunk of the snapshot at checkpoint and adds it. added is
// false if the chunk was already present; done is true if it completed the
// snapshot.
func (r *Restorer) Add(checkpoint, hash types.Hash, body []byte) (added, done bool, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.manifest == nil {
		return false, false, ErrNoRestoration
	}
	if checkpoint != r.manifest.Checkpoint {
		return false, false, ErrWrongCheckpoint
	}
	pos, ok := r.positions[hash]
	if !ok {
		return false, false, fmt.Errorf("%w: %x", ErrUnexpectedChunk, hash)
	}
	if r.has(pos) {
		return false, false, nil
	}
	if got := types.ChunkHash(body); got != hash {
		return false, false, fmt.Errorf("%w: expected %x got %x", ErrChunkMismatch, hash, got)
	}

	if pos < r.bufferSize {
		r.memChunks[pos] = body
	} else {
		path := filepath.Join(r.dir, strconv.Itoa(pos))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return false, false, fmt.Errorf("failed to save chunk %v to file %v: %w", pos, path, err)
		}
		r.diskChunks[pos] = path
	}

	if len(r.memChunks)+len(r.diskChunks) < len(r.manifest.ChunkHashes) {
		return true, false, nil
	}

	snapshot, err := r.assemble()
	if err != nil {
		return true, false, err
	}
	if err := r.discard(); err != nil {
		r.logger.Error("failed to clean up restored snapshot", "err", err)
	}
	return true, true, r.restore(snapshot)
}

func (r *Restorer) has(pos int) bool {
	_, inMem := r.memChunks[pos]
	_, onDisk := r.diskChunks[pos]
	return inMem || onDisk
}

func (r *Restorer) assemble() (*Snapshot, error) {
	chunks := make([][]byte, len(r.manifest.ChunkHashes))
	for i := range chunks {
		if body, ok := r.memChunks[i]; ok {
			chunks[i] = body
			continue
		}
		path := r.diskChunks[i]
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %v from file %v: %w", i, path, err)
		}
		chunks[i] = body
	}
	return &Snapshot{Checkpoint: r.manifest.Checkpoint, Chunks: chunks}, nil
}

func (r *Restorer) restore(snapshot *Snapshot) error {
	if err := r.sink.RestoreSnapshot(snapshot); err != nil {
		return fmt.Errorf("failed to restore snapshot at %x: %w", snapshot.Checkpoint, err)
	}
	r.logger.Info("restored snapshot", "checkpoint", snapshot.Checkpoint, "chunks", len(snapshot.Chunks))
	return nil
}

// discard drops the restoration in progress. The caller must hold the lock.
func (r *Restorer) discard() error {
	if r.manifest == nil {
		return nil
	}
	dir := r.dir
	r.manifest = nil
	r.positions = nil
	r.memChunks = nil
	r.diskChunks = nil
	r.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clean up state sync tempdir %v: %w", dir, err)
	}
	return nil
}

// Checkpoint returns the checkpoint being restored.
func (r *Restorer) Checkpoint() (checkpoint types.Hash, ok bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.manifest == nil {
		return types.Hash{}, false
	}
	return r.manifest.Checkpoint, true
}

// Missing returns the hashes of the chunks still needed, in manifest order.
func (r *Restorer) Missing() []types.Hash {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.manifest == nil {
		return nil
	}
	missing := make([]types.Hash, 0, len(r.manifest.ChunkHashes))
	for i, h := range r.manifest.ChunkHashes {
		if !r.has(i) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Close discards the restoration in progress, cleaning up all temporary
// files.
func (r *Restorer) Close() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.discard()
}
