package statesync

import (
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/types"
)

//go:generate ../../scripts/mockery_generate.sh Provider

// Provider looks up the local snapshots served to peers.
type Provider interface {
	// Manifest returns the manifest of the snapshot at checkpoint. ok is
	// false if there is no snapshot at checkpoint.
	Manifest(checkpoint types.Hash) (manifest *types.SnapshotManifest, ok bool)
	// Chunk returns the body of a snapshot chunk.
	Chunk(hash types.Hash) (body []byte, ok bool)
}

type dbProvider struct {
	db *blockdata.DBManager
}

// NewDBProvider returns a Provider serving the snapshots stored in db.
func NewDBProvider(db *blockdata.DBManager) Provider {
	return &dbProvider{db: db}
}

func (p *dbProvider) Manifest(checkpoint types.Hash) (*types.SnapshotManifest, bool) {
	manifest := p.db.SnapshotManifest(checkpoint)
	return manifest, manifest != nil
}

func (p *dbProvider) Chunk(hash types.Hash) ([]byte, bool) {
	return p.db.SnapshotChunk(hash)
}
