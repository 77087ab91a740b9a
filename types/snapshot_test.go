package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotManifestValidateBasic(t *testing.T) {
	a, b := ChunkHash([]byte("a")), ChunkHash([]byte("b"))

	testCases := []struct {
		name     string
		manifest SnapshotManifest
		valid    bool
	}{
		{"empty chunk list", SnapshotManifest{Checkpoint: Hash{1}}, true},
		{"distinct chunks", SnapshotManifest{Checkpoint: Hash{1}, ChunkHashes: []Hash{a, b}}, true},
		{"no checkpoint", SnapshotManifest{ChunkHashes: []Hash{a}}, false},
		{"duplicate chunk", SnapshotManifest{Checkpoint: Hash{1}, ChunkHashes: []Hash{a, b, a}}, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.manifest.ValidateBasic()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSnapshotManifestContains(t *testing.T) {
	a := ChunkHash([]byte("a"))
	m := SnapshotManifest{Checkpoint: Hash{1}, ChunkHashes: []Hash{a}}
	assert.True(t, m.Contains(a))
	assert.False(t, m.Contains(ChunkHash([]byte("b"))))
	assert.False(t, m.IsEmpty())
	assert.True(t, (&SnapshotManifest{}).IsEmpty())
}
