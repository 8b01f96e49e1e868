// Package storage persists built corpus snapshots: the item table and the
// similarity matrix, keyed by the same item order. A snapshot becomes visible
// only once every artifact is written.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/search"
)

// ErrNotFound means no committed snapshot exists (or one of its artifacts is missing).
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one build's persisted output.
type Snapshot struct {
	Version    string
	BuiltAt    time.Time
	Items      []catalog.Entry
	Vocabulary []string
	Matrix     *search.SimilarityMatrix
}

// ArtifactStore defines the interface for saving and loading snapshots
type ArtifactStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// manifest is stored next to the artifacts and checked on load.
type manifest struct {
	Version    string    `json:"version"`
	BuiltAt    time.Time `json:"built_at"`
	Items      int       `json:"items"`
	Vocabulary int       `json:"vocabulary"`
	Format     int       `json:"format"`
}

func newManifest(snap *Snapshot) manifest {
	return manifest{
		Version:    snap.Version,
		BuiltAt:    snap.BuiltAt,
		Items:      len(snap.Items),
		Vocabulary: len(snap.Vocabulary),
		Format:     matrixFormatVersion,
	}
}
