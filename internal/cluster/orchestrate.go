package cluster

import (
	"context"
	"time"

	"github.com/codeindex/codeindex/internal/store"
)

// Recluster rebuilds the concept sidecar from every chunk currently in
// adapter, unless a fresh-enough sidecar already exists (per
// NeedsRecluster), in which case it's returned unchanged. On a rebuild, the
// new assignments are written back onto the adapter's rows so SearchByConcept
// filters and the sidecar never disagree.
func Recluster(ctx context.Context, adapter *store.Adapter, indexDir string, opts Options, forceRecluster bool) (*Sidecar, error) {
	existing, err := Load(indexDir)
	if err != nil {
		return nil, err
	}

	chunkCount := adapter.Count()
	if !NeedsRecluster(existing, chunkCount, forceRecluster, 0) {
		return existing, nil
	}

	rows, err := adapter.AllRowsWithVectors(ctx)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = Chunk{ID: r.ID, Vector: r.Vector, Content: r.Content}
	}

	concepts, assignments, silhouette := BuildConcepts(chunks, opts)

	if err := adapter.UpdateConceptIDs(ctx, assignments); err != nil {
		return nil, err
	}

	sidecar := &Sidecar{
		Concepts:    concepts,
		Assignments: assignments,
		Silhouette:  silhouette,
		ChunkCount:  len(chunks),
		ClusteredAt: time.Now(),
		Seed:        opts.Seed,
	}

	if err := Save(indexDir, sidecar); err != nil {
		return nil, err
	}

	return sidecar, nil
}
