package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultInvalidationFraction is the default fraction of chunk-count
// drift since the last clustering that triggers invalidation.
const DefaultInvalidationFraction = 0.10

// Sidecar is the persisted clustering result, written to clusters.json
// alongside the store.
type Sidecar struct {
	Concepts    []Concept      `json:"concepts"`
	Assignments map[string]int `json:"assignments"`
	Silhouette  float64        `json:"silhouette"`
	ChunkCount  int            `json:"chunkCount"`
	ClusteredAt time.Time      `json:"clusteredAt"`
	Seed        int64          `json:"seed"`
}

// sidecarFileName is the well-known name for the clustering sidecar,
// stored alongside manifest.json in the index directory.
const sidecarFileName = "clusters.json"

// SidecarPath returns the clustering sidecar path for an index directory.
func SidecarPath(indexDir string) string {
	return filepath.Join(indexDir, sidecarFileName)
}

// Load reads a persisted Sidecar, returning (nil, nil) if it doesn't
// exist yet.
func Load(indexDir string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(indexDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cluster sidecar: %w", err)
	}

	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse cluster sidecar: %w", err)
	}
	return &s, nil
}

// Save writes the Sidecar to the index directory, via write-temp-then-
// rename so a crash mid-write never leaves a truncated sidecar.
func Save(indexDir string, s *Sidecar) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cluster sidecar: %w", err)
	}

	path := SidecarPath(indexDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cluster sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename cluster sidecar: %w", err)
	}
	return nil
}

// NeedsRecluster reports whether a persisted sidecar is stale given the
// current chunk count: true if there's no sidecar yet, forceRecluster is
// set, or the chunk count has drifted by more than fraction since the
// last clustering. fraction <= 0 uses DefaultInvalidationFraction.
func NeedsRecluster(s *Sidecar, currentChunkCount int, forceRecluster bool, fraction float64) bool {
	if forceRecluster || s == nil {
		return true
	}
	if fraction <= 0 {
		fraction = DefaultInvalidationFraction
	}
	if s.ChunkCount == 0 {
		return currentChunkCount > 0
	}

	delta := math.Abs(float64(currentChunkCount - s.ChunkCount))
	drift := delta / float64(s.ChunkCount)
	return drift > fraction
}
