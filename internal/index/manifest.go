// Package index owns the index coordinator: the manifest of indexed files,
// the incremental indexing pipeline, and corruption detection, per the
// index coordinator component of the engine.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestSchemaVersion is bumped whenever the manifest's on-disk shape
// changes incompatibly.
const ManifestSchemaVersion = 1

// manifestFileName is the well-known sidecar name, stored next to the
// vector table.
const manifestFileName = "manifest.json"

// FileEntry is one file's record in the manifest: its last-seen content
// hash and the chunk ids produced from its last successful embedding.
type FileEntry struct {
	Hash     uint64   `json:"hash"`
	ChunkIDs []string `json:"chunkIds"`
}

// Manifest is the sidecar record of files and their chunks used for
// incremental updates, per spec's file-record invariants: every chunk id
// listed for a file must exist in the store, and every chunk in the store
// must belong to some file here.
type Manifest struct {
	SchemaVersion int                  `json:"schemaVersion"`
	Backend       string               `json:"backend"`
	Model         string               `json:"model"`
	Dimension     int                  `json:"dimension"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Files         map[string]FileEntry `json:"files"`
}

// NewManifest returns an empty manifest stamped for the given backend.
func NewManifest(backend, model string, dimension int) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		Backend:       backend,
		Model:         model,
		Dimension:     dimension,
		CreatedAt:     now,
		UpdatedAt:     now,
		Files:         make(map[string]FileEntry),
	}
}

// ManifestPath returns the manifest path for a data directory.
func ManifestPath(dataDir string) string {
	return filepath.Join(dataDir, manifestFileName)
}

// LoadManifest reads the manifest, returning (nil, nil) if none exists yet.
func LoadManifest(dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dataDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileEntry)
	}
	return &m, nil
}

// Save writes the manifest via write-temp-then-rename, giving callers an
// atomic replacement even if the process is killed mid-write.
func (m *Manifest) Save(dataDir string) error {
	m.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := ManifestPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// Hashes returns the (relative-path -> content-hash) view of the manifest,
// the shape DetectChanges compares against.
func (m *Manifest) Hashes() map[string]uint64 {
	hashes := make(map[string]uint64, len(m.Files))
	for path, entry := range m.Files {
		hashes[path] = entry.Hash
	}
	return hashes
}

// AllChunkIDs returns every chunk id tracked by the manifest, across all
// files.
func (m *Manifest) AllChunkIDs() []string {
	var ids []string
	for _, entry := range m.Files {
		ids = append(ids, entry.ChunkIDs...)
	}
	return ids
}

// ChunkCount returns the total number of chunk ids tracked across all
// files, used for cluster-sidecar staleness checks.
func (m *Manifest) ChunkCount() int {
	n := 0
	for _, entry := range m.Files {
		n += len(entry.ChunkIDs)
	}
	return n
}

// DimensionMismatch reports whether the manifest's recorded backend/model/
// dimension disagree with the currently configured ones.
func (m *Manifest) DimensionMismatch(backend, model string, dimension int) bool {
	if len(m.Files) == 0 {
		return false
	}
	return m.Backend != backend || m.Model != model || m.Dimension != dimension
}

// Clear empties the manifest's file records while keeping its identity
// (backend/model/dimension), used by clear-and-rebuild repair paths.
func (m *Manifest) Clear() {
	m.Files = make(map[string]FileEntry)
}
