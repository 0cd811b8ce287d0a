package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/codeindex/codeindex/internal/apperrors"
	"github.com/codeindex/codeindex/internal/async"
	"github.com/codeindex/codeindex/internal/chunk"
	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/embed"
	"github.com/codeindex/codeindex/internal/scanner"
	"github.com/codeindex/codeindex/internal/store"
)

// State is the coordinator's lifecycle state.
type State int

const (
	// StateUninitialized is the zero value: no store or manifest opened yet.
	StateUninitialized State = iota
	// StateReady means the store and manifest are open and queries/updates
	// can proceed.
	StateReady
	// StateIndexing means an index_codebase run is in flight.
	StateIndexing
)

// storeSubdir is the directory name for the vector store adapter, nested
// under the coordinator's data directory alongside manifest.json and
// clusters.json.
const storeSubdir = "store"

// Result is returned from a completed IndexCodebase run.
type Result struct {
	FilesIndexed  int
	ChunksCreated int
	Incremental   bool
	Repaired      bool
}

// ProgressFunc receives a snapshot every time the coordinator advances a
// stage or makes measurable progress within one.
type ProgressFunc func(async.IndexProgressSnapshot)

// Coordinator owns the manifest and vector store adapter for one codebase
// and drives the incremental indexing algorithm. A Coordinator exclusively
// owns the manifest and metadata; the store adapter exclusively owns the
// table handles beneath it.
type Coordinator struct {
	rootDir string
	dataDir string
	cfg     *config.Config

	embedder embed.Embedder
	chunker  chunk.Chunker
	scan     *scanner.Scanner

	mu                sync.Mutex
	state             State
	adapter           *store.Adapter
	manifest          *Manifest
	dimensionMismatch bool
	usage             *UsageWriter

	flock *flock.Flock

	indexing int32
}

// NewCoordinator constructs a Coordinator for a codebase rooted at rootDir,
// persisting its store and manifest under dataDir.
func NewCoordinator(rootDir, dataDir string, cfg *config.Config, embedder embed.Embedder, chunker chunk.Chunker) (*Coordinator, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}
	return &Coordinator{
		rootDir:  rootDir,
		dataDir:  dataDir,
		cfg:      cfg,
		embedder: embedder,
		chunker:  chunker,
		scan:     s,
		flock:    flock.New(filepath.Join(dataDir, ".manifest.lock")),
	}, nil
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize opens (or creates) the store adapter and manifest, detecting a
// dimension/backend/model disagreement against the configured embedder.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return nil
	}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err)
	}

	m, err := LoadManifest(c.dataDir)
	if err != nil {
		return apperrors.Wrap(apperrors.KindCorruption, err)
	}
	if m == nil {
		m = NewManifest(c.embedder.Name(), c.embedder.Model(), c.embedder.Dimensions())
	}

	adapter, err := store.OpenOrCreate(filepath.Join(c.dataDir, storeSubdir), c.embedder.Dimensions())
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err)
	}

	usage, err := NewUsageWriter(c.dataDir)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err)
	}

	c.manifest = m
	c.adapter = adapter
	c.usage = usage
	c.dimensionMismatch = m.DimensionMismatch(c.embedder.Name(), c.embedder.Model(), c.embedder.Dimensions())
	c.state = StateReady
	return nil
}

// IndexCodebase walks the codebase, classifies changes against the
// manifest, and chunks/embeds/upserts whatever is new or changed, per the
// index coordinator's incremental algorithm. Concurrent calls fail with a
// KindBusy error; readers may proceed concurrently with a run in progress.
func (c *Coordinator) IndexCodebase(ctx context.Context, patterns, excludes []string, forceReindex bool, onProgress ProgressFunc, autoRepair bool) (Result, error) {
	if !atomic.CompareAndSwapInt32(&c.indexing, 0, 1) {
		return Result{}, apperrors.New(apperrors.KindBusy, "an index_codebase run is already in progress")
	}
	defer atomic.StoreInt32(&c.indexing, 0)

	if err := c.flock.Lock(); err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
	}
	defer c.flock.Unlock()

	if err := c.Initialize(ctx); err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	c.state = StateIndexing
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.state = StateReady
		c.mu.Unlock()
	}()

	progress := async.NewIndexProgress()
	emit := func(stage async.IndexingStage, total int) {
		progress.SetStage(stage, total)
		if onProgress != nil {
			onProgress(progress.Snapshot())
		}
	}

	repaired := false
	if autoRepair && c.dimensionMismatch {
		if err := c.clearAll(ctx); err != nil {
			return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
		}
		repaired = true
	}
	effectiveForce := forceReindex || c.dimensionMismatch

	if len(patterns) == 0 {
		patterns = c.cfg.Paths.Include
	}
	if len(excludes) == 0 {
		excludes = c.cfg.Paths.Exclude
	}

	emit(async.StageScanning, 0)
	files, err := c.scanFiles(ctx, patterns, excludes)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
	}
	current := scanner.HashesFromFiles(files)

	previous := c.manifest.Hashes()
	var changes []scanner.FileChange
	if effectiveForce {
		for path := range previous {
			if _, ok := current[path]; !ok {
				changes = append(changes, scanner.FileChange{Path: path, Status: scanner.StatusRemoved})
			}
		}
		for path := range current {
			changes = append(changes, scanner.FileChange{Path: path, Status: scanner.StatusAdded})
		}
	} else {
		changes = scanner.DetectChanges(previous, current)
	}

	for _, ch := range changes {
		if ch.Status == scanner.StatusRemoved {
			if err := c.removeFile(ctx, ch.Path); err != nil {
				return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
			}
		}
	}
	for _, ch := range changes {
		if ch.Status == scanner.StatusChanged {
			if entry, ok := c.manifest.Files[ch.Path]; ok {
				if err := c.adapter.DeleteByIDs(ctx, entry.ChunkIDs); err != nil {
					return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
				}
			}
		}
	}

	var toProcess []string
	for _, ch := range changes {
		if ch.Status == scanner.StatusAdded || ch.Status == scanner.StatusChanged {
			toProcess = append(toProcess, ch.Path)
		}
	}

	emit(async.StageChunking, len(toProcess))
	type pending struct {
		path  string
		chunk *chunk.Chunk
	}
	var allChunks []pending
	fileTotal := make(map[string]int, len(toProcess))
	for i, path := range toProcess {
		chunks, err := c.chunkFile(ctx, path)
		if err != nil {
			continue // per-file failures are skipped, not fatal
		}
		fileTotal[path] = len(chunks)
		for _, ch := range chunks {
			allChunks = append(allChunks, pending{path: path, chunk: ch})
		}
		progress.UpdateFiles(i + 1)
		if onProgress != nil {
			onProgress(progress.Snapshot())
		}
	}

	batchSize := c.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	emit(async.StageEmbedding, len(allChunks))
	fileChunkIDs := make(map[string][]string)
	chunksCreated := 0

	for start := 0; start < len(allChunks); start += batchSize {
		end := start + batchSize
		if end > len(allChunks) {
			end = len(allChunks)
		}
		batch := allChunks[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.chunk.RawContent
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			_ = c.saveFileEntries(fileChunkIDs, fileTotal, current)
			_ = c.adapter.Save()
			_ = c.manifest.Save(c.dataDir)
			return Result{}, apperrors.Wrap(apperrors.KindBackend, err)
		}
		if c.usage != nil {
			_ = c.usage.RecordUsage(UsageEvent{
				Timestamp: time.Now(),
				Backend:   c.embedder.Name(),
				Model:     c.embedder.Model(),
				Operation: "embedBatch",
				Items:     len(texts),
			})
		}

		rows := make([]store.ChunkRow, len(batch))
		for i, p := range batch {
			rows[i] = store.ChunkRow{
				ID:          p.chunk.ID,
				FilePath:    p.chunk.FilePath,
				Content:     p.chunk.RawContent,
				StartLine:   p.chunk.StartLine,
				EndLine:     p.chunk.EndLine,
				Language:    p.chunk.Language,
				SymbolName:  p.chunk.Name,
				SymbolType:  string(p.chunk.Kind),
				ContentHash: contentHash(p.chunk.RawContent),
				Vector:      vectors[i],
			}
			fileChunkIDs[p.path] = append(fileChunkIDs[p.path], p.chunk.ID)
		}

		if err := c.upsertInBatches(ctx, rows); err != nil {
			return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
		}

		chunksCreated += len(rows)
		progress.UpdateChunks(chunksCreated)
		if onProgress != nil {
			onProgress(progress.Snapshot())
		}
	}

	emit(async.StageWriting, 0)
	if err := c.saveFileEntries(fileChunkIDs, fileTotal, current); err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
	}

	emit(async.StageFinalizing, 0)
	if err := c.adapter.Save(); err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
	}
	if err := c.manifest.Save(c.dataDir); err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindStorage, err)
	}
	c.dimensionMismatch = false

	progress.SetReady()
	if onProgress != nil {
		onProgress(progress.Snapshot())
	}

	return Result{
		FilesIndexed:  len(toProcess),
		ChunksCreated: chunksCreated,
		Incremental:   !effectiveForce,
		Repaired:      repaired,
	}, nil
}

// saveFileEntries writes a manifest file entry for every processed path
// whose full chunk set was successfully embedded and upserted.
func (c *Coordinator) saveFileEntries(fileChunkIDs map[string][]string, fileTotal map[string]int, current map[string]uint64) error {
	for path, total := range fileTotal {
		ids := fileChunkIDs[path]
		if len(ids) != total {
			continue // partial: leave the manifest stale so a future run retries it
		}
		c.manifest.Files[path] = FileEntry{Hash: current[path], ChunkIDs: ids}
		c.recordTokenSavings(path)
	}
	return nil
}

// recordTokenSavings estimates tokens avoided by retrieving one chunk
// instead of resending the whole file, using the common ~4-bytes-per-token
// heuristic. Best effort: failures here never fail indexing.
func (c *Coordinator) recordTokenSavings(path string) {
	if c.usage == nil {
		return
	}
	data, err := os.ReadFile(filepath.Join(c.rootDir, path))
	if err != nil {
		return
	}
	fileTokens := len(data) / 4
	chunkCount := len(c.manifest.Files[path].ChunkIDs)
	if chunkCount == 0 {
		return
	}
	chunkTokens := fileTokens / chunkCount
	_ = c.usage.RecordTokenSavings(TokenSavingsEvent{
		Timestamp:   time.Now(),
		FilePath:    path,
		FileTokens:  fileTokens,
		ChunkTokens: chunkTokens,
	})
}

func (c *Coordinator) removeFile(ctx context.Context, path string) error {
	entry, ok := c.manifest.Files[path]
	if ok {
		if err := c.adapter.DeleteByIDs(ctx, entry.ChunkIDs); err != nil {
			return err
		}
	}
	delete(c.manifest.Files, path)
	return nil
}

func (c *Coordinator) upsertInBatches(ctx context.Context, rows []store.ChunkRow) error {
	const maxBatch = 500
	for start := 0; start < len(rows); start += maxBatch {
		end := start + maxBatch
		if end > len(rows) {
			end = len(rows)
		}
		if err := c.adapter.Upsert(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) scanFiles(ctx context.Context, patterns, excludes []string) ([]*scanner.FileInfo, error) {
	results, err := c.scan.Scan(ctx, &scanner.ScanOptions{
		RootDir:          c.rootDir,
		IncludePatterns:  patterns,
		ExcludePatterns:  excludes,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, err
	}

	var files []*scanner.FileInfo
	for r := range results {
		if r.Error != nil {
			continue
		}
		files = append(files, r.File)
		if c.cfg.Performance.MaxFiles > 0 && len(files) >= c.cfg.Performance.MaxFiles {
			break
		}
	}
	return files, nil
}

func (c *Coordinator) chunkFile(ctx context.Context, relPath string) ([]*chunk.Chunk, error) {
	content, err := os.ReadFile(filepath.Join(c.rootDir, relPath))
	if err != nil {
		return nil, err
	}
	return c.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     relPath,
		Content:  content,
		Language: scanner.DetectLanguage(relPath),
	})
}

// clearAll wipes both the store and the manifest, used by the autoRepair
// path when the configured backend/model/dimension disagrees with what's
// on disk.
func (c *Coordinator) clearAll(ctx context.Context) error {
	if err := c.adapter.Close(); err != nil {
		return err
	}
	storeDir := filepath.Join(c.dataDir, storeSubdir)
	if err := os.RemoveAll(storeDir); err != nil {
		return err
	}
	adapter, err := store.OpenOrCreate(storeDir, c.embedder.Dimensions())
	if err != nil {
		return err
	}
	c.adapter = adapter
	c.manifest.Clear()
	c.manifest.Backend = c.embedder.Name()
	c.manifest.Model = c.embedder.Model()
	c.manifest.Dimension = c.embedder.Dimensions()
	return nil
}

// Adapter exposes the underlying store adapter for search/query callers.
func (c *Coordinator) Adapter() *store.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter
}

// ManifestChunkCount returns the manifest's total chunk count, used by the
// cluster sidecar's staleness check.
func (c *Coordinator) ManifestChunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest == nil {
		return 0
	}
	return c.manifest.ChunkCount()
}

// DataDir returns the coordinator's data directory, for sidecar readers.
func (c *Coordinator) DataDir() string {
	return c.dataDir
}

// ManifestInfo is a read-only summary of the manifest, for status reporting.
type ManifestInfo struct {
	Backend    string
	Model      string
	Dimension  int
	FileCount  int
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ManifestInfo returns a summary of the manifest's identity and size, without
// exposing the manifest itself.
func (c *Coordinator) ManifestInfo() ManifestInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest == nil {
		return ManifestInfo{}
	}
	return ManifestInfo{
		Backend:    c.manifest.Backend,
		Model:      c.manifest.Model,
		Dimension:  c.manifest.Dimension,
		FileCount:  len(c.manifest.Files),
		ChunkCount: c.manifest.ChunkCount(),
		CreatedAt:  c.manifest.CreatedAt,
		UpdatedAt:  c.manifest.UpdatedAt,
	}
}

// Close releases the store adapter's handles.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return nil
	}
	return c.adapter.Close()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
