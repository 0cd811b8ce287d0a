package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// rowsBucket is the single bbolt bucket holding the adapter's row table.
var rowsBucket = []byte("chunk_rows")

// ChunkRow is one record of the vector store adapter's table: the columns
// named in the vector store adapter schema (id, filepath, content, line
// range, language, symbol, vector, content hash) plus the cluster concept
// id attached after clustering runs.
type ChunkRow struct {
	ID          string
	FilePath    string
	Content     string
	StartLine   int
	EndLine     int
	Language    string
	SymbolName  string
	SymbolType  string
	ContentHash string
	ConceptID   *int
	Vector      []float32 `json:"-"`
}

// ScoredRow is a single KNN result: a row paired with its similarity score.
type ScoredRow struct {
	Row   ChunkRow
	Score float32
}

// RowFilter is a simple predicate over filepath/language/concept-id, applied
// during KNN search. Zero value matches every row.
type RowFilter struct {
	FilePath  string // exact match against ChunkRow.FilePath, ignored if empty
	Language  string // exact match against ChunkRow.Language, ignored if empty
	ConceptID *int   // exact match against ChunkRow.ConceptID, ignored if nil
}

func (f RowFilter) matches(row ChunkRow) bool {
	if f.FilePath != "" && row.FilePath != f.FilePath {
		return false
	}
	if f.Language != "" && row.Language != f.Language {
		return false
	}
	if f.ConceptID != nil {
		if row.ConceptID == nil || *row.ConceptID != *f.ConceptID {
			return false
		}
	}
	return true
}

// maxUpsertBatch caps the number of rows accepted by a single Upsert call.
const maxUpsertBatch = 500

// Adapter is the thin facade over the vector store described by the vector
// store adapter schema. It pairs an HNSW vector index (for nearest-neighbor
// search) with a bbolt-backed row table (for the non-vector columns),
// behind a single mutex so upserts are atomic per chunk id from a reader's
// perspective: a reader never observes a row without its vector, or a
// vector without its row.
type Adapter struct {
	mu     sync.RWMutex
	vector *HNSWStore
	db     *bolt.DB
	bm25   BM25Index
	path   string
}

// OpenOrCreate opens the table at path, creating it if absent. path is a
// directory; the vector graph and row database live inside it.
func OpenOrCreate(path string, dimension int) (*Adapter, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	vectorPath := filepath.Join(path, "vectors.hnsw")
	dims := dimension
	if existing, err := ReadHNSWStoreDimensions(vectorPath); err == nil && existing > 0 {
		dims = existing
	}

	vs, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, err := os.Stat(vectorPath + ".meta"); err == nil {
		if err := vs.Load(vectorPath); err != nil {
			return nil, fmt.Errorf("load vector store: %w", err)
		}
	}

	dbPath := filepath.Join(path, "rows.bolt")
	db, err := bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open row table: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rowsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create row bucket: %w", err)
	}

	bm25, err := NewBM25Index(filepath.Join(path, "bm25"), BM25Config{K1: 1.2, B: 0.75})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}

	return &Adapter{vector: vs, db: db, bm25: bm25, path: path}, nil
}

// Upsert deletes any existing rows sharing an id with the incoming batch,
// then inserts the new rows, under a single lock so the change is atomic
// per chunk id. Callers must split batches larger than maxUpsertBatch rows.
func (a *Adapter) Upsert(ctx context.Context, rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > maxUpsertBatch {
		return fmt.Errorf("upsert batch too large: %d rows (max %d)", len(rows), maxUpsertBatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, len(rows))
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		vectors[i] = r.Vector
	}

	if err := a.vector.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	if err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, r := range rows {
			encoded, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode row %s: %w", r.ID, err)
			}
			if err := b.Put([]byte(r.ID), encoded); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("upsert rows: %w", err)
	}

	docs := make([]*Document, len(rows))
	for i, r := range rows {
		docs[i] = &Document{ID: r.ID, Content: r.Content}
	}
	if err := a.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("upsert bm25 documents: %w", err)
	}

	return nil
}

// DeleteByIDs removes rows and vectors for the given chunk ids.
func (a *Adapter) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}

	if err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := a.bm25.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete bm25 documents: %w", err)
	}
	return nil
}

// DeleteByFile removes every row (and its vector) belonging to path.
func (a *Adapter) DeleteByFile(ctx context.Context, path string) error {
	a.mu.Lock()
	ids, err := a.idsForFileLocked(path)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.DeleteByIDs(ctx, ids)
}

func (a *Adapter) idsForFileLocked(path string) ([]string, error) {
	var ids []string
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		return b.ForEach(func(k, v []byte) error {
			var row ChunkRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.FilePath == path {
				ids = append(ids, row.ID)
			}
			return nil
		})
	})
	return ids, err
}

// KNN returns the k nearest neighbors of vector under cosine distance,
// optionally restricted to rows matching filter.
func (a *Adapter) KNN(ctx context.Context, vector []float32, k int, filter RowFilter) ([]ScoredRow, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	// Over-fetch when a filter is active since the vector index has no
	// notion of the row columns; widen the candidate pool before filtering.
	searchK := k
	if filter != (RowFilter{}) {
		searchK = k * 8
		if searchK < 64 {
			searchK = 64
		}
		if count := a.vector.Count(); searchK > count {
			searchK = count
		}
	}

	results, err := a.vector.Search(ctx, vector, searchK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]ScoredRow, 0, k)
	err = a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, r := range results {
			data := b.Get([]byte(r.ID))
			if data == nil {
				continue
			}
			var row ChunkRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("decode row %s: %w", r.ID, err)
			}
			if !filter.matches(row) {
				continue
			}
			out = append(out, ScoredRow{Row: row, Score: r.Score})
			if len(out) >= k {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of rows in the table.
func (a *Adapter) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vector.Count()
}

// ListFilePaths returns the distinct file paths with at least one row.
func (a *Adapter) ListFilePaths() ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		return b.ForEach(func(k, v []byte) error {
			var row ChunkRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			seen[row.FilePath] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	return paths, nil
}

// GetRow returns a single row by id, for consistency checks.
func (a *Adapter) GetRow(id string) (ChunkRow, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var row ChunkRow
	var found bool
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &row)
	})
	return row, found, err
}

// AllRowsWithVectors returns every row in the table with its embedding
// vector populated, pairing the bbolt row table with the HNSW graph's
// vector cache (ChunkRow.Vector is never persisted in bbolt). Used by the
// clustering pass, which needs the full vector set rather than a KNN
// neighborhood.
func (a *Adapter) AllRowsWithVectors(ctx context.Context) ([]ChunkRow, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids, vectors := a.vector.AllVectors()
	vecByID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		vecByID[id] = vectors[i]
	}

	var rows []ChunkRow
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		return b.ForEach(func(k, v []byte) error {
			var row ChunkRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			row.Vector = vecByID[row.ID]
			if row.Vector != nil {
				rows = append(rows, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateConceptIDs writes the cluster-assigned concept id onto existing rows
// in place, without touching the HNSW graph. assignments maps chunk id to
// concept id; ids absent from the table are skipped.
func (a *Adapter) UpdateConceptIDs(ctx context.Context, assignments map[string]int) error {
	if len(assignments) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for id, conceptID := range assignments {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var row ChunkRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("decode row %s: %w", id, err)
			}
			cid := conceptID
			row.ConceptID = &cid
			encoded, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode row %s: %w", id, err)
			}
			if err := b.Put([]byte(id), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

// Save persists the vector graph to disk. The row table (bbolt) is already
// durable on every Upsert/Delete transaction.
func (a *Adapter) Save() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vector.Save(filepath.Join(a.path, "vectors.hnsw"))
}

// Close releases the vector store and row table handles.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []string
	if err := a.vector.Save(filepath.Join(a.path, "vectors.hnsw")); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.vector.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.bm25.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close adapter: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SearchLexical runs a BM25 keyword search over chunk content, returning up
// to limit rows in descending score order. Used to widen the candidate set
// fed into hybrid scoring alongside vector KNN results, per the domain-stack
// lexical-retrieval enrichment: it augments candidate retrieval, not the
// hybrid score formula itself.
func (a *Adapter) SearchLexical(ctx context.Context, query string, limit int) ([]ScoredRow, error) {
	hits, err := a.bm25.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ScoredRow, 0, len(hits))
	err = a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, h := range hits {
			data := b.Get([]byte(h.DocID))
			if data == nil {
				continue
			}
			var row ChunkRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("decode row %s: %w", h.DocID, err)
			}
			out = append(out, ScoredRow{Row: row, Score: float32(h.Score)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
