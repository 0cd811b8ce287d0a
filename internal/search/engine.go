package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeindex/codeindex/internal/apperrors"
	"github.com/codeindex/codeindex/internal/embed"
	"github.com/codeindex/codeindex/internal/hybrid"
	"github.com/codeindex/codeindex/internal/store"
)

// Engine is the query planner: it embeds queries, fetches an oversampled
// candidate pool from the vector store adapter, and blends vector
// similarity with C8's lexical scorer.
type Engine struct {
	adapter  *store.Adapter
	embedder embed.Embedder
	rootDir  string
	weights  hybrid.Weights
}

// NewEngine constructs a query planner over an already-populated store
// adapter. rootDir resolves the file reads SearchSimilar performs when
// given a line range instead of literal code.
func NewEngine(adapter *store.Adapter, embedder embed.Embedder, rootDir string, weights hybrid.Weights) *Engine {
	return &Engine{adapter: adapter, embedder: embedder, rootDir: rootDir, weights: weights}
}

func notIndexedErr() error {
	return apperrors.New(apperrors.KindNotIndexed, "no chunks have been indexed yet")
}

// Search embeds the query, fetches an oversampled nearest-neighbor
// candidate pool (optionally narrowed by a path glob or language set),
// scores each candidate with C8's hybrid formula, and returns the top
// `limit` results.
func (e *Engine) Search(ctx context.Context, query string, limit int, pathPattern string, languages []string) ([]Result, error) {
	if e.adapter.Count() == 0 {
		return nil, notIndexedErr()
	}
	if limit <= 0 {
		limit = 10
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackend, err)
	}

	k := limit * DefaultOversample
	if k < limit {
		k = limit
	}

	var filter store.RowFilter
	if len(languages) == 1 {
		filter.Language = languages[0]
	}

	rows, err := e.adapter.KNN(ctx, vec, k, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, err)
	}

	// Widen the candidate pool with the BM25 lexical index's top hits so a
	// chunk that's lexically strong but outside the vector top-k still gets
	// a chance at hybrid scoring (domain-stack retrieval enrichment; the
	// hybrid formula itself still runs over raw content unchanged).
	if lexRows, lexErr := e.adapter.SearchLexical(ctx, query, k); lexErr == nil {
		rows = mergeRows(rows, lexRows)
	}

	rows = filterByPathAndLanguages(rows, pathPattern, languages)

	candidates := make([]hybrid.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = hybrid.Candidate{
			ChunkID:   r.Row.ID,
			Path:      r.Row.FilePath,
			Content:   r.Row.Content,
			StartLine: r.Row.StartLine,
			VecScore:  float64(r.Score),
		}
	}

	scored := hybrid.Score(query, candidates, e.weights)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	byID := make(map[string]store.ChunkRow, len(rows))
	for _, r := range rows {
		byID[r.Row.ID] = r.Row
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		row := byID[s.ChunkID]
		results[i] = rowToResult(row, s.FinalScore, s.VecScore, s.LexScore)
	}
	return results, nil
}

// SearchSimilar finds chunks similar to a literal code snippet, or to a
// line range read from a file. Results below Threshold (if set) are
// dropped, and the source chunk itself is dropped when ExcludeSelf and
// FilePath/StartLine/EndLine identify it.
func (e *Engine) SearchSimilar(ctx context.Context, q SimilarQuery) ([]Result, error) {
	if e.adapter.Count() == 0 {
		return nil, notIndexedErr()
	}

	text := q.Code
	if text == "" {
		lines, err := e.readLines(q.FilePath, q.StartLine, q.EndLine)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, err)
		}
		text = lines
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "searchSimilar requires non-empty code or a valid line range")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackend, err)
	}

	k := limit * DefaultOversample
	if q.ExcludeSelf {
		k++ // budget for the source chunk, which may occupy a slot before it's dropped
	}

	rows, err := e.adapter.KNN(ctx, vec, k, store.RowFilter{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, err)
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		if q.Threshold > 0 && float64(r.Score) < q.Threshold {
			continue
		}
		if q.ExcludeSelf && r.Row.FilePath == q.FilePath && r.Row.StartLine == q.StartLine && r.Row.EndLine == q.EndLine {
			continue
		}
		results = append(results, rowToResult(r.Row, float64(r.Score), float64(r.Score), 0))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// SearchByConcept restricts results to one cluster by conceptId. When query
// is non-empty, the subset is hybrid-scored like Search; otherwise results
// are ranked by vector similarity to the cluster centroid.
func (e *Engine) SearchByConcept(ctx context.Context, conceptID int, query string, limit int, centroid []float32) ([]Result, error) {
	if e.adapter.Count() == 0 {
		return nil, notIndexedErr()
	}
	if limit <= 0 {
		limit = 10
	}

	k := limit * DefaultOversample
	filter := store.RowFilter{ConceptID: &conceptID}

	var searchVec []float32
	if query != "" {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindBackend, err)
		}
		searchVec = vec
	} else {
		searchVec = centroid
	}
	if searchVec == nil {
		return nil, apperrors.New(apperrors.KindValidation, "searchByConcept requires a query or a cluster centroid")
	}

	rows, err := e.adapter.KNN(ctx, searchVec, k, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, err)
	}

	if query == "" {
		results := make([]Result, 0, len(rows))
		for _, r := range rows {
			results = append(results, rowToResult(r.Row, float64(r.Score), float64(r.Score), 0))
		}
		if len(results) > limit {
			results = results[:limit]
		}
		return results, nil
	}

	candidates := make([]hybrid.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = hybrid.Candidate{
			ChunkID:   r.Row.ID,
			Path:      r.Row.FilePath,
			Content:   r.Row.Content,
			StartLine: r.Row.StartLine,
			VecScore:  float64(r.Score),
		}
	}
	scored := hybrid.Score(query, candidates, e.weights)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	byID := make(map[string]store.ChunkRow, len(rows))
	for _, r := range rows {
		byID[r.Row.ID] = r.Row
	}
	results := make([]Result, len(scored))
	for i, s := range scored {
		results[i] = rowToResult(byID[s.ChunkID], s.FinalScore, s.VecScore, s.LexScore)
	}
	return results, nil
}

func (e *Engine) readLines(relPath string, start, end int) (string, error) {
	if relPath == "" || start <= 0 || end < start {
		return "", fmt.Errorf("invalid file range: %s:%d-%d", relPath, start, end)
	}
	data, err := os.ReadFile(filepath.Join(e.rootDir, relPath))
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	if start > len(lines) {
		return "", fmt.Errorf("start line %d exceeds file length %d", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// mergeRows unions base (vector KNN results) with extra (BM25 hits),
// keeping base's score for any id present in both since vector similarity
// is what hybrid scoring treats as VecScore.
func mergeRows(base, extra []store.ScoredRow) []store.ScoredRow {
	seen := make(map[string]bool, len(base))
	out := make([]store.ScoredRow, len(base), len(base)+len(extra))
	copy(out, base)
	for _, r := range base {
		seen[r.Row.ID] = true
	}
	for _, r := range extra {
		if seen[r.Row.ID] {
			continue
		}
		seen[r.Row.ID] = true
		out = append(out, store.ScoredRow{Row: r.Row, Score: 0})
	}
	return out
}

func filterByPathAndLanguages(rows []store.ScoredRow, pathPattern string, languages []string) []store.ScoredRow {
	if pathPattern == "" && len(languages) <= 1 {
		return rows
	}

	langSet := make(map[string]bool, len(languages))
	for _, l := range languages {
		langSet[l] = true
	}

	out := rows[:0]
	for _, r := range rows {
		if pathPattern != "" {
			matched, err := filepath.Match(pathPattern, r.Row.FilePath)
			if err != nil || !matched {
				continue
			}
		}
		if len(langSet) > 0 && !langSet[r.Row.Language] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func rowToResult(row store.ChunkRow, score, vecScore, lexScore float64) Result {
	return Result{
		ChunkID:    row.ID,
		FilePath:   row.FilePath,
		Content:    row.Content,
		StartLine:  row.StartLine,
		EndLine:    row.EndLine,
		Language:   row.Language,
		SymbolName: row.SymbolName,
		SymbolType: row.SymbolType,
		ConceptID:  row.ConceptID,
		Score:      score,
		VecScore:   vecScore,
		LexScore:   lexScore,
	}
}
