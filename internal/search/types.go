// Package search implements the query planner: embedding-backed similarity
// search blended with C8's lexical scorer, plus similar-code and
// concept-filtered lookups over the vector store adapter.
package search

import "github.com/codeindex/codeindex/internal/hybrid"

// Result is one ranked hit returned by any of the engine's three entry
// points.
type Result struct {
	ChunkID    string
	FilePath   string
	Content    string
	StartLine  int
	EndLine    int
	Language   string
	SymbolName string
	SymbolType string
	ConceptID  *int

	Score    float64
	VecScore float64
	LexScore float64
}

// SimilarQuery describes a searchSimilar request: either Code is given
// directly, or FilePath+StartLine+EndLine identify a line range to read
// and embed.
type SimilarQuery struct {
	Code        string
	FilePath    string
	StartLine   int
	EndLine     int
	Limit       int
	Threshold   float64 // 0 means unset: no similarity floor
	ExcludeSelf bool
}

// DefaultOversample is the candidate-pool multiplier applied to Limit
// before hybrid scoring narrows back down, per spec's "k = max(limit *
// oversample, limit)" rule.
const DefaultOversample = 4

// DefaultWeights returns the engine's default vector/lexical blend,
// matching C8's defaults.
func DefaultWeights() hybrid.Weights {
	return hybrid.DefaultWeights()
}
