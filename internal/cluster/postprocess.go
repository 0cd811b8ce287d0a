package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/codeindex/codeindex/internal/store"
)

// maxKeywords is the number of top TF-IDF keywords kept per cluster.
const maxKeywords = 8

// maxRepresentatives is the number of centroid-nearest chunk ids kept per
// cluster.
const maxRepresentatives = 5

// minKeywordLength drops very short tokens from keyword extraction.
const minKeywordLength = 3

// silhouetteSampleCap bounds how many chunks are sampled for the mean
// silhouette quality estimate.
const silhouetteSampleCap = 3000

// Chunk is the minimal view of a store row clustering needs.
type Chunk struct {
	ID      string
	Vector  []float32
	Content string
}

// Concept is a single clustered group, ready for persistence.
type Concept struct {
	ID              int       `json:"id"`
	Label           string    `json:"label"`
	Keywords        []string  `json:"keywords"`
	Size            int       `json:"size"`
	Representatives []string  `json:"representatives"`
	Centroid        []float32 `json:"centroid"`
}

var stopWords = store.BuildStopWordMap(store.DefaultCodeStopWords)

// BuildConcepts runs k-means over chunks and produces the per-cluster
// postprocessing the spec calls for: size, TF-IDF keywords, a synthesized
// label, and up to maxRepresentatives centroid-nearest chunk ids. It also
// returns the chunk-id -> concept-id assignment and the mean silhouette
// score over a capped fixed-stride sample.
func BuildConcepts(chunks []Chunk, opts Options) ([]Concept, map[string]int, float64) {
	if len(chunks) == 0 {
		return nil, map[string]int{}, 0
	}

	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = c.Vector
	}

	result := Run(vectors, opts)
	if result.K == 0 {
		return nil, map[string]int{}, 0
	}

	tokenized := make([][]string, len(chunks))
	for i, c := range chunks {
		tokenized[i] = tokenizeForKeywords(c.Content)
	}

	docFreq := documentFrequency(tokenized, result.Assignments, result.K)

	concepts := make([]Concept, result.K)
	assignment := make(map[string]int, len(chunks))

	for k := 0; k < result.K; k++ {
		var members []int
		for i, a := range result.Assignments {
			if a == k {
				members = append(members, i)
				assignment[chunks[i].ID] = k
			}
		}

		keywords := topKeywords(tokenized, members, docFreq, len(chunks))
		concepts[k] = Concept{
			ID:              k,
			Label:           synthesizeLabel(k, keywords),
			Keywords:        keywords,
			Size:            len(members),
			Representatives: representatives(chunks, members, result.Centroids[k]),
			Centroid:        result.Centroids[k],
		}
	}

	silhouette := meanSilhouette(vectors, result.Assignments, result.K)

	return concepts, assignment, silhouette
}

// tokenizeForKeywords splits content the code-friendly way (camelCase /
// snake_case aware, lowercased) and drops stop words and very short
// tokens.
func tokenizeForKeywords(content string) []string {
	tokens := store.TokenizeCode(content)
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) < minKeywordLength {
			continue
		}
		if _, isStop := stopWords[t]; isStop {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

// documentFrequency counts, for each term, how many clusters (not
// chunks) it appears in, used as TF-IDF's IDF term: IDF is computed over
// clusters so a keyword common to one cluster but rare elsewhere ranks
// high for that cluster.
func documentFrequency(tokenized [][]string, assignments []int, k int) map[string]int {
	presentIn := make([]map[string]bool, k)
	for i := range presentIn {
		presentIn[i] = make(map[string]bool)
	}
	for i, tokens := range tokenized {
		c := assignments[i]
		if c < 0 || c >= k {
			continue
		}
		for _, t := range tokens {
			presentIn[c][t] = true
		}
	}

	df := make(map[string]int)
	for _, set := range presentIn {
		for t := range set {
			df[t]++
		}
	}
	return df
}

// topKeywords computes TF-IDF over a cluster's member documents, IDF
// taken across all clusters, and returns the top maxKeywords terms.
func topKeywords(tokenized [][]string, members []int, docFreq map[string]int, numClusters int) []string {
	termFreq := make(map[string]int)
	total := 0
	for _, idx := range members {
		for _, t := range tokenized[idx] {
			termFreq[t]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	type scored struct {
		term  string
		score float64
	}
	scores := make([]scored, 0, len(termFreq))
	for t, tf := range termFreq {
		idf := math.Log(float64(numClusters+1) / float64(docFreq[t]+1))
		score := (float64(tf) / float64(total)) * idf
		scores = append(scores, scored{term: t, score: score})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].term < scores[j].term
	})

	n := maxKeywords
	if n > len(scores) {
		n = len(scores)
	}
	keywords := make([]string, n)
	for i := 0; i < n; i++ {
		keywords[i] = scores[i].term
	}
	return keywords
}

// synthesizeLabel builds a two-to-four-word title from the top keywords,
// falling back to "Cluster {id}" when there's nothing to synthesize from.
func synthesizeLabel(id int, keywords []string) string {
	if len(keywords) == 0 {
		return fmt.Sprintf("Cluster %d", id)
	}
	n := 4
	if n > len(keywords) {
		n = len(keywords)
	}
	if n < 2 && len(keywords) >= 2 {
		n = 2
	}

	label := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			label += " "
		}
		label += keywords[i]
	}
	return label
}

// representatives returns up to maxRepresentatives member chunk ids
// closest to the cluster centroid.
func representatives(chunks []Chunk, members []int, centroid []float32) []string {
	type distanced struct {
		id   string
		dist float64
	}
	normalizedCentroid := normalizedCopy(centroid)

	ranked := make([]distanced, len(members))
	for i, idx := range members {
		v := normalizedCopy(chunks[idx].Vector)
		ranked[i] = distanced{id: chunks[idx].ID, dist: cosineDistance(v, normalizedCentroid)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	n := maxRepresentatives
	if n > len(ranked) {
		n = len(ranked)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = ranked[i].id
	}
	return ids
}

// meanSilhouette estimates cluster quality over a capped fixed-stride sample,
// returning the mean silhouette coefficient clamped to [-1, 1].
func meanSilhouette(vectors [][]float32, assignments []int, k int) float64 {
	n := len(vectors)
	if n < 2 || k < 2 {
		return 0
	}

	normalized := make([][]float32, n)
	for i, v := range vectors {
		normalized[i] = normalizedCopy(v)
	}

	sampleSize := n
	if sampleSize > silhouetteSampleCap {
		sampleSize = silhouetteSampleCap
	}
	indices := sampleIndices(n, sampleSize)

	var total float64
	var counted int
	for _, i := range indices {
		s := silhouetteFor(i, normalized, assignments, k)
		if math.IsNaN(s) {
			continue
		}
		total += s
		counted++
	}
	if counted == 0 {
		return 0
	}

	mean := total / float64(counted)
	if mean < -1 {
		mean = -1
	}
	if mean > 1 {
		mean = 1
	}
	return mean
}

// silhouetteFor computes the silhouette coefficient for a single point:
// (b - a) / max(a, b), where a is the mean distance to same-cluster
// points and b is the lowest mean distance to any other cluster's
// points.
func silhouetteFor(i int, vectors [][]float32, assignments []int, k int) float64 {
	own := assignments[i]

	sums := make([]float64, k)
	counts := make([]int, k)
	for j, v := range vectors {
		if j == i {
			continue
		}
		c := assignments[j]
		d := cosineDistance(vectors[i], v)
		sums[c] += d
		counts[c]++
	}

	if counts[own] == 0 {
		return 0
	}
	a := sums[own] / float64(counts[own])

	b := math.MaxFloat64
	for c := 0; c < k; c++ {
		if c == own || counts[c] == 0 {
			continue
		}
		mean := sums[c] / float64(counts[c])
		if mean < b {
			b = mean
		}
	}
	if b == math.MaxFloat64 {
		return 0
	}

	maxAB := a
	if b > maxAB {
		maxAB = b
	}
	if maxAB == 0 {
		return 0
	}
	return (b - a) / maxAB
}

// sampleIndices deterministically selects sampleSize indices out of n via
// fixed stride, avoiding a dependency on math/rand's global state for
// reproducible quality reports.
func sampleIndices(n, sampleSize int) []int {
	if sampleSize >= n {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	indices := make([]int, 0, sampleSize)
	stride := float64(n) / float64(sampleSize)
	for i := 0; i < sampleSize; i++ {
		indices = append(indices, int(float64(i)*stride))
	}
	return indices
}
