package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authChunks() []Chunk {
	return []Chunk{
		{ID: "a1", Vector: []float32{1, 0, 0}, Content: "func authenticateUser(token string) bool { return verifyToken(token) }"},
		{ID: "a2", Vector: []float32{0.97, 0.03, 0}, Content: "func verifyToken(token string) bool { return len(token) > 0 }"},
		{ID: "a3", Vector: []float32{0.95, 0.05, 0.02}, Content: "func loginHandler(req Request) { authenticateUser(req.Token) }"},
		{ID: "p1", Vector: []float32{0, 1, 0}, Content: "func parseConfigFile(path string) (*Config, error) { return readYAML(path) }"},
		{ID: "p2", Vector: []float32{0.02, 0.97, 0.02}, Content: "func readYAML(path string) (*Config, error) { return nil, nil }"},
		{ID: "p3", Vector: []float32{0.03, 0.95, 0.03}, Content: "func validateConfig(cfg *Config) error { return nil }"},
	}
}

func TestBuildConcepts_AssignsEveryChunk(t *testing.T) {
	concepts, assignment, _ := BuildConcepts(authChunks(), Options{K: 2, Seed: 1, MaxIter: 50})

	require.Len(t, assignment, 6)
	require.Len(t, concepts, 2)

	total := 0
	for _, c := range concepts {
		total += c.Size
	}
	assert.Equal(t, 6, total)
}

func TestBuildConcepts_DenseClusterIDs(t *testing.T) {
	concepts, _, _ := BuildConcepts(authChunks(), Options{K: 2, Seed: 1, MaxIter: 50})
	ids := map[int]bool{}
	for _, c := range concepts {
		ids[c.ID] = true
	}
	assert.True(t, ids[0])
	assert.True(t, ids[1])
}

func TestBuildConcepts_KeywordsCappedAtEight(t *testing.T) {
	concepts, _, _ := BuildConcepts(authChunks(), Options{K: 2, Seed: 1, MaxIter: 50})
	for _, c := range concepts {
		assert.LessOrEqual(t, len(c.Keywords), maxKeywords)
	}
}

func TestBuildConcepts_RepresentativesCappedAtFive(t *testing.T) {
	concepts, _, _ := BuildConcepts(authChunks(), Options{K: 2, Seed: 1, MaxIter: 50})
	for _, c := range concepts {
		assert.LessOrEqual(t, len(c.Representatives), maxRepresentatives)
		assert.LessOrEqual(t, len(c.Representatives), c.Size)
	}
}

func TestSynthesizeLabel_FallsBackWhenNoKeywords(t *testing.T) {
	assert.Equal(t, "Cluster 3", synthesizeLabel(3, nil))
}

func TestSynthesizeLabel_UsesTopKeywords(t *testing.T) {
	label := synthesizeLabel(0, []string{"auth", "token", "verify", "login", "extra"})
	assert.Equal(t, "auth token verify login", label)
}

func TestTokenizeForKeywords_DropsStopWordsAndShortTokens(t *testing.T) {
	tokens := tokenizeForKeywords("func getUserById(id int) { if id > 0 { return } }")
	for _, tok := range tokens {
		assert.GreaterOrEqual(t, len(tok), minKeywordLength)
		_, isStop := stopWords[tok]
		assert.False(t, isStop, "%q should not be a stop word", tok)
	}
}

func TestBuildConcepts_EmptyInputYieldsNothing(t *testing.T) {
	concepts, assignment, silhouette := BuildConcepts(nil, Options{Seed: 1})
	assert.Nil(t, concepts)
	assert.Empty(t, assignment)
	assert.Equal(t, 0.0, silhouette)
}

func TestMeanSilhouette_WellSeparatedClustersScoreHigh(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0}, {0.99, 0.01, 0}, {0.98, 0.02, 0},
		{0, 1, 0}, {0.01, 0.99, 0}, {0.02, 0.98, 0},
	}
	assignments := []int{0, 0, 0, 1, 1, 1}

	score := meanSilhouette(vectors, assignments, 2)
	assert.Greater(t, score, 0.5)
}

func TestMeanSilhouette_ClampedToValidRange(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	score := meanSilhouette(vectors, []int{0, 1}, 2)
	assert.GreaterOrEqual(t, score, -1.0)
	assert.LessOrEqual(t, score, 1.0)
}
