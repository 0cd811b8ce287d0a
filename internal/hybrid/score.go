// Package hybrid combines vector-similarity scores with a lexical score
// computed directly over candidate content and path, producing the final
// ranking used by search.
package hybrid

import (
	"regexp"
	"sort"
	"strings"
)

// minTokenLength is the shortest query token considered for lexical
// scoring; shorter tokens (e.g. "is", "to") are dropped as noise.
const minTokenLength = 3

// Weights configures the blend between vector and lexical scores.
type Weights struct {
	Vector  float64 // w_v, default 0.7
	Lexical float64 // w_k, default 0.3
}

// DefaultWeights returns the spec's default 0.7/0.3 vector/lexical blend.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Lexical: 0.3}
}

// Candidate is a scored chunk awaiting hybrid scoring.
type Candidate struct {
	ChunkID   string
	Path      string
	Content   string
	StartLine int
	VecScore  float64 // s_v, in [0, 1], 1 is nearest

	// Populated by Score.
	LexScore   float64 // s_k, in [0, 1]
	FinalScore float64 // s = w_v*s_v + w_k*s_k
}

// Tokenize splits a query into lowercase whitespace-delimited tokens,
// dropping any shorter than minTokenLength.
func Tokenize(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) < minTokenLength {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// LexicalScore computes s_k for a single candidate given pre-tokenized
// query tokens, per the literal tokenize/match/bonus/normalize formula:
// content match contributes 1, a whole-word match contributes an
// additional 0.5 bonus, and a path match contributes 0.5. match and bonus
// are normalized by token count, bonus capped at 0.5, and the sum capped
// at 1.
func LexicalScore(tokens []string, content, path string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	contentLower := strings.ToLower(content)
	pathLower := strings.ToLower(path)

	var match, bonus float64
	for _, t := range tokens {
		if strings.Contains(contentLower, t) {
			match++
			if wholeWordMatches(contentLower, t) {
				bonus += 0.5
			}
		}
		if strings.Contains(pathLower, t) {
			match += 0.5
		}
	}

	base := match / float64(len(tokens))
	bonus = bonus / float64(len(tokens))
	if bonus > 0.5 {
		bonus = 0.5
	}

	s := base + bonus
	if s > 1 {
		s = 1
	}
	return s
}

// wholeWordMatches reports whether t appears as a whole word in content,
// using a word-boundary regex.
func wholeWordMatches(content, t string) bool {
	pattern := `\b` + regexp.QuoteMeta(t) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(content)
}

// Score computes the final hybrid score for each candidate in place and
// returns candidates sorted by descending score, ties broken by path
// ascending then start line ascending.
func Score(query string, candidates []Candidate, weights Weights) []Candidate {
	tokens := Tokenize(query)

	for i := range candidates {
		c := &candidates[i]
		c.LexScore = LexicalScore(tokens, c.Content, c.Path)
		c.FinalScore = weights.Vector*c.VecScore + weights.Lexical*c.LexScore
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.StartLine < b.StartLine
	})

	return candidates
}
