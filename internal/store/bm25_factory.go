package store

import "path/filepath"

// NewBM25Index opens (or creates) the Bleve-backed BM25 lexical index at the
// given base path. Path is the base path without extension; the on-disk
// index directory gets a ".bleve" suffix. An empty path creates an
// in-memory index (used by tests).
func NewBM25Index(basePath string, config BM25Config) (BM25Index, error) {
	var path string
	if basePath != "" {
		path = basePath + ".bleve"
	}
	return NewBleveBM25Index(path, config)
}

// GetBM25IndexPath returns the full path to the BM25 index directory.
func GetBM25IndexPath(dataDir string) string {
	return filepath.Join(dataDir, "bm25.bleve")
}
