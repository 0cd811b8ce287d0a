package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBM25Index_InMemory(t *testing.T) {
	index, err := NewBM25Index("", BM25Config{})
	require.NoError(t, err)
	require.NotNil(t, index)
	defer index.Close()

	_, ok := index.(*BleveBM25Index)
	assert.True(t, ok)
}

func TestNewBM25Index_PersistentPath(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "bm25")
	index, err := NewBM25Index(basePath, DefaultBM25Config())
	require.NoError(t, err)
	defer index.Close()

	assert.DirExists(t, basePath+".bleve")
}

func TestGetBM25IndexPath(t *testing.T) {
	path := GetBM25IndexPath("/data/dir")
	assert.Equal(t, "/data/dir/bm25.bleve", path)
}
