package index

import (
	"context"
	"fmt"
)

// sampleSize bounds how many manifest-listed chunk ids QuickCheck inspects
// per file, keeping corruption detection cheap on large codebases.
const sampleSize = 5

// corruptionThreshold is the fraction of sampled ids that must be missing
// from the store before the coordinator declares the index corrupted.
const corruptionThreshold = 0.1

// CheckResult reports how many manifest-listed chunk ids were sampled and
// how many were missing from the store.
type CheckResult struct {
	Sampled int
	Missing int
	// MissingIDs lists the first few missing ids, for diagnostics.
	MissingIDs []string
}

// Corrupted reports whether the missing fraction exceeds corruptionThreshold.
func (r CheckResult) Corrupted() bool {
	if r.Sampled == 0 {
		return false
	}
	return float64(r.Missing)/float64(r.Sampled) > corruptionThreshold
}

// QuickCheck samples up to sampleSize chunk ids per manifest file entry and
// verifies each is present in the store adapter's row table. A file whose
// manifest entry outlives its store rows indicates a crash mid-write;
// CheckResult.Corrupted reports it, and a re-run with forceReindex or
// autoRepair rebuilds the index. Store rows with no manifest entry are not
// detected here; OrphanedPaths finds those.
func (c *Coordinator) QuickCheck(ctx context.Context) (CheckResult, error) {
	c.mu.Lock()
	manifest := c.manifest
	adapter := c.adapter
	c.mu.Unlock()

	if manifest == nil || adapter == nil {
		return CheckResult{}, fmt.Errorf("coordinator not initialized")
	}

	var result CheckResult
	for _, entry := range manifest.Files {
		ids := entry.ChunkIDs
		if len(ids) > sampleSize {
			ids = ids[:sampleSize]
		}
		for _, id := range ids {
			result.Sampled++
			_, found, err := adapter.GetRow(id)
			if err != nil {
				return result, err
			}
			if !found {
				result.Missing++
				if len(result.MissingIDs) < 10 {
					result.MissingIDs = append(result.MissingIDs, id)
				}
			}
		}
	}

	return result, nil
}

// OrphanedPaths returns store file paths that have no corresponding
// manifest entry, the inverse direction of QuickCheck's sampling.
func (c *Coordinator) OrphanedPaths(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	manifest := c.manifest
	adapter := c.adapter
	c.mu.Unlock()

	if manifest == nil || adapter == nil {
		return nil, fmt.Errorf("coordinator not initialized")
	}

	paths, err := adapter.ListFilePaths()
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, p := range paths {
		if _, ok := manifest.Files[p]; !ok {
			orphans = append(orphans, p)
		}
	}
	return orphans, nil
}
