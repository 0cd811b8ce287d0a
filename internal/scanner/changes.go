package scanner

import "sort"

// ChangeStatus classifies a path's relationship between two scans.
type ChangeStatus string

const (
	// StatusAdded: path is present in the current scan but not the
	// previous manifest.
	StatusAdded ChangeStatus = "added"
	// StatusChanged: path is present in both, but its content hash differs.
	StatusChanged ChangeStatus = "changed"
	// StatusRemoved: path was in the previous manifest but is gone now.
	StatusRemoved ChangeStatus = "removed"
	// StatusUnchanged: path is present in both with an identical hash; no
	// work required.
	StatusUnchanged ChangeStatus = "unchanged"
)

// FileChange describes one path's classification against a previous manifest.
type FileChange struct {
	Path   string
	Status ChangeStatus
}

// DetectChanges classifies every path in current against the hashes recorded
// in previous, per spec's added/changed/removed/unchanged rules. The result
// is sorted by path for deterministic output.
func DetectChanges(previous, current map[string]uint64) []FileChange {
	changes := make([]FileChange, 0, len(current)+len(previous))

	for path, hash := range current {
		prevHash, existed := previous[path]
		switch {
		case !existed:
			changes = append(changes, FileChange{Path: path, Status: StatusAdded})
		case prevHash != hash:
			changes = append(changes, FileChange{Path: path, Status: StatusChanged})
		default:
			changes = append(changes, FileChange{Path: path, Status: StatusUnchanged})
		}
	}

	for path := range previous {
		if _, stillPresent := current[path]; !stillPresent {
			changes = append(changes, FileChange{Path: path, Status: StatusRemoved})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// HashesFromFiles builds a (relative-path -> content-hash) map from scan
// results, the literal output shape spec.md §4.6 calls for.
func HashesFromFiles(files []*FileInfo) map[string]uint64 {
	hashes := make(map[string]uint64, len(files))
	for _, f := range files {
		hashes[f.Path] = f.ContentHash
	}
	return hashes
}
