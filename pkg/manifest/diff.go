package manifest

import "sort"

// DiffResult compares archive contents against a directory tree, from
// the archive's point of view.
type DiffResult struct {
	// Missing paths are in the archive but not on disk.
	Missing []string `json:"missing"`
	// Changed paths exist on both sides with different content.
	Changed []string `json:"changed"`
	// Extra paths are on disk but not in the archive.
	Extra []string `json:"extra"`
}

func (d DiffResult) Clean() bool {
	return len(d.Missing) == 0 &&
		len(d.Changed) == 0 &&
		len(d.Extra) == 0
}

// Diff computes the three-way difference between an archive manifest
// and a directory manifest.
func Diff(archived, onDisk Manifest) DiffResult {
	var result DiffResult

	for path, ae := range archived {
		de, exists := onDisk[path]
		switch {
		case !exists:
			result.Missing = append(result.Missing, path)
		case ae.Hash != de.Hash:
			result.Changed = append(result.Changed, path)
		}
	}
	for path := range onDisk {
		if _, exists := archived[path]; !exists {
			result.Extra = append(result.Extra, path)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Changed)
	sort.Strings(result.Extra)
	return result
}
