package taskengine

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/csk-next/csk/internal/pathio"
)

// Snapshot maps every regular file under root (except paths under an
// ignored prefix) to its content hash, used to detect which files a slice
// implementation changed.
type Snapshot map[string]string

// TakeSnapshot walks root and hashes every regular file, skipping any path
// whose root-relative form starts with one of ignorePrefixes (typically
// the kernel's own .csk/app/run state, so the engine never treats its own
// bookkeeping writes as part of a slice's changes).
func TakeSnapshot(root string, ignorePrefixes ...string) (Snapshot, error) {
	snap := Snapshot{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, prefix := range ignorePrefixes {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return nil
			}
		}
		hash, err := pathio.SHA256File(path)
		if err != nil {
			return nil // unreadable files (broken symlinks, perms) are skipped, not fatal
		}
		snap[rel] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ChangedFiles returns every path present in either snapshot whose content
// hash differs (added, removed, or modified).
func ChangedFiles(before, after Snapshot) []string {
	var changed []string
	seen := map[string]bool{}
	for path, hash := range after {
		seen[path] = true
		if before[path] != hash {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if !seen[path] {
			changed = append(changed, path)
		}
	}
	return changed
}
