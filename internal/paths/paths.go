// Package paths resolves where a node keeps its on-disk state.
package paths

import (
	"os"
	"path/filepath"
)

// DataDir resolves dir and makes sure it exists. An empty dir selects a
// per-user location (user config dir, or a dotted directory next to the
// process when none is available). The directory is created 0700 since the
// identity seed lives in it.
func DataDir(dir string) (string, error) {
	if dir == "" {
		if base, err := os.UserConfigDir(); err == nil && base != "" {
			dir = filepath.Join(base, "wisp")
		} else {
			dir = ".wisp"
		}
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
