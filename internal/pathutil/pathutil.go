// Package pathutil resolves user-supplied file paths from the inventory.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// "~user" forms are left alone.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Resolve expands path and anchors it to base when it is still relative.
// Empty paths stay empty.
func Resolve(base, path string) string {
	if path == "" {
		return ""
	}
	path = ExpandHome(path)
	if filepath.IsAbs(path) || base == "" || strings.HasPrefix(path, "~") {
		return path
	}
	return filepath.Join(base, path)
}
