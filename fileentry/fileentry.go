// Package fileentry is the "thin filesystem wrapper" spec.md §1 calls out
// as an external collaborator for the read_directory command: a single,
// non-recursive directory listing with best-effort file content.
package fileentry

import (
	"os"
	"path/filepath"
)

// Entry mirrors the original_source main.rs FileEntry shape: name, full
// path, optional content (only for files, best-effort), and a directory
// flag.
type Entry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	IsDir   bool   `json:"is_dir"`
}

// ReadDirectory lists the immediate children of path. It is intentionally
// non-recursive: no content diffing, no watch, no descent into
// subdirectories, matching spec.md's "thin filesystem wrapper" framing.
// A file's content is best-effort: files that cannot be read (e.g.
// permission denied) are listed with an empty Content. Readable files,
// binary ones included, carry their full bytes as Content.
func ReadDirectory(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		full := filepath.Join(path, de.Name())
		isDir := de.IsDir()

		var content string
		if !isDir {
			if b, err := os.ReadFile(full); err == nil {
				content = string(b)
			}
		}

		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    full,
			Content: content,
			IsDir:   isDir,
		})
	}

	return entries, nil
}
