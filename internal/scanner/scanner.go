// Package scanner walks a directory tree into an in-memory record suitable
// for tree building. Symlinks, devices, sockets and FIFOs are skipped, and
// unreadable descendants are silently omitted so one bad entry does not
// abort a publish.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one scanned filesystem entry. The root entry has an empty name.
type Entry struct {
	Name        string
	Permissions uint32
	IsDir       bool
	Size        uint64
	Data        []byte
	Children    []*Entry
}

// Scan reads the directory tree rooted at path. Children are ordered
// ascending by raw name bytes. The returned root entry always has an empty
// name.
func Scan(path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", path)
	}

	root, err := scanDir(path, "", info)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return root, nil
}

func scanDir(path, name string, info os.FileInfo) (*Entry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	dir := &Entry{
		Name:        name,
		Permissions: uint32(info.Mode().Perm()),
		IsDir:       true,
	}

	// os.ReadDir already sorts by raw name bytes.
	for _, de := range entries {
		childPath := filepath.Join(path, de.Name())

		// Type() reports the link itself, so symlinks and special files
		// never pass this filter.
		switch {
		case de.Type().IsRegular():
			child, err := scanFile(childPath, de.Name())
			if err != nil {
				continue
			}
			dir.Children = append(dir.Children, child)
		case de.Type().IsDir():
			childInfo, err := de.Info()
			if err != nil {
				continue
			}
			child, err := scanDir(childPath, de.Name(), childInfo)
			if err != nil {
				continue
			}
			dir.Children = append(dir.Children, child)
		}
	}

	return dir, nil
}

func scanFile(path, name string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Name:        name,
		Permissions: uint32(info.Mode().Perm()),
		Size:        uint64(len(data)),
		Data:        data,
	}, nil
}
