package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/webpubio/webpub/internal/merkle"
)

// Reader gives access to an opened archive: its tree and random-access chunk
// reads from the pool.
type Reader struct {
	f   *os.File
	idx archiveIndex
}

// Open validates the archive header and loads the index.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if !bytes.Equal(hdr[:8], Magic[:]) {
		f.Close()
		return nil, ErrBadMagic
	}
	if hdr[8] != Version {
		f.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr[8])
	}

	indexOffset := binary.LittleEndian.Uint64(hdr[9:17])
	indexSize := binary.LittleEndian.Uint64(hdr[17:25])

	indexBytes := make([]byte, indexSize)
	if _, err := f.ReadAt(indexBytes, int64(indexOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: index read: %v", ErrCorrupt, err)
	}

	r := &Reader{f: f}
	if err := msgpack.Unmarshal(indexBytes, &r.idx); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: index decode: %v", ErrCorrupt, err)
	}
	if r.idx.Tree == nil {
		f.Close()
		return nil, fmt.Errorf("%w: index has no tree", ErrCorrupt)
	}
	if err := merkle.Validate(r.idx.Tree); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return r, nil
}

// Tree returns the archived tree root.
func (r *Reader) Tree() *merkle.Node {
	return r.idx.Tree
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Extract writes the archived tree under dest. Empty directories are
// recreated; permissions are applied after all content is written, deepest
// entries first, so a read-only directory cannot block its own children.
func (r *Reader) Extract(dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	type pendingMode struct {
		path string
		mode fs.FileMode
	}
	var modes []pendingMode

	var walk func(n *merkle.Node, path string) error
	walk = func(n *merkle.Node, path string) error {
		modes = append(modes, pendingMode{path: path, mode: fs.FileMode(n.Permissions) & fs.ModePerm})
		if n.IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			for _, c := range n.Children {
				if err := walk(c, filepath.Join(path, c.Name)); err != nil {
					return err
				}
			}
		} else {
			if err := r.extractFile(n, path); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(r.idx.Tree, dest); err != nil {
		return err
	}

	// Children were appended after their parents, so the reverse order
	// chmods a directory only after everything below it is in place.
	for i := len(modes) - 1; i >= 0; i-- {
		if err := os.Chmod(modes[i].path, modes[i].mode); err != nil {
			return fmt.Errorf("apply permissions: %w", err)
		}
	}
	return nil
}

func (r *Reader) extractFile(n *merkle.Node, path string) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, hash := range n.Chunks {
		loc, ok := r.idx.ChunkOffsets[hash]
		if !ok {
			return fmt.Errorf("%w: missing chunk %s for %s", ErrCorrupt, hash, n.Name)
		}
		section := io.NewSectionReader(r.f, int64(loc.Offset), int64(loc.Size))
		if _, err := io.Copy(out, section); err != nil {
			return fmt.Errorf("copy chunk %s: %w", hash, err)
		}
	}
	return out.Close()
}
