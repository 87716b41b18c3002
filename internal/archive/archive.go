// Package archive reads and writes the single-file site container: a fixed
// header, the deduplicated chunk pool, and a trailing msgpack index holding
// the tree and the chunk offset table.
//
// Layout:
//
//	offset 0:   magic "WEBPUB\0\0"  (8 bytes)
//	offset 8:   version = 1         (1 byte)
//	offset 9:   index offset        (8 bytes, little-endian)
//	offset 17:  index size          (8 bytes, little-endian)
//	offset 25:  chunk bytes, each at its recorded offset
//	index off:  msgpack index
package archive

import (
	"errors"

	"github.com/webpubio/webpub/internal/merkle"
)

const (
	Version    = 1
	headerSize = 25
)

var Magic = [8]byte{'W', 'E', 'B', 'P', 'U', 'B', 0, 0}

var (
	ErrBadMagic           = errors.New("bad archive magic")
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	ErrCorrupt            = errors.New("corrupt archive")
)

// chunkLocation records where a chunk's bytes live in the pool.
type chunkLocation struct {
	Offset uint64 `msgpack:"offset"`
	Size   uint64 `msgpack:"size"`
}

// archiveIndex is the msgpack structure at the tail of the file.
type archiveIndex struct {
	Tree         *merkle.Node                  `msgpack:"tree"`
	ChunkOffsets map[merkle.Hash]chunkLocation `msgpack:"chunk_offsets"`
}
