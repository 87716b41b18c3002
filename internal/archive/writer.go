package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/webpubio/webpub/internal/chunker"
	"github.com/webpubio/webpub/internal/merkle"
)

// Write creates an archive at path from a tree and its chunk sequence.
// Chunks stream to disk as they arrive; a hash seen before is skipped, so
// every chunk's bytes land at exactly one offset. The header is written as a
// placeholder first and patched once the index position is known.
func Write(path string, tree *merkle.Node, chunks []chunker.Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := w.WriteByte(Version); err != nil {
		return err
	}
	// Placeholder for index offset and size.
	var zeros [16]byte
	if _, err := w.Write(zeros[:]); err != nil {
		return err
	}

	offsets := make(map[merkle.Hash]chunkLocation)
	offset := uint64(headerSize)
	for _, c := range chunks {
		hash := merkle.Hash(c.Hash)
		if _, ok := offsets[hash]; ok {
			continue
		}
		if _, err := w.Write(c.Data); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		offsets[hash] = chunkLocation{Offset: offset, Size: uint64(len(c.Data))}
		offset += uint64(len(c.Data))
	}

	indexBytes, err := msgpack.Marshal(&archiveIndex{
		Tree:         tree,
		ChunkOffsets: offsets,
	})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if _, err := w.Write(indexBytes); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Patch the real index position into the header.
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], offset)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(indexBytes)))
	if _, err := f.WriteAt(hdr[:], 9); err != nil {
		return fmt.Errorf("patch header: %w", err)
	}

	return f.Close()
}
