package merkle

import (
	"github.com/webpubio/webpub/internal/chunker"
	"github.com/webpubio/webpub/internal/scanner"
)

// Build turns a scanned directory record into a hashed tree plus the chunk
// sequence of all files in tree pre-order. Duplicate chunks are kept; the
// downstream writer deduplicates by hash. Build does no I/O and is fully
// deterministic over its input.
func Build(root *scanner.Entry) (*Node, []chunker.Chunk) {
	var chunks []chunker.Chunk
	node := buildNode(root, &chunks)
	return node, chunks
}

func buildNode(e *scanner.Entry, out *[]chunker.Chunk) *Node {
	if e.IsDir {
		children := make([]*Node, 0, len(e.Children))
		for _, c := range e.Children {
			children = append(children, buildNode(c, out))
		}
		return NewDirectory(e.Name, e.Permissions, children)
	}

	fileChunks := chunker.SplitAll(e.Data)
	hashes := make([]Hash, len(fileChunks))
	var size uint64
	for i, c := range fileChunks {
		hashes[i] = Hash(c.Hash)
		size += uint64(len(c.Data))
	}
	*out = append(*out, fileChunks...)
	return NewFile(e.Name, e.Permissions, size, hashes)
}
