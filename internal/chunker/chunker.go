// Package chunker splits byte streams into variable-sized chunks using
// FastCDC content-defined boundaries. Boundaries depend only on content, so
// a local edit perturbs a bounded region of the chunk sequence and the rest
// of the stream keeps its chunk identities.
package chunker

import (
	"iter"
	"math"

	"github.com/zeebo/blake3"
)

// Chunk sizes: min 16KB, avg 32KB, max 64KB. The final chunk of a stream may
// be shorter than MinSize.
const (
	MinSize = 16 * 1024
	AvgSize = 32 * 1024
	MaxSize = 64 * 1024
)

// boundary threshold for the gear hash, tuned so that a cutpoint fires on
// average every AvgSize-MinSize bytes past the minimum.
const threshold = math.MaxUint64 / uint64(AvgSize-MinSize+1)

// A Chunk is a content-addressed byte range: Hash is the BLAKE3 digest of
// Data.
type Chunk struct {
	Hash [32]byte
	Data []byte
}

// Split yields chunks covering data exactly once, in order. Chunk data
// aliases the input buffer; callers that outlive the buffer must copy.
func Split(data []byte) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		rest := data
		for len(rest) > 0 {
			n := cut(rest)
			c := Chunk{
				Hash: blake3.Sum256(rest[:n]),
				Data: rest[:n],
			}
			if !yield(c) {
				return
			}
			rest = rest[n:]
		}
	}
}

// SplitAll collects every chunk of data into a slice.
func SplitAll(data []byte) []Chunk {
	var chunks []Chunk
	for c := range Split(data) {
		chunks = append(chunks, c)
	}
	return chunks
}

// cut returns the next chunk boundary in data, in (0, len(data)].
//
// This is the FastCDC gear-hash scan with the regression refinement: the
// gear hash rolls one byte at a time, a cutpoint fires when the hash falls
// at or below the threshold, and when the scan hits MaxSize without a hit
// the best near-miss position found along the way is used instead of a hard
// cap. The 64-byte warm-up shifts the starting hash value out entirely, so
// every candidate cutpoint depends only on the 64 bytes before it.
func cut(data []byte) int {
	n := uint64(len(data))
	if n <= MinSize {
		return int(n)
	}
	if n > MaxSize {
		n = MaxSize
	}

	regressionLen := n
	var regressionMask uint64 // 0 matches any hash

	var hash uint64 = math.MaxUint64

	// Warm the 64-bit window on the bytes just before the minimum size so
	// the first eligible cutpoint already has full context.
	var i uint64
	if MinSize > 64 {
		i = MinSize - 64
	}
	for ; i < MinSize; i++ {
		hash = (hash << 1) + gearTable[data[i]]
	}

	for ; i < n; i++ {
		if hash&regressionMask == 0 {
			if hash <= threshold {
				return int(i)
			}
			regressionLen = i
			regressionMask = math.MaxUint64
			for hash&regressionMask != 0 {
				regressionMask <<= 1
			}
		}
		hash = (hash << 1) + gearTable[data[i]]
	}

	if hash&regressionMask != 0 {
		return int(regressionLen)
	}
	return int(i)
}
