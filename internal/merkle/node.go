// Package merkle defines the content-addressed tree that mirrors a scanned
// directory and the builder that produces it. Node identities are BLAKE3
// hashes, so two semantically identical trees have the same root hash on any
// host.
package merkle

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// HashSize is the byte length of a content address.
const HashSize = 32

// Hash is a BLAKE3 content address. It travels as msgpack bin.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(h[:])
}

func (h *Hash) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}

// Kind discriminates the node union.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
)

// Node is a file or directory in the tree. Kind selects which fields are
// meaningful: files carry Size and Chunks, directories carry Children. The
// root directory has an empty name.
type Node struct {
	Kind        Kind    `msgpack:"kind"`
	Name        string  `msgpack:"name"`
	Permissions uint32  `msgpack:"mode"`
	Size        uint64  `msgpack:"size,omitempty"`
	Chunks      []Hash  `msgpack:"chunks,omitempty"`
	Children    []*Node `msgpack:"children,omitempty"`
	Hash        Hash    `msgpack:"hash"`
}

func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// Child returns the child with the given name, or nil. Children are sorted,
// but directories are small enough that a linear scan keeps this simple.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// NewFile builds a file node. The node hash is the BLAKE3 digest of the
// chunk hashes concatenated in order.
func NewFile(name string, permissions uint32, size uint64, chunks []Hash) *Node {
	h := blake3.New()
	for _, c := range chunks {
		h.Write(c[:])
	}
	return &Node{
		Kind:        KindFile,
		Name:        name,
		Permissions: permissions,
		Size:        size,
		Chunks:      chunks,
		Hash:        Hash(h.Sum(nil)),
	}
}

// NewDirectory builds a directory node over already-hashed children. The
// node hash covers each child's name bytes, permissions (4 bytes
// little-endian) and hash, in child order, so any rename, chmod or content
// change below propagates to the root.
func NewDirectory(name string, permissions uint32, children []*Node) *Node {
	h := blake3.New()
	var mode [4]byte
	for _, c := range children {
		h.Write([]byte(c.Name))
		binary.LittleEndian.PutUint32(mode[:], c.Permissions)
		h.Write(mode[:])
		h.Write(c.Hash[:])
	}
	return &Node{
		Kind:        KindDirectory,
		Name:        name,
		Permissions: permissions,
		Children:    children,
		Hash:        Hash(h.Sum(nil)),
	}
}

// Marshal serializes a tree with msgpack.
func Marshal(n *Node) ([]byte, error) {
	return msgpack.Marshal(n)
}

// Unmarshal deserializes a tree and rejects structurally invalid nodes.
func Unmarshal(data []byte) (*Node, error) {
	var n Node
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	if err := Validate(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validate checks structural invariants: known kinds, legal names, sorted
// unique children, no children on files. Trees arriving from the wire or
// from an archive must pass before any path from them touches a filesystem.
func Validate(root *Node) error {
	return validate(root, true)
}

// Walk visits the tree in pre-order. Returning false from visit stops the
// walk. The walk is iterative so tree depth is bounded by memory, not the
// goroutine stack.
func Walk(root *Node, visit func(*Node) bool) {
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

func validate(n *Node, isRoot bool) error {
	switch n.Kind {
	case KindFile, KindDirectory:
	default:
		return fmt.Errorf("invalid node kind %d", n.Kind)
	}
	if err := checkName(n.Name, isRoot); err != nil {
		return err
	}
	if n.Kind == KindFile && len(n.Children) > 0 {
		return fmt.Errorf("file node %q has children", n.Name)
	}
	prev := ""
	for i, c := range n.Children {
		if i > 0 && c.Name <= prev {
			return fmt.Errorf("children of %q not sorted or not unique at %q", n.Name, c.Name)
		}
		prev = c.Name
		if err := validate(c, false); err != nil {
			return err
		}
	}
	return nil
}

func checkName(name string, isRoot bool) error {
	if name == "" {
		if isRoot {
			return nil
		}
		return fmt.Errorf("empty node name")
	}
	if isRoot {
		return fmt.Errorf("root node must have an empty name, got %q", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid node name %q", name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return fmt.Errorf("invalid node name %q", name)
		}
	}
	return nil
}
