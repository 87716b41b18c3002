package merkle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webpubio/webpub/internal/scanner"
)

func scanTemp(t *testing.T, files map[string]string) *scanner.Entry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	root, err := scanner.Scan(dir)
	require.NoError(t, err)
	return root
}

func TestBuild_SingleFile(t *testing.T) {
	root := scanTemp(t, map[string]string{"test.txt": "hello"})

	tree, chunks := Build(root)
	require.True(t, tree.IsDir())
	require.Len(t, tree.Children, 1)

	file := tree.Children[0]
	require.Equal(t, KindFile, file.Kind)
	require.Equal(t, "test.txt", file.Name)
	require.Equal(t, uint64(5), file.Size)
	require.Len(t, chunks, 1)
	require.Equal(t, Hash(chunks[0].Hash), file.Chunks[0])
}

func TestBuild_Deterministic(t *testing.T) {
	files := map[string]string{
		"a.txt":        "aaa",
		"b.txt":        "bbb",
		"sub/deep.txt": "deep",
	}
	tree1, _ := Build(scanTemp(t, files))
	tree2, _ := Build(scanTemp(t, files))
	require.Equal(t, tree1.Hash, tree2.Hash)
}

func TestBuild_HashChangesWithContent(t *testing.T) {
	tree1, _ := Build(scanTemp(t, map[string]string{"a.txt": "one"}))
	tree2, _ := Build(scanTemp(t, map[string]string{"a.txt": "two"}))
	require.NotEqual(t, tree1.Hash, tree2.Hash)
}

func TestBuild_HashChangesWithName(t *testing.T) {
	tree1, _ := Build(scanTemp(t, map[string]string{"a.txt": "same"}))
	tree2, _ := Build(scanTemp(t, map[string]string{"b.txt": "same"}))
	require.NotEqual(t, tree1.Hash, tree2.Hash)
}

func TestBuild_HashChangesWithPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	root1, err := scanner.Scan(dir)
	require.NoError(t, err)
	tree1, _ := Build(root1)

	require.NoError(t, os.Chmod(path, 0o755))
	root2, err := scanner.Scan(dir)
	require.NoError(t, err)
	tree2, _ := Build(root2)

	require.NotEqual(t, tree1.Hash, tree2.Hash)
}

func TestBuild_EmptyDirPreserved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0o755))
	root, err := scanner.Scan(dir)
	require.NoError(t, err)

	tree, chunks := Build(root)
	require.Empty(t, chunks)
	require.Len(t, tree.Children, 1)
	require.True(t, tree.Children[0].IsDir())
	require.Empty(t, tree.Children[0].Children)
}

func TestBuild_DuplicateContentDuplicateChunks(t *testing.T) {
	tree, chunks := Build(scanTemp(t, map[string]string{
		"one.txt": "identical content",
		"two.txt": "identical content",
	}))
	// Both files chunk identically; the builder keeps both copies and the
	// writer deduplicates downstream.
	require.Len(t, chunks, 2)
	require.Equal(t, chunks[0].Hash, chunks[1].Hash)
	require.Equal(t, tree.Children[0].Hash, tree.Children[1].Hash)
}

func TestNode_MarshalRoundTrip(t *testing.T) {
	tree, _ := Build(scanTemp(t, map[string]string{
		"index.html":     "<html></html>",
		"assets/app.css": "body {}",
	}))

	data, err := Marshal(tree)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, tree.Hash, decoded.Hash)
	require.Equal(t, len(tree.Children), len(decoded.Children))
	require.Equal(t, tree.Children[0].Name, decoded.Children[0].Name)
}

func TestUnmarshal_RejectsBadName(t *testing.T) {
	bad := &Node{
		Kind: KindDirectory,
		Children: []*Node{
			{Kind: KindFile, Name: "../escape", Permissions: 0o644},
		},
	}
	data, err := Marshal(bad)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.Error(t, err)
}

func TestUnmarshal_RejectsUnsortedChildren(t *testing.T) {
	bad := &Node{
		Kind: KindDirectory,
		Children: []*Node{
			{Kind: KindFile, Name: "b", Permissions: 0o644},
			{Kind: KindFile, Name: "a", Permissions: 0o644},
		},
	}
	data, err := Marshal(bad)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.Error(t, err)
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte("not msgpack at all"))
	require.Error(t, err)
}

func TestWalk_PreOrder(t *testing.T) {
	tree, _ := Build(scanTemp(t, map[string]string{
		"a.txt":     "a",
		"sub/b.txt": "b",
	}))

	var names []string
	Walk(tree, func(n *Node) bool {
		names = append(names, n.Name)
		return true
	})
	require.Equal(t, []string{"", "a.txt", "sub", "b.txt"}, names)
}
