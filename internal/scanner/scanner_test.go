package scanner

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScan_Basic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("Hello!"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subdir", "world.txt"), []byte("World!"), 0o644))

	root, err := Scan(dir)
	require.NoError(t, err)
	require.Equal(t, "", root.Name)
	require.True(t, root.IsDir)
	require.Len(t, root.Children, 2)

	require.Equal(t, "hello.txt", root.Children[0].Name)
	require.Equal(t, []byte("Hello!"), root.Children[0].Data)
	require.Equal(t, uint64(6), root.Children[0].Size)

	sub := root.Children[1]
	require.Equal(t, "subdir", sub.Name)
	require.True(t, sub.IsDir)
	require.Len(t, sub.Children, 1)
	require.Equal(t, "world.txt", sub.Children[0].Name)
}

func TestScan_ChildrenSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "Beta", "10", "2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	root, err := Scan(dir)
	require.NoError(t, err)

	var names []string
	for _, c := range root.Children {
		names = append(names, c.Name)
	}
	// Raw byte order: digits before uppercase before lowercase.
	require.Equal(t, []string{"10", "2", "Beta", "alpha", "zeta"}, names)
}

func TestScan_SkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("data"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")))

	root, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Equal(t, "real.txt", root.Children[0].Name)
}

func TestScan_EmptyDirPreserved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0o755))

	root, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.True(t, root.Children[0].IsDir)
	require.Empty(t, root.Children[0].Children)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestScan_RootIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Scan(file)
	require.Error(t, err)
}

func TestScan_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exec.sh"), []byte("#!/bin/sh\n"), 0o755))

	root, err := Scan(dir)
	require.NoError(t, err)
	require.Equal(t, uint32(0o755), root.Children[0].Permissions)
}
