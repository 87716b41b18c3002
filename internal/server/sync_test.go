package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/webpubio/webpub/internal/client"
	"github.com/webpubio/webpub/internal/merkle"
	"github.com/webpubio/webpub/internal/store"
	"github.com/webpubio/webpub/internal/wire"
)

type syncFixture struct {
	store *store.Store
	token string
	sync  *httptest.Server
	site  *httptest.Server
}

func newSyncFixture(t *testing.T, keep int) *syncFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	token, err := st.AddToken()
	require.NoError(t, err)

	sync := httptest.NewServer(syncRoutes(newSyncHandler(st, keep)))
	t.Cleanup(sync.Close)

	sites, err := newSiteHandler(st)
	require.NoError(t, err)
	site := httptest.NewServer(siteRoutes(sites))
	t.Cleanup(site.Close)

	return &syncFixture{store: st, token: token, sync: sync, site: site}
}

func writeSite(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func (f *syncFixture) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	c, err := client.Dial(ctx, f.sync.URL, f.token)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSync_PushAndServe(t *testing.T) {
	f := newSyncFixture(t, 10)
	dir := writeSite(t, map[string]string{
		"hello.txt":        "Hello!",
		"subdir/world.txt": "World!",
	})

	c := f.dial(t)
	id, err := c.Push(context.Background(), dir, "test.local")
	require.NoError(t, err)
	require.NotZero(t, id)

	resp := siteGet(t, f.site, "test.local", "/hello.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Hello!", readAll(t, resp))

	resp = siteGet(t, f.site, "test.local", "/subdir/world.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "World!", readAll(t, resp))

	resp = siteGet(t, f.site, "test.local", "/index.html")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSync_BadTokenRejected(t *testing.T) {
	f := newSyncFixture(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.Dial(ctx, f.sync.URL, "not-a-token")
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestSync_RevokedTokenRejected(t *testing.T) {
	f := newSyncFixture(t, 10)
	removed, err := f.store.RevokeToken(f.token)
	require.NoError(t, err)
	require.True(t, removed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.Dial(ctx, f.sync.URL, f.token)
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestSync_SecondPushTransfersNothing(t *testing.T) {
	f := newSyncFixture(t, 10)
	dir := writeSite(t, map[string]string{"page.html": "<html>same content</html>"})

	c1 := f.dial(t)
	id1, err := c1.Push(context.Background(), dir, "test.local")
	require.NoError(t, err)

	// Everything from the first push is stored, so the second negotiation
	// reports nothing missing and only the commit travels.
	_, tree1, err := f.store.Current("test.local")
	require.NoError(t, err)
	var refs []merkle.Hash
	merkle.Walk(tree1, func(n *merkle.Node) bool {
		refs = append(refs, n.Chunks...)
		return true
	})
	missing, err := f.store.Missing(refs)
	require.NoError(t, err)
	require.Empty(t, missing)

	c2 := f.dial(t)
	id2, err := c2.Push(context.Background(), dir, "test.local")
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	entries, err := f.store.List("test.local")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].IsCurrent)
	require.False(t, entries[1].IsCurrent)
}

func TestSync_ListAndRollback(t *testing.T) {
	f := newSyncFixture(t, 10)

	dirV1 := writeSite(t, map[string]string{"page.txt": "version one"})
	dirV2 := writeSite(t, map[string]string{"page.txt": "version two"})

	c := f.dial(t)
	id1, err := c.Push(context.Background(), dirV1, "test.local")
	require.NoError(t, err)
	id2, err := c.Push(context.Background(), dirV2, "test.local")
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	resp := siteGet(t, f.site, "test.local", "/page.txt")
	require.Equal(t, "version two", readAll(t, resp))

	snapshots, err := c.List(context.Background(), "test.local")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, id2, snapshots[0].ID)
	require.True(t, snapshots[0].IsCurrent)

	// Rollback without a target moves to the previous snapshot and the
	// site reflects the older bytes immediately.
	rolledTo, err := c.Rollback(context.Background(), "test.local", nil)
	require.NoError(t, err)
	require.Equal(t, id1, rolledTo)

	resp = siteGet(t, f.site, "test.local", "/page.txt")
	require.Equal(t, "version one", readAll(t, resp))
}

func TestSync_RollbackWithoutPrevious(t *testing.T) {
	f := newSyncFixture(t, 10)
	dir := writeSite(t, map[string]string{"a.txt": "only"})

	c := f.dial(t)
	_, err := c.Push(context.Background(), dir, "test.local")
	require.NoError(t, err)

	_, err = c.Rollback(context.Background(), "test.local", nil)
	require.ErrorContains(t, err, "no previous snapshot")
}

func TestSync_RetentionPrunes(t *testing.T) {
	f := newSyncFixture(t, 2)

	c := f.dial(t)
	for _, content := range []string{"v1", "v2", "v3", "v4"} {
		dir := writeSite(t, map[string]string{"a.txt": content})
		_, err := c.Push(context.Background(), dir, "test.local")
		require.NoError(t, err)
	}

	entries, err := f.store.List("test.local")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].IsCurrent)
}

func TestSync_CommitWithMissingChunksFails(t *testing.T) {
	f := newSyncFixture(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.sync.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wire.Send(ctx, conn, &wire.Message{Type: wire.MsgAuth, Data: &wire.Auth{Token: f.token}}))
	reply, err := wire.Recv(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, wire.MsgAuthOk, reply.Type)

	// Commit a tree referencing a chunk that was never uploaded.
	var fake merkle.Hash
	fake[0] = 0x99
	file := merkle.NewFile("ghost.txt", 0o644, 4, []merkle.Hash{fake})
	root := merkle.NewDirectory("", 0o755, []*merkle.Node{file})

	require.NoError(t, wire.Send(ctx, conn, &wire.Message{
		Type: wire.MsgCommitTree,
		Data: &wire.CommitTree{Hostname: "test.local", Tree: root},
	}))
	reply, err = wire.Recv(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, wire.MsgCommitFailed, reply.Type)
	require.Contains(t, reply.Data.(*wire.CommitFailed).Reason, "missing 1 chunks")

	// No snapshot became visible.
	_, _, err = f.store.Current("test.local")
	require.ErrorIs(t, err, store.ErrSiteNotFound)

	// The session survives a rejected commit: upload the chunk and retry
	// on the same connection.
	require.NoError(t, wire.Send(ctx, conn, &wire.Message{
		Type: wire.MsgChunkData,
		Data: &wire.ChunkData{Hash: fake, Data: []byte("boo!")},
	}))
	reply, err = wire.Recv(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, wire.MsgChunkAck, reply.Type)

	require.NoError(t, wire.Send(ctx, conn, &wire.Message{
		Type: wire.MsgCommitTree,
		Data: &wire.CommitTree{Hostname: "test.local", Tree: root},
	}))
	reply, err = wire.Recv(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, wire.MsgCommitOk, reply.Type)
}

func TestSync_FirstMessageMustBeAuth(t *testing.T) {
	f := newSyncFixture(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.sync.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wire.Send(ctx, conn, &wire.Message{
		Type: wire.MsgHaveChunks,
		Data: &wire.HaveChunks{},
	}))
	// The server drops the connection without replying.
	_, err = wire.Recv(ctx, conn)
	require.Error(t, err)
}

func TestSync_AtomicFlipUnderReaders(t *testing.T) {
	f := newSyncFixture(t, 10)

	dirA := writeSite(t, map[string]string{"page.txt": "aaaaaaaaaaaaaaaa"})
	dirB := writeSite(t, map[string]string{"page.txt": "bbbbbbbbbbbbbbbb"})

	c := f.dial(t)
	_, err := c.Push(context.Background(), dirA, "test.local")
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var bodies []string
	wg.Add(4)
	for range 4 {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				req, _ := http.NewRequest(http.MethodGet, f.site.URL+"/page.txt", nil)
				req.Host = "test.local"
				resp, err := f.site.Client().Do(req)
				if err != nil {
					continue
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				if err != nil {
					continue
				}
				mu.Lock()
				bodies = append(bodies, string(body))
				mu.Unlock()
			}
		}()
	}

	for range 5 {
		_, err := c.Push(context.Background(), dirB, "test.local")
		require.NoError(t, err)
		_, err = c.Push(context.Background(), dirA, "test.local")
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	// Every response is entirely one version; no reader ever saw a blend.
	require.NotEmpty(t, bodies)
	for _, b := range bodies {
		require.Contains(t, []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb"}, b)
	}
}
