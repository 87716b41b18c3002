// Package client implements the publishing side of the sync protocol: scan,
// build, negotiate missing chunks, upload, commit. A failed push leaves
// uploaded chunks on the server, so a retry transfers only what is still
// missing.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"

	"github.com/webpubio/webpub/internal/chunker"
	"github.com/webpubio/webpub/internal/merkle"
	"github.com/webpubio/webpub/internal/scanner"
	"github.com/webpubio/webpub/internal/wire"
)

// ErrUnauthorized reports a rejected token.
var ErrUnauthorized = errors.New("authentication failed")

// haveBatchSize is how many hashes go into one HaveChunks request. Any
// value works; this keeps frames small without chatty round trips.
const haveBatchSize = 100

const maxMessageSize = 256 << 20

// Client is one authenticated sync connection.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a sync endpoint and authenticates. The returned client
// must be closed.
func Dial(ctx context.Context, serverURL, token string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{conn: conn}
	reply, err := c.roundTrip(ctx, &wire.Message{Type: wire.MsgAuth, Data: &wire.Auth{Token: token}})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	switch reply.Data.(type) {
	case *wire.AuthOk:
		return c, nil
	case *wire.AuthFailed:
		conn.CloseNow()
		return nil, ErrUnauthorized
	default:
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected reply %s to Auth", reply.Type)
	}
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// roundTrip sends one request and reads its single reply.
func (c *Client) roundTrip(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if err := wire.Send(ctx, c.conn, msg); err != nil {
		return nil, err
	}
	return wire.Recv(ctx, c.conn)
}

// Push publishes the directory under hostname and returns the new snapshot
// id. Only chunks the server reports missing are transferred.
func (c *Client) Push(ctx context.Context, dir, hostname string) (uint64, error) {
	root, err := scanner.Scan(dir)
	if err != nil {
		return 0, err
	}
	tree, chunks := merkle.Build(root)
	slog.Info("scanned", "dir", dir, "chunks", len(chunks), "root", tree.Hash)

	need, err := c.negotiate(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if err := c.upload(ctx, need); err != nil {
		return 0, err
	}

	reply, err := c.roundTrip(ctx, &wire.Message{
		Type: wire.MsgCommitTree,
		Data: &wire.CommitTree{Hostname: hostname, Tree: tree},
	})
	if err != nil {
		return 0, err
	}
	switch data := reply.Data.(type) {
	case *wire.CommitOk:
		return data.SnapshotID, nil
	case *wire.CommitFailed:
		return 0, fmt.Errorf("commit failed: %s", data.Reason)
	default:
		return 0, fmt.Errorf("unexpected reply %s to CommitTree", reply.Type)
	}
}

// negotiate batches HaveChunks requests and collects the chunks the server
// needs, deduplicated across batches: a hash already scheduled is not sent
// twice even when several files share it.
func (c *Client) negotiate(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	byHash := make(map[merkle.Hash]chunker.Chunk, len(chunks))
	var hashes []merkle.Hash
	for _, chunk := range chunks {
		hash := merkle.Hash(chunk.Hash)
		if _, ok := byHash[hash]; ok {
			continue
		}
		byHash[hash] = chunk
		hashes = append(hashes, hash)
	}

	var need []chunker.Chunk
	for start := 0; start < len(hashes); start += haveBatchSize {
		end := min(start+haveBatchSize, len(hashes))

		reply, err := c.roundTrip(ctx, &wire.Message{
			Type: wire.MsgHaveChunks,
			Data: &wire.HaveChunks{Hashes: hashes[start:end]},
		})
		if err != nil {
			return nil, err
		}
		needed, ok := reply.Data.(*wire.NeedChunks)
		if !ok {
			return nil, fmt.Errorf("unexpected reply %s to HaveChunks", reply.Type)
		}
		for _, hash := range needed.Hashes {
			chunk, ok := byHash[hash]
			if !ok {
				return nil, fmt.Errorf("server needs unknown chunk %s", hash)
			}
			need = append(need, chunk)
		}
	}
	return need, nil
}

func (c *Client) upload(ctx context.Context, chunks []chunker.Chunk) error {
	var sent uint64
	for _, chunk := range chunks {
		reply, err := c.roundTrip(ctx, &wire.Message{
			Type: wire.MsgChunkData,
			Data: &wire.ChunkData{Hash: merkle.Hash(chunk.Hash), Data: chunk.Data},
		})
		if err != nil {
			return err
		}
		if _, ok := reply.Data.(*wire.ChunkAck); !ok {
			return fmt.Errorf("unexpected reply %s to ChunkData", reply.Type)
		}
		sent += uint64(len(chunk.Data))
	}
	slog.Info("uploaded", "chunks", len(chunks), "bytes", humanize.Bytes(sent))
	return nil
}

// List returns the server's snapshots for hostname, newest first.
func (c *Client) List(ctx context.Context, hostname string) ([]wire.SnapshotInfo, error) {
	reply, err := c.roundTrip(ctx, &wire.Message{
		Type: wire.MsgListSnapshots,
		Data: &wire.ListSnapshots{Hostname: hostname},
	})
	if err != nil {
		return nil, err
	}
	list, ok := reply.Data.(*wire.SnapshotList)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %s to ListSnapshots", reply.Type)
	}
	return list.Snapshots, nil
}

// Rollback moves hostname's current pointer to snapshotID, or to the
// previous snapshot when snapshotID is nil.
func (c *Client) Rollback(ctx context.Context, hostname string, snapshotID *uint64) (uint64, error) {
	reply, err := c.roundTrip(ctx, &wire.Message{
		Type: wire.MsgRollback,
		Data: &wire.Rollback{Hostname: hostname, SnapshotID: snapshotID},
	})
	if err != nil {
		return 0, err
	}
	switch data := reply.Data.(type) {
	case *wire.RollbackOk:
		return data.SnapshotID, nil
	case *wire.RollbackFailed:
		return 0, fmt.Errorf("rollback failed: %s", data.Reason)
	default:
		return 0, fmt.Errorf("unexpected reply %s to Rollback", reply.Type)
	}
}
