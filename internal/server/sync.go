package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/webpubio/webpub/internal/merkle"
	"github.com/webpubio/webpub/internal/store"
	"github.com/webpubio/webpub/internal/utils"
	"github.com/webpubio/webpub/internal/wire"
)

// Trees and chunk frames are well under this; anything larger is a broken
// or hostile peer.
const maxSyncMessageSize = 256 << 20

// syncHandler upgrades connections and runs one session per connection.
type syncHandler struct {
	store *store.Store
	keep  int
}

func newSyncHandler(st *store.Store, keep int) *syncHandler {
	return &syncHandler{store: st, keep: keep}
}

func (h *syncHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("sync accept", "error", err, "remote", c.ClientIP())
		return
	}
	conn.SetReadLimit(maxSyncMessageSize)

	sess := &syncSession{
		connID: utils.TokenHex(4),
		conn:   conn,
		store:  h.store,
		keep:   h.keep,
	}
	sess.run(c.Request.Context())
}

// syncSession is the per-connection state machine: Auth first, then
// have/need negotiation, chunk uploads and commits in receive order, one
// reply per request.
type syncSession struct {
	connID string
	conn   *websocket.Conn
	store  *store.Store
	keep   int
}

func (s *syncSession) run(ctx context.Context) {
	defer s.conn.CloseNow()
	slog.Debug("sync session start", "connId", s.connID)

	if err := s.handshake(ctx); err != nil {
		if !isClosed(err) {
			slog.Warn("sync handshake", "connId", s.connID, "error", err)
		}
		return
	}

	for {
		msg, err := wire.Recv(ctx, s.conn)
		if err != nil {
			if !isClosed(err) {
				slog.Warn("sync recv", "connId", s.connID, "error", err)
			}
			return
		}

		reply, err := s.handle(msg)
		if err != nil {
			// Protocol violations and storage failures both end the
			// session; uploaded chunks stay behind for the retry.
			slog.Error("sync handle", "connId", s.connID, "msgType", msg.Type, "error", err)
			s.conn.Close(websocket.StatusInternalError, "internal error")
			return
		}
		if err := wire.Send(ctx, s.conn, reply); err != nil {
			if !isClosed(err) {
				slog.Warn("sync send", "connId", s.connID, "error", err)
			}
			return
		}
	}
}

// handshake enforces that the first message is Auth with a known token.
func (s *syncSession) handshake(ctx context.Context) error {
	msg, err := wire.Recv(ctx, s.conn)
	if err != nil {
		return err
	}
	auth, ok := msg.Data.(*wire.Auth)
	if !ok {
		return fmt.Errorf("expected Auth, got %s", msg.Type)
	}

	valid, err := s.store.VerifyToken(auth.Token)
	if err != nil {
		return err
	}
	if !valid {
		// Reply then close: the client gets a definitive rejection
		// instead of a dropped connection.
		wire.Send(ctx, s.conn, &wire.Message{Type: wire.MsgAuthFailed, Data: &wire.AuthFailed{}})
		s.conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return fmt.Errorf("unknown token")
	}

	slog.Debug("sync authed", "connId", s.connID)
	return wire.Send(ctx, s.conn, &wire.Message{Type: wire.MsgAuthOk, Data: &wire.AuthOk{}})
}

func (s *syncSession) handle(msg *wire.Message) (*wire.Message, error) {
	switch data := msg.Data.(type) {
	case *wire.HaveChunks:
		return s.handleHaveChunks(data)
	case *wire.ChunkData:
		return s.handleChunkData(data)
	case *wire.CommitTree:
		return s.handleCommit(data)
	case *wire.ListSnapshots:
		return s.handleList(data)
	case *wire.Rollback:
		return s.handleRollback(data)
	default:
		return nil, fmt.Errorf("unexpected message %s", msg.Type)
	}
}

func (s *syncSession) handleHaveChunks(msg *wire.HaveChunks) (*wire.Message, error) {
	missing, err := s.store.Missing(msg.Hashes)
	if err != nil {
		return nil, err
	}
	return &wire.Message{Type: wire.MsgNeedChunks, Data: &wire.NeedChunks{Hashes: missing}}, nil
}

func (s *syncSession) handleChunkData(msg *wire.ChunkData) (*wire.Message, error) {
	if err := s.store.PutChunk(msg.Hash, msg.Data); err != nil {
		return nil, err
	}
	return &wire.Message{Type: wire.MsgChunkAck, Data: &wire.ChunkAck{Hash: msg.Hash}}, nil
}

func (s *syncSession) handleCommit(msg *wire.CommitTree) (*wire.Message, error) {
	if msg.Tree == nil {
		return nil, fmt.Errorf("commit without tree")
	}
	if err := merkle.Validate(msg.Tree); err != nil {
		return commitFailed(fmt.Sprintf("invalid tree: %v", err)), nil
	}

	// Full tree verification before the snapshot becomes visible: every
	// referenced chunk must already be stored.
	missing, err := s.missingTreeChunks(msg.Tree)
	if err != nil {
		return nil, err
	}
	if missing > 0 {
		return commitFailed(fmt.Sprintf("missing %d chunks", missing)), nil
	}

	id, err := s.store.CreateSnapshot(msg.Hostname, msg.Tree)
	if err != nil {
		return nil, err
	}

	if pruned, err := s.store.Prune(msg.Hostname, s.keep); err != nil {
		slog.Warn("snapshot prune", "hostname", msg.Hostname, "error", err)
	} else if pruned > 0 {
		slog.Debug("snapshot prune", "hostname", msg.Hostname, "removed", pruned)
	}

	slog.Info("deployed", "hostname", msg.Hostname, "snapshot", id, "connId", s.connID)
	return &wire.Message{Type: wire.MsgCommitOk, Data: &wire.CommitOk{SnapshotID: id}}, nil
}

func (s *syncSession) missingTreeChunks(tree *merkle.Node) (int, error) {
	var refs []merkle.Hash
	merkle.Walk(tree, func(n *merkle.Node) bool {
		refs = append(refs, n.Chunks...)
		return true
	})
	missing, err := s.store.Missing(refs)
	if err != nil {
		return 0, err
	}
	return len(missing), nil
}

func (s *syncSession) handleList(msg *wire.ListSnapshots) (*wire.Message, error) {
	entries, err := s.store.List(msg.Hostname)
	if err != nil {
		return nil, err
	}
	infos := make([]wire.SnapshotInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, wire.SnapshotInfo{
			ID:        e.ID,
			CreatedAt: e.CreatedAt,
			IsCurrent: e.IsCurrent,
		})
	}
	return &wire.Message{Type: wire.MsgSnapshotList, Data: &wire.SnapshotList{Snapshots: infos}}, nil
}

func (s *syncSession) handleRollback(msg *wire.Rollback) (*wire.Message, error) {
	var target uint64
	if msg.SnapshotID != nil {
		target = *msg.SnapshotID
	} else {
		// No explicit target: the snapshot right before the newest.
		entries, err := s.store.List(msg.Hostname)
		if err != nil {
			return nil, err
		}
		if len(entries) < 2 {
			return rollbackFailed("no previous snapshot to rollback to"), nil
		}
		target = entries[1].ID
	}

	ok, err := s.store.SetCurrent(msg.Hostname, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rollbackFailed("snapshot not found"), nil
	}

	slog.Info("rolled back", "hostname", msg.Hostname, "snapshot", target, "connId", s.connID)
	return &wire.Message{Type: wire.MsgRollbackOk, Data: &wire.RollbackOk{SnapshotID: target}}, nil
}

func commitFailed(reason string) *wire.Message {
	return &wire.Message{Type: wire.MsgCommitFailed, Data: &wire.CommitFailed{Reason: reason}}
}

func rollbackFailed(reason string) *wire.Message {
	return &wire.Message{Type: wire.MsgRollbackFailed, Data: &wire.RollbackFailed{Reason: reason}}
}

func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusNoStatusRcvd || status == websocket.StatusGoingAway
}
