// Package wire defines the typed messages of the sync protocol and their
// msgpack framing over a websocket. Every transport frame carries exactly
// one envelope; a frame that fails to decode is a fatal protocol error and
// terminates the session.
package wire

import (
	"github.com/webpubio/webpub/internal/merkle"
)

// MsgType tags the envelope union.
type MsgType uint8

// Client to server.
const (
	MsgAuth MsgType = iota + 1
	MsgHaveChunks
	MsgChunkData
	MsgCommitTree
	MsgListSnapshots
	MsgRollback
)

// Server to client.
const (
	MsgAuthOk MsgType = iota + 32
	MsgAuthFailed
	MsgNeedChunks
	MsgChunkAck
	MsgCommitOk
	MsgCommitFailed
	MsgSnapshotList
	MsgRollbackOk
	MsgRollbackFailed
)

func (t MsgType) String() string {
	switch t {
	case MsgAuth:
		return "Auth"
	case MsgHaveChunks:
		return "HaveChunks"
	case MsgChunkData:
		return "ChunkData"
	case MsgCommitTree:
		return "CommitTree"
	case MsgListSnapshots:
		return "ListSnapshots"
	case MsgRollback:
		return "Rollback"
	case MsgAuthOk:
		return "AuthOk"
	case MsgAuthFailed:
		return "AuthFailed"
	case MsgNeedChunks:
		return "NeedChunks"
	case MsgChunkAck:
		return "ChunkAck"
	case MsgCommitOk:
		return "CommitOk"
	case MsgCommitFailed:
		return "CommitFailed"
	case MsgSnapshotList:
		return "SnapshotList"
	case MsgRollbackOk:
		return "RollbackOk"
	case MsgRollbackFailed:
		return "RollbackFailed"
	default:
		return "Unknown"
	}
}

// Message is one protocol envelope: a type tag plus its typed payload.
type Message struct {
	Type MsgType
	Data any
}

type Auth struct {
	Token string `msgpack:"token"`
}

type HaveChunks struct {
	Hashes []merkle.Hash `msgpack:"hashes"`
}

type ChunkData struct {
	Hash merkle.Hash `msgpack:"hash"`
	Data []byte      `msgpack:"data"`
}

type CommitTree struct {
	Hostname string       `msgpack:"hostname"`
	Tree     *merkle.Node `msgpack:"tree"`
}

type ListSnapshots struct {
	Hostname string `msgpack:"hostname"`
}

// Rollback targets a specific snapshot, or the previous one when SnapshotID
// is nil.
type Rollback struct {
	Hostname   string  `msgpack:"hostname"`
	SnapshotID *uint64 `msgpack:"snapshot_id"`
}

type AuthOk struct{}

type AuthFailed struct{}

type NeedChunks struct {
	Hashes []merkle.Hash `msgpack:"hashes"`
}

type ChunkAck struct {
	Hash merkle.Hash `msgpack:"hash"`
}

type CommitOk struct {
	SnapshotID uint64 `msgpack:"snapshot_id"`
}

type CommitFailed struct {
	Reason string `msgpack:"reason"`
}

// SnapshotInfo is one row of a SnapshotList reply. CreatedAt is epoch
// seconds.
type SnapshotInfo struct {
	ID        uint64 `msgpack:"id"`
	CreatedAt int64  `msgpack:"created_at"`
	IsCurrent bool   `msgpack:"is_current"`
}

type SnapshotList struct {
	Snapshots []SnapshotInfo `msgpack:"snapshots"`
}

type RollbackOk struct {
	SnapshotID uint64 `msgpack:"snapshot_id"`
}

type RollbackFailed struct {
	Reason string `msgpack:"reason"`
}
