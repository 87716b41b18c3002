package wire

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// wireMessage is the on-wire envelope: the union tag and the
// msgpack-encoded payload.
type wireMessage struct {
	Typ MsgType `msgpack:"typ"`
	Dat []byte  `msgpack:"dat"`
}

// Marshal encodes a message into a single binary envelope.
func Marshal(msg *Message) ([]byte, error) {
	dat, err := msgpack.Marshal(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	return msgpack.Marshal(&wireMessage{Typ: msg.Type, Dat: dat})
}

// Unmarshal decodes one envelope into its typed payload. An unknown tag or
// a payload that does not decode is an error; the session must not continue
// past it.
func Unmarshal(data []byte) (*Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var payload any
	switch w.Typ {
	case MsgAuth:
		payload = &Auth{}
	case MsgHaveChunks:
		payload = &HaveChunks{}
	case MsgChunkData:
		payload = &ChunkData{}
	case MsgCommitTree:
		payload = &CommitTree{}
	case MsgListSnapshots:
		payload = &ListSnapshots{}
	case MsgRollback:
		payload = &Rollback{}
	case MsgAuthOk:
		payload = &AuthOk{}
	case MsgAuthFailed:
		payload = &AuthFailed{}
	case MsgNeedChunks:
		payload = &NeedChunks{}
	case MsgChunkAck:
		payload = &ChunkAck{}
	case MsgCommitOk:
		payload = &CommitOk{}
	case MsgCommitFailed:
		payload = &CommitFailed{}
	case MsgSnapshotList:
		payload = &SnapshotList{}
	case MsgRollbackOk:
		payload = &RollbackOk{}
	case MsgRollbackFailed:
		payload = &RollbackFailed{}
	default:
		return nil, fmt.Errorf("unknown message type: %d", w.Typ)
	}

	if err := msgpack.Unmarshal(w.Dat, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", w.Typ, err)
	}
	return &Message{Type: w.Typ, Data: payload}, nil
}

// Send writes one message as one binary websocket frame.
func Send(ctx context.Context, conn *websocket.Conn, msg *Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageBinary, data)
}

// Recv reads one binary websocket frame and decodes it.
func Recv(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("unexpected websocket message type: %v", typ)
	}
	return Unmarshal(data)
}
