package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webpubio/webpub/internal/merkle"
)

func testHash(b byte) merkle.Hash {
	var h merkle.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestCodec_AuthRoundTrip(t *testing.T) {
	data, err := Marshal(&Message{Type: MsgAuth, Data: &Auth{Token: "secret"}})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, MsgAuth, decoded.Type)

	auth, ok := decoded.Data.(*Auth)
	require.True(t, ok)
	require.Equal(t, "secret", auth.Token)
}

func TestCodec_HaveChunksRoundTrip(t *testing.T) {
	hashes := []merkle.Hash{testHash(1), testHash(2), testHash(3)}
	data, err := Marshal(&Message{Type: MsgHaveChunks, Data: &HaveChunks{Hashes: hashes}})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	hc, ok := decoded.Data.(*HaveChunks)
	require.True(t, ok)
	require.Equal(t, hashes, hc.Hashes)
}

func TestCodec_ChunkDataRoundTrip(t *testing.T) {
	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	data, err := Marshal(&Message{Type: MsgChunkData, Data: &ChunkData{Hash: testHash(7), Data: payload}})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	cd, ok := decoded.Data.(*ChunkData)
	require.True(t, ok)
	require.Equal(t, testHash(7), cd.Hash)
	require.Equal(t, payload, cd.Data)
}

func TestCodec_CommitTreeRoundTrip(t *testing.T) {
	file := merkle.NewFile("index.html", 0o644, 5, []merkle.Hash{testHash(9)})
	root := merkle.NewDirectory("", 0o755, []*merkle.Node{file})

	data, err := Marshal(&Message{Type: MsgCommitTree, Data: &CommitTree{Hostname: "test.local", Tree: root}})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	ct, ok := decoded.Data.(*CommitTree)
	require.True(t, ok)
	require.Equal(t, "test.local", ct.Hostname)
	require.Equal(t, root.Hash, ct.Tree.Hash)
	require.Len(t, ct.Tree.Children, 1)
	require.Equal(t, "index.html", ct.Tree.Children[0].Name)
}

func TestCodec_RollbackWithAndWithoutTarget(t *testing.T) {
	id := uint64(42)
	data, err := Marshal(&Message{Type: MsgRollback, Data: &Rollback{Hostname: "a", SnapshotID: &id}})
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	rb := decoded.Data.(*Rollback)
	require.NotNil(t, rb.SnapshotID)
	require.Equal(t, uint64(42), *rb.SnapshotID)

	data, err = Marshal(&Message{Type: MsgRollback, Data: &Rollback{Hostname: "a"}})
	require.NoError(t, err)
	decoded, err = Unmarshal(data)
	require.NoError(t, err)
	rb = decoded.Data.(*Rollback)
	require.Nil(t, rb.SnapshotID)
}

func TestCodec_EmptyReplies(t *testing.T) {
	for _, typ := range []MsgType{MsgAuthOk, MsgAuthFailed} {
		var payload any
		if typ == MsgAuthOk {
			payload = &AuthOk{}
		} else {
			payload = &AuthFailed{}
		}
		data, err := Marshal(&Message{Type: typ, Data: payload})
		require.NoError(t, err)
		decoded, err := Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, typ, decoded.Type)
	}
}

func TestCodec_SnapshotListRoundTrip(t *testing.T) {
	list := &SnapshotList{Snapshots: []SnapshotInfo{
		{ID: 2, CreatedAt: 1700000100, IsCurrent: true},
		{ID: 1, CreatedAt: 1700000000, IsCurrent: false},
	}}
	data, err := Marshal(&Message{Type: MsgSnapshotList, Data: list})
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	got := decoded.Data.(*SnapshotList)
	require.Equal(t, list.Snapshots, got.Snapshots)
}

func TestCodec_UnknownType(t *testing.T) {
	data, err := Marshal(&Message{Type: MsgType(200), Data: &Auth{}})
	require.NoError(t, err)

	_, err = Unmarshal(data)
	require.Error(t, err)
}

func TestCodec_GarbageEnvelope(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1, 0xff, 0x00})
	require.Error(t, err)
}
