package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/webpubio/webpub/internal/db"
	"github.com/webpubio/webpub/internal/merkle"
)

const shardSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	hash BLOB PRIMARY KEY,
	data BLOB NOT NULL
);
`

func (s *Store) shardPath(prefix byte) string {
	return filepath.Join(s.root, "chunks", fmt.Sprintf("%02x.db", prefix))
}

// shard returns the database for a hash prefix, opening it on first use.
func (s *Store) shard(prefix byte) (*sqlx.DB, error) {
	s.shardMu.Lock()
	defer s.shardMu.Unlock()

	if shard, ok := s.shards[prefix]; ok {
		return shard, nil
	}

	shard, err := db.NewSqliteDB(db.WithPath(s.shardPath(prefix)))
	if err != nil {
		return nil, fmt.Errorf("open shard %02x: %w", prefix, err)
	}
	if _, err := shard.Exec(shardSchema); err != nil {
		shard.Close()
		return nil, fmt.Errorf("init shard %02x: %w", prefix, err)
	}
	s.shards[prefix] = shard
	return shard, nil
}

// PutChunk stores a chunk. Inserting an existing hash is a no-op: the bytes
// behind equal content addresses are identical.
func (s *Store) PutChunk(hash merkle.Hash, data []byte) error {
	shard, err := s.shard(hash[0])
	if err != nil {
		return err
	}
	_, err = shard.Exec(`INSERT OR IGNORE INTO chunks (hash, data) VALUES (?, ?)`, hash[:], data)
	if err != nil {
		return fmt.Errorf("store chunk %s: %w", hash, err)
	}
	return nil
}

// GetChunk returns the chunk bytes, or ErrChunkNotFound.
func (s *Store) GetChunk(hash merkle.Hash) ([]byte, error) {
	shard, err := s.shard(hash[0])
	if err != nil {
		return nil, err
	}
	var data []byte
	err = shard.Get(&data, `SELECT data FROM chunks WHERE hash = ?`, hash[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", hash, err)
	}
	return data, nil
}

// HasChunk reports whether the chunk is present.
func (s *Store) HasChunk(hash merkle.Hash) (bool, error) {
	shard, err := s.shard(hash[0])
	if err != nil {
		return false, err
	}
	var one int
	err = shard.Get(&one, `SELECT 1 FROM chunks WHERE hash = ?`, hash[:])
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check chunk %s: %w", hash, err)
	}
	return true, nil
}

// Missing filters candidates down to the hashes not yet stored, preserving
// input order. Sync uses it to avoid transferring known chunks.
func (s *Store) Missing(candidates []merkle.Hash) ([]merkle.Hash, error) {
	var missing []merkle.Hash
	for _, hash := range candidates {
		ok, err := s.HasChunk(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, hash)
		}
	}
	return missing, nil
}

// DeleteChunk removes a single chunk row. Serving a tree that still
// references it will fail until the chunk is stored again.
func (s *Store) DeleteChunk(hash merkle.Hash) error {
	shard, err := s.shard(hash[0])
	if err != nil {
		return err
	}
	if _, err := shard.Exec(`DELETE FROM chunks WHERE hash = ?`, hash[:]); err != nil {
		return fmt.Errorf("delete chunk %s: %w", hash, err)
	}
	return nil
}

// GC deletes every chunk not reachable from any snapshot tree and returns
// the number of rows removed. It scans all shard files on disk, including
// ones never opened by this process.
func (s *Store) GC() (int64, error) {
	reachable, err := s.reachableChunks()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for prefix := 0; prefix < 256; prefix++ {
		p := byte(prefix)
		if _, err := os.Stat(s.shardPath(p)); err != nil {
			continue
		}
		n, err := s.gcShard(p, reachable)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (s *Store) reachableChunks() (map[merkle.Hash]struct{}, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var trees [][]byte
	if err := s.index.Select(&trees, `SELECT tree FROM snapshots`); err != nil {
		return nil, fmt.Errorf("load snapshot trees: %w", err)
	}

	reachable := make(map[merkle.Hash]struct{})
	for _, data := range trees {
		tree, err := merkle.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot tree: %w", err)
		}
		merkle.Walk(tree, func(n *merkle.Node) bool {
			for _, c := range n.Chunks {
				reachable[c] = struct{}{}
			}
			return true
		})
	}
	return reachable, nil
}

func (s *Store) gcShard(prefix byte, reachable map[merkle.Hash]struct{}) (int64, error) {
	shard, err := s.shard(prefix)
	if err != nil {
		return 0, err
	}

	var hashes [][]byte
	if err := shard.Select(&hashes, `SELECT hash FROM chunks`); err != nil {
		return 0, fmt.Errorf("scan shard %02x: %w", prefix, err)
	}

	tx, err := shard.Beginx()
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, raw := range hashes {
		if len(raw) != merkle.HashSize {
			continue
		}
		hash := merkle.Hash(raw)
		if _, ok := reachable[hash]; ok {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM chunks WHERE hash = ?`, raw); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("gc shard %02x: %w", prefix, err)
		}
		deleted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}
