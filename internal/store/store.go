// Package store owns the server's persistent state: a content-addressed
// chunk pool sharded across 256 SQLite databases, and a single index
// database holding sites, snapshots and tokens.
//
// Layout under the data directory:
//
//	index.db          sites, snapshots, tokens
//	chunks/00.db ..   one shard per first hash byte
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/webpubio/webpub/internal/db"
	"github.com/webpubio/webpub/internal/utils"
)

var (
	// ErrChunkNotFound reports a dangling content address.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrSiteNotFound reports a hostname with no current snapshot.
	ErrSiteNotFound = errors.New("site not found")
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS sites (
	hostname TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname TEXT NOT NULL REFERENCES sites(hostname),
	root_hash BLOB NOT NULL,
	tree BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	is_current INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_snapshots_hostname ON snapshots(hostname);
CREATE INDEX IF NOT EXISTS idx_snapshots_current ON snapshots(hostname, is_current);

CREATE TABLE IF NOT EXISTS tokens (
	token TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
`

// Store is safe for concurrent use. Snapshot transactions serialize behind
// one mutex so readers never observe a half-flipped current pointer; shards
// open lazily and operations on different shards do not block each other.
type Store struct {
	root  string
	index *sqlx.DB

	// indexMu linearises the multi-statement snapshot transactions.
	indexMu sync.Mutex

	shardMu sync.Mutex
	shards  map[byte]*sqlx.DB
}

// Open creates or opens a store rooted at the given data directory.
func Open(root string) (*Store, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := utils.EnsureDir(filepath.Join(root, "chunks")); err != nil {
		return nil, fmt.Errorf("create chunks dir: %w", err)
	}

	index, err := db.NewSqliteDB(db.WithPath(filepath.Join(root, "index.db")))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := index.Exec(indexSchema); err != nil {
		index.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}

	return &Store{
		root:   root,
		index:  index,
		shards: make(map[byte]*sqlx.DB),
	}, nil
}

// Close releases the index and every opened shard.
func (s *Store) Close() error {
	var errs []error

	s.shardMu.Lock()
	for _, shard := range s.shards {
		if err := shard.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.shards = make(map[byte]*sqlx.DB)
	s.shardMu.Unlock()

	if err := s.index.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
