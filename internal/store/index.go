package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/webpubio/webpub/internal/merkle"
)

// SnapshotEntry is one row of a snapshot listing.
type SnapshotEntry struct {
	ID        uint64 `db:"id"`
	CreatedAt int64  `db:"created_at"`
	IsCurrent bool   `db:"is_current"`
}

// CreateSnapshot records a new snapshot for hostname and makes it current,
// all in one transaction: readers observe either the prior current snapshot
// or the new one, never an in-between state. The caller must have verified
// that every chunk the tree references is stored.
func (s *Store) CreateSnapshot(hostname string, tree *merkle.Node) (uint64, error) {
	treeBytes, err := merkle.Marshal(tree)
	if err != nil {
		return 0, fmt.Errorf("encode tree: %w", err)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tx, err := s.index.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO sites (hostname) VALUES (?)`, hostname); err != nil {
		return 0, fmt.Errorf("ensure site: %w", err)
	}
	if _, err := tx.Exec(`UPDATE snapshots SET is_current = 0 WHERE hostname = ?`, hostname); err != nil {
		return 0, fmt.Errorf("clear current: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO snapshots (hostname, root_hash, tree, created_at, is_current) VALUES (?, ?, ?, ?, 1)`,
		hostname, tree.Hash[:], treeBytes, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Current returns the current snapshot for hostname, or ErrSiteNotFound.
func (s *Store) Current(hostname string) (uint64, *merkle.Node, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var row struct {
		ID   uint64 `db:"id"`
		Tree []byte `db:"tree"`
	}
	err := s.index.Get(&row,
		`SELECT id, tree FROM snapshots WHERE hostname = ? AND is_current = 1`, hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("%w: %s", ErrSiteNotFound, hostname)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("current snapshot for %s: %w", hostname, err)
	}

	tree, err := merkle.Unmarshal(row.Tree)
	if err != nil {
		return 0, nil, fmt.Errorf("decode tree for %s: %w", hostname, err)
	}
	return row.ID, tree, nil
}

// List returns all snapshots for hostname, newest first.
func (s *Store) List(hostname string) ([]SnapshotEntry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	var entries []SnapshotEntry
	err := s.index.Select(&entries,
		`SELECT id, created_at, is_current FROM snapshots WHERE hostname = ? ORDER BY id DESC`, hostname)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", hostname, err)
	}
	return entries, nil
}

// SetCurrent flips the current pointer to the given snapshot. Returns false
// when the snapshot does not exist or belongs to another hostname.
func (s *Store) SetCurrent(hostname string, id uint64) (bool, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tx, err := s.index.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.Get(&one, `SELECT 1 FROM snapshots WHERE id = ? AND hostname = ?`, id, hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(`UPDATE snapshots SET is_current = 0 WHERE hostname = ?`, hostname); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE snapshots SET is_current = 1 WHERE id = ?`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Prune deletes all but the keep newest snapshots for hostname. The current
// snapshot is never deleted, even when it falls outside the keep window
// after a rollback. Returns the number of snapshots removed; orphaned
// chunks stay behind for GC.
func (s *Store) Prune(hostname string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	res, err := s.index.Exec(
		`DELETE FROM snapshots
		 WHERE hostname = ? AND is_current = 0 AND id NOT IN (
			SELECT id FROM snapshots WHERE hostname = ? ORDER BY id DESC LIMIT ?
		 )`,
		hostname, hostname, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots for %s: %w", hostname, err)
	}
	return res.RowsAffected()
}
