package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/webpubio/webpub/internal/utils"
)

// TokenEntry is one row of a token listing.
type TokenEntry struct {
	Token     string `db:"token"`
	CreatedAt int64  `db:"created_at"`
}

// AddToken generates, stores and returns a new access token. Tokens are
// global: any valid token authorizes any sync operation.
func (s *Store) AddToken() (string, error) {
	token := utils.TokenHex(32)
	_, err := s.index.Exec(
		`INSERT INTO tokens (token, created_at) VALUES (?, ?)`,
		token, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("add token: %w", err)
	}
	return token, nil
}

// VerifyToken reports whether the token is known.
func (s *Store) VerifyToken(token string) (bool, error) {
	var one int
	err := s.index.Get(&one, `SELECT 1 FROM tokens WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify token: %w", err)
	}
	return true, nil
}

// RevokeToken removes a token. Revocation is immediate: the next Auth with
// it fails. Returns false when the token was not present.
func (s *Store) RevokeToken(token string) (bool, error) {
	res, err := s.index.Exec(`DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTokens returns all tokens, oldest first.
func (s *Store) ListTokens() ([]TokenEntry, error) {
	var tokens []TokenEntry
	err := s.index.Select(&tokens, `SELECT token, created_at FROM tokens ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}
