package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/fortress/internal/auth/storage"
)

// PutMagicToken inserts a magic token. The partial unique index on live
// emails turns issuance races into storage.ErrConflict.
func (s *Store) PutMagicToken(ctx context.Context, token storage.MagicToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("token id is required")
	}
	if strings.TrimSpace(token.Token) == "" {
		return fmt.Errorf("token value is required")
	}
	if strings.TrimSpace(token.Email) == "" {
		return fmt.Errorf("token email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO magic_tokens (id, token, email, created_at, expires_at, is_archived)
VALUES (?, ?, ?, ?, ?, ?)
`, token.ID, token.Token, token.Email, toMillis(token.CreatedAt), toMillis(token.ExpiresAt), boolToInt(token.Archived))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put magic token: %w", err)
	}
	return nil
}

// GetValidMagicTokenByEmail returns the live, unexpired token for an email.
func (s *Store) GetValidMagicTokenByEmail(ctx context.Context, email string, now time.Time) (storage.MagicToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.MagicToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MagicToken{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return storage.MagicToken{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, token, email, created_at, expires_at, is_archived
FROM magic_tokens
WHERE email = ? AND is_archived = 0 AND expires_at >= ?
`, email, toMillis(now))
	return scanMagicToken(row)
}

// RedeemMagicToken archives a live token and returns it.
//
// The archive is a single conditional update so two concurrent redemptions of
// the same token resolve to exactly one success.
func (s *Store) RedeemMagicToken(ctx context.Context, token string, now time.Time) (storage.MagicToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.MagicToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MagicToken{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return storage.MagicToken{}, fmt.Errorf("token value is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE magic_tokens
SET is_archived = 1
WHERE token = ? AND is_archived = 0 AND expires_at >= ?
`, token, toMillis(now))
	if err != nil {
		return storage.MagicToken{}, fmt.Errorf("redeem magic token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.MagicToken{}, fmt.Errorf("redeem magic token: %w", err)
	}
	if affected == 0 {
		return storage.MagicToken{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, token, email, created_at, expires_at, is_archived
FROM magic_tokens
WHERE token = ?
`, token)
	return scanMagicToken(row)
}

// ArchiveExpiredMagicTokens retires expired tokens for an email.
func (s *Store) ArchiveExpiredMagicTokens(ctx context.Context, email string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE magic_tokens
SET is_archived = 1
WHERE email = ? AND is_archived = 0 AND expires_at < ?
`, email, toMillis(now))
	if err != nil {
		return fmt.Errorf("archive expired magic tokens: %w", err)
	}
	return nil
}

// DeleteExpiredMagicTokens removes archived tokens past their expiry.
func (s *Store) DeleteExpiredMagicTokens(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM magic_tokens
WHERE is_archived = 1 AND expires_at < ?
`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired magic tokens: %w", err)
	}
	return nil
}

func scanMagicToken(row *sql.Row) (storage.MagicToken, error) {
	var token storage.MagicToken
	var createdAt int64
	var expiresAt int64
	var archived int
	if err := row.Scan(&token.ID, &token.Token, &token.Email, &createdAt, &expiresAt, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MagicToken{}, storage.ErrNotFound
		}
		return storage.MagicToken{}, fmt.Errorf("scan magic token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	token.ExpiresAt = fromMillis(expiresAt)
	token.Archived = archived != 0
	return token, nil
}
