package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/fortress/internal/auth/storage"
	"github.com/louisbranch/fortress/internal/auth/user"
)

// PutUser inserts a user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	firstName := sql.NullString{}
	if strings.TrimSpace(u.FirstName) != "" {
		firstName = sql.NullString{String: u.FirstName, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, first_name, created_at, updated_at, is_archived)
VALUES (?, ?, ?, ?, ?, ?)
`, u.ID, u.Email, firstName, toMillis(u.CreatedAt), toMillis(u.UpdatedAt), boolToInt(u.Archived))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, first_name, created_at, updated_at, is_archived
FROM users
WHERE id = ? AND is_archived = 0
`, userID)
	return scanUser(row)
}

// GetUserByEmail fetches a user by exact email match.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, first_name, created_at, updated_at, is_archived
FROM users
WHERE email = ? AND is_archived = 0
`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var firstName sql.NullString
	var createdAt int64
	var updatedAt int64
	var archived int
	if err := row.Scan(&u.ID, &u.Email, &firstName, &createdAt, &updatedAt, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	if firstName.Valid {
		u.FirstName = firstName.String
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	u.Archived = archived != 0
	return u, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
