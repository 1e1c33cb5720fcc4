package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"iptv-gate/work/types"
)

const userColumns = `id, username, email, password_hash, role, is_active, created_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var (
		u         types.User
		createdAt int64
		lastLogin sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.IsActive, &createdAt, &lastLogin); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	u.LastLogin = fromMillis(lastLogin)
	return &u, nil
}

// InsertUser stores a new account. Duplicate usernames or emails fail with a constraint error.
func (db *DB) InsertUser(ctx context.Context, u *types.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.IsActive,
		u.CreatedAt.UnixMilli(), millis(u.LastLogin))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByUsername returns the account or nil when absent.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetUserByID returns the account or nil when absent.
func (db *DB) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// UserExists reports whether the username or email is already taken.
func (db *DB) UserExists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

func (db *DB) getUser(ctx context.Context, query string, arg string) (*types.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account, oldest first.
func (db *DB) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// TouchLastLogin records a successful login.
func (db *DB) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at.UnixMilli(), id)
	return err
}

// UpdateUserRole changes an account's role. It reports whether a row matched.
func (db *DB) UpdateUserRole(ctx context.Context, id string, role types.Role) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
