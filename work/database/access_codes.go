package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"iptv-gate/work/types"
)

const accessCodeColumns = `id, code, playlist_id, created_by, created_at, expires_at, max_uses, current_uses, is_active`

func scanAccessCode(row interface{ Scan(...any) error }) (*types.AccessCode, error) {
	var (
		ac        types.AccessCode
		createdAt int64
		expiresAt sql.NullInt64
		maxUses   sql.NullInt64
	)
	if err := row.Scan(&ac.ID, &ac.Code, &ac.PlaylistID, &ac.CreatedBy, &createdAt,
		&expiresAt, &maxUses, &ac.CurrentUses, &ac.IsActive); err != nil {
		return nil, err
	}
	ac.CreatedAt = time.UnixMilli(createdAt)
	ac.ExpiresAt = fromMillis(expiresAt)
	if maxUses.Valid {
		n := int(maxUses.Int64)
		ac.MaxUses = &n
	}
	return &ac, nil
}

// InsertAccessCode stores a newly issued code.
func (db *DB) InsertAccessCode(ctx context.Context, ac *types.AccessCode) error {
	var maxUses sql.NullInt64
	if ac.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*ac.MaxUses), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO access_codes (`+accessCodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ac.ID, ac.Code, ac.PlaylistID, ac.CreatedBy, ac.CreatedAt.UnixMilli(),
		millis(ac.ExpiresAt), maxUses, ac.CurrentUses, ac.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert access code: %w", err)
	}
	return nil
}

// GetAccessCode returns the code row or nil when absent.
func (db *DB) GetAccessCode(ctx context.Context, code string) (*types.AccessCode, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accessCodeColumns+` FROM access_codes WHERE code = ?`, code)
	ac, err := scanAccessCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access code: %w", err)
	}
	return ac, nil
}

// ConsumeAccessCode is a single conditional UPDATE: the checks and the increment cannot be
// interleaved with a concurrent redemption of the same code.
func (db *DB) ConsumeAccessCode(ctx context.Context, code string, now time.Time) (*types.AccessCode, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE access_codes
		SET current_uses = current_uses + 1
		WHERE code = ?
		  AND is_active = 1
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND (max_uses IS NULL OR current_uses < max_uses)
		RETURNING `+accessCodeColumns,
		code, now.UnixMilli())

	ac, err := scanAccessCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume access code: %w", err)
	}
	return ac, nil
}

// ListAccessCodes returns codes created by createdBy, or all codes when createdBy is empty.
func (db *DB) ListAccessCodes(ctx context.Context, createdBy string) ([]*types.AccessCode, error) {
	query := `SELECT ` + accessCodeColumns + ` FROM access_codes`
	var args []any
	if createdBy != "" {
		query += ` WHERE created_by = ?`
		args = append(args, createdBy)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access codes: %w", err)
	}
	defer rows.Close()

	var codes []*types.AccessCode
	for rows.Next() {
		ac, err := scanAccessCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access code: %w", err)
		}
		codes = append(codes, ac)
	}
	return codes, rows.Err()
}

// DeactivateAccessCode soft-deletes a code. It reports whether a row matched.
func (db *DB) DeactivateAccessCode(ctx context.Context, code string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE access_codes SET is_active = 0 WHERE code = ?`, code)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate access code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
