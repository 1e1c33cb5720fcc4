package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"iptv-gate/work/types"
)

const channelColumns = `id, name, url, logo_url, category, country, language, quality, is_active, created_by, created_at`

func scanChannel(row interface{ Scan(...any) error }) (*types.Channel, error) {
	var (
		ch        types.Channel
		createdAt int64
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &ch.LogoURL, &ch.Category, &ch.Country,
		&ch.Language, &ch.Quality, &ch.IsActive, &ch.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	ch.CreatedAt = time.UnixMilli(createdAt)
	return &ch, nil
}

// InsertChannels stores channels in one transaction.
func (db *DB) InsertChannels(ctx context.Context, channels []*types.Channel) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channels (`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare channel insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range channels {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Name, ch.URL, ch.LogoURL, string(ch.Category),
			ch.Country, ch.Language, ch.Quality, ch.IsActive, ch.CreatedBy, ch.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", ch.Name, err)
		}
	}

	return tx.Commit()
}

// GetChannel returns a channel by id, or nil when absent.
func (db *DB) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	row := db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

// ListChannels returns channels matching the filter, newest first.
func (db *DB) ListChannels(ctx context.Context, f types.ChannelFilter) ([]*types.Channel, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Country != "" {
		where = append(where, "country = ?")
		args = append(args, f.Country)
	}

	query := `SELECT ` + channelColumns + ` FROM channels`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return db.queryChannels(ctx, query, args...)
}

// ActiveChannels returns the active channels among ids, in no particular order.
func (db *DB) ActiveChannels(ctx context.Context, ids []string) ([]*types.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return db.queryChannels(ctx, `SELECT `+channelColumns+` FROM channels WHERE is_active = 1 AND id IN (`+placeholders+`)`, args...)
}

func (db *DB) queryChannels(ctx context.Context, query string, args ...any) ([]*types.Channel, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []*types.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// DeactivateChannel hides a channel from new manifests. It reports whether a row matched.
func (db *DB) DeactivateChannel(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE channels SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
