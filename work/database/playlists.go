package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"iptv-gate/work/types"
)

const playlistColumns = `id, name, description, channel_ids, is_public, created_by, created_at, expiry_date`

func scanPlaylist(row interface{ Scan(...any) error }) (*types.Playlist, error) {
	var (
		p          types.Playlist
		channelIDs string
		createdAt  int64
		expiry     sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &channelIDs, &p.IsPublic,
		&p.CreatedBy, &createdAt, &expiry); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channelIDs), &p.ChannelIDs); err != nil {
		return nil, fmt.Errorf("failed to decode channel ids of playlist %s: %w", p.ID, err)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	p.ExpiryDate = fromMillis(expiry)
	return &p, nil
}

// InsertPlaylist stores a playlist. Channel order is kept as given.
func (db *DB) InsertPlaylist(ctx context.Context, p *types.Playlist) error {
	ids := p.ChannelIDs
	if ids == nil {
		ids = []string{}
	}
	channelIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode channel ids: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO playlists (`+playlistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, string(channelIDs), p.IsPublic, p.CreatedBy,
		p.CreatedAt.UnixMilli(), millis(p.ExpiryDate))
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}
	return nil
}

// GetPlaylist returns a playlist by id, or nil when absent.
func (db *DB) GetPlaylist(ctx context.Context, id string) (*types.Playlist, error) {
	row := db.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlists WHERE id = ?`, id)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// ListPlaylists returns playlists created by createdBy, or all when createdBy is empty.
func (db *DB) ListPlaylists(ctx context.Context, createdBy string) ([]*types.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists`
	var args []any
	if createdBy != "" {
		query += ` WHERE created_by = ?`
		args = append(args, createdBy)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*types.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}
