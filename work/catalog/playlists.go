package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iptv-gate/work/logger"
	"iptv-gate/work/types"

	"github.com/google/uuid"
)

// PlaylistInput is the client-supplied description of a playlist. ExpiryHours, when positive,
// limits the period during which new access codes can be issued for it.
type PlaylistInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ChannelIDs  []string `json:"channels"`
	IsPublic    bool     `json:"is_public"`
	ExpiryHours *int     `json:"expiry_hours,omitempty"`
}

// CreatePlaylist stores a playlist after checking that every channel exists and is active.
func (c *Catalog) CreatePlaylist(ctx context.Context, caller types.Identity, in PlaylistInput) (*types.Playlist, error) {
	if !caller.Role.AtLeast(types.RoleUser) {
		return nil, ErrForbidden
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPlaylist)
	}
	if in.ExpiryHours != nil && *in.ExpiryHours < 0 {
		return nil, fmt.Errorf("%w: expiry_hours must not be negative", ErrInvalidPlaylist)
	}

	active, err := c.ActiveChannels(ctx, in.ChannelIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range in.ChannelIDs {
		if _, ok := active[id]; !ok {
			return nil, fmt.Errorf("%w: channel %s not found or inactive", ErrInvalidPlaylist, id)
		}
	}

	now := c.now()
	p := &types.Playlist{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		ChannelIDs:  append([]string{}, in.ChannelIDs...),
		IsPublic:    in.IsPublic,
		CreatedBy:   caller.UserID,
		CreatedAt:   now,
	}
	if in.ExpiryHours != nil && *in.ExpiryHours > 0 {
		exp := now.Add(time.Duration(*in.ExpiryHours) * time.Hour)
		p.ExpiryDate = &exp
	}

	if err := c.repo.InsertPlaylist(ctx, p); err != nil {
		return nil, fmt.Errorf("store playlist: %w", err)
	}

	logger.Info("{catalog/playlists - CreatePlaylist} %s created playlist %q with %d channel(s)", caller.Username, p.Name, len(p.ChannelIDs))
	return p, nil
}

// GetPlaylist returns a playlist, or nil when it does not exist.
func (c *Catalog) GetPlaylist(ctx context.Context, id string) (*types.Playlist, error) {
	return c.repo.GetPlaylist(ctx, id)
}

// ListPlaylists returns the caller's playlists, or all playlists for admins.
func (c *Catalog) ListPlaylists(ctx context.Context, caller types.Identity) ([]*types.Playlist, error) {
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = ""
	}
	playlists, err := c.repo.ListPlaylists(ctx, owner)
	if err != nil {
		return nil, err
	}
	if playlists == nil {
		playlists = []*types.Playlist{}
	}
	return playlists, nil
}
