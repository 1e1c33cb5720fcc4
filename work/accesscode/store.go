// Package accesscode issues and redeems the shareable codes that unlock playlists.
package accesscode

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"iptv-gate/work/logger"
	"iptv-gate/work/metrics"
	"iptv-gate/work/types"

	"github.com/google/uuid"
	"github.com/grafana/regexp"
)

// codeBytes of entropy per code; 16 bytes encode to 26 base32 characters.
const codeBytes = 16

var (
	codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	codeShape    = regexp.MustCompile(`^[A-Z2-7]{26}$`)
)

// Repository persists access codes. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	InsertAccessCode(ctx context.Context, ac *types.AccessCode) error
	GetAccessCode(ctx context.Context, code string) (*types.AccessCode, error)
	// ConsumeAccessCode increments current_uses if and only if the code is active, unexpired at
	// now and below its limit, as one indivisible step. It returns the updated code, or nil
	// when the code was not usable.
	ConsumeAccessCode(ctx context.Context, code string, now time.Time) (*types.AccessCode, error)
	// ListAccessCodes returns codes created by createdBy, or every code when createdBy is empty.
	ListAccessCodes(ctx context.Context, createdBy string) ([]*types.AccessCode, error)
	DeactivateAccessCode(ctx context.Context, code string) (bool, error)
}

// PlaylistLookup resolves playlists by id. It returns (nil, nil) for unknown ids.
type PlaylistLookup interface {
	GetPlaylist(ctx context.Context, id string) (*types.Playlist, error)
}

// IssueRequest describes a new code. A nil ExpiryHours applies the store default, zero means
// the code never expires. A nil MaxUses leaves the code unlimited.
type IssueRequest struct {
	PlaylistID  string `json:"playlist_id"`
	ExpiryHours *int   `json:"expiry_hours,omitempty"`
	MaxUses     *int   `json:"max_uses,omitempty"`
}

// Store manages the access-code lifecycle on top of a Repository.
type Store struct {
	repo       Repository
	playlists  PlaylistLookup
	defaultTTL time.Duration
	now        func() time.Time
}

// NewStore builds a Store. defaultTTL applies when a code is issued without an expiry.
func NewStore(repo Repository, playlists PlaylistLookup, defaultTTL time.Duration) *Store {
	return &Store{
		repo:       repo,
		playlists:  playlists,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// WithClock replaces the store's time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Issue creates a code for a playlist the caller owns (or any playlist, for admins).
func (s *Store) Issue(ctx context.Context, caller types.Identity, req IssueRequest) (*types.AccessCode, error) {
	if req.PlaylistID == "" {
		return nil, fmt.Errorf("%w: playlist_id is required", ErrInvalidRequest)
	}
	if req.ExpiryHours != nil && *req.ExpiryHours < 0 {
		return nil, fmt.Errorf("%w: expiry_hours must not be negative", ErrInvalidRequest)
	}
	if req.MaxUses != nil && *req.MaxUses <= 0 {
		return nil, fmt.Errorf("%w: max_uses must be positive", ErrInvalidRequest)
	}

	playlist, err := s.playlists.GetPlaylist(ctx, req.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("lookup playlist: %w", err)
	}
	if playlist == nil {
		return nil, ErrPlaylistNotFound
	}
	if playlist.CreatedBy != caller.UserID && !caller.IsAdmin() {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	if playlist.ExpiredAt(now) {
		return nil, ErrPlaylistExpired
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	ac := &types.AccessCode{
		ID:         uuid.NewString(),
		Code:       code,
		PlaylistID: playlist.ID,
		CreatedBy:  caller.UserID,
		CreatedAt:  now,
		IsActive:   true,
	}

	switch {
	case req.ExpiryHours == nil:
		exp := now.Add(s.defaultTTL)
		ac.ExpiresAt = &exp
	case *req.ExpiryHours > 0:
		exp := now.Add(time.Duration(*req.ExpiryHours) * time.Hour)
		ac.ExpiresAt = &exp
	}
	if req.MaxUses != nil {
		maxUses := *req.MaxUses
		ac.MaxUses = &maxUses
	}

	if err := s.repo.InsertAccessCode(ctx, ac); err != nil {
		return nil, fmt.Errorf("store access code: %w", err)
	}

	logger.Info("{accesscode/store - Issue} %s issued a code for playlist %s", caller.Username, playlist.ID)
	return ac, nil
}

// ValidateAndConsume redeems one use of code. The increment happens in a single conditional
// repository call; the code is only re-read afterwards to explain a refusal.
func (s *Store) ValidateAndConsume(ctx context.Context, code string) (*types.AccessCode, error) {
	ac, err := s.consume(ctx, code)
	metrics.CodeRedemptions.WithLabelValues(Outcome(err)).Inc()
	return ac, err
}

func (s *Store) consume(ctx context.Context, code string) (*types.AccessCode, error) {
	code, ok := normalize(code)
	if !ok {
		return nil, ErrCodeNotFound
	}

	now := s.now()
	ac, err := s.repo.ConsumeAccessCode(ctx, code, now)
	if err != nil {
		return nil, fmt.Errorf("consume access code: %w", err)
	}
	if ac != nil {
		logger.Debug("{accesscode/store - ValidateAndConsume} code for playlist %s used %d time(s)", ac.PlaylistID, ac.CurrentUses)
		return ac, nil
	}

	current, err := s.repo.GetAccessCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup access code: %w", err)
	}
	switch {
	case current == nil || !current.IsActive:
		return nil, ErrCodeNotFound
	case current.ExpiredAt(now):
		return nil, ErrCodeExpired
	case current.Exhausted():
		return nil, ErrUsageLimitExceeded
	}

	// The row became usable between the two calls; only possible if the repository was
	// modified outside this store. Refuse rather than retry.
	logger.Warn("{accesscode/store - ValidateAndConsume} code for playlist %s refused without a reason", current.PlaylistID)
	return nil, ErrUsageLimitExceeded
}

// List returns the caller's codes, or every code for admins.
func (s *Store) List(ctx context.Context, caller types.Identity) ([]*types.AccessCode, error) {
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = ""
	}
	codes, err := s.repo.ListAccessCodes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list access codes: %w", err)
	}
	return codes, nil
}

// Deactivate permanently disables a code. Only its creator or an admin may do this.
func (s *Store) Deactivate(ctx context.Context, caller types.Identity, code string) error {
	code, ok := normalize(code)
	if !ok {
		return ErrCodeNotFound
	}

	ac, err := s.repo.GetAccessCode(ctx, code)
	if err != nil {
		return fmt.Errorf("lookup access code: %w", err)
	}
	if ac == nil {
		return ErrCodeNotFound
	}
	if ac.CreatedBy != caller.UserID && !caller.IsAdmin() {
		return ErrNotAuthorized
	}

	if _, err := s.repo.DeactivateAccessCode(ctx, code); err != nil {
		return fmt.Errorf("deactivate access code: %w", err)
	}

	logger.Info("{accesscode/store - Deactivate} %s deactivated a code for playlist %s", caller.Username, ac.PlaylistID)
	return nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return codeEncoding.EncodeToString(buf), nil
}

// normalize upper-cases a user-supplied code and reports whether it has the shape of an
// issued code.
func normalize(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, codeShape.MatchString(code)
}
