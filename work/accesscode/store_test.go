package accesscode_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iptv-gate/work/accesscode"
	"iptv-gate/work/database"
	"iptv-gate/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = types.Identity{UserID: "owner-1", Username: "owner", Role: types.RoleUser}
	stranger = types.Identity{UserID: "other-1", Username: "other", Role: types.RoleUser}
	admin    = types.Identity{UserID: "admin-1", Username: "admin", Role: types.RoleAdmin}
)

type backend struct {
	repo      accesscode.Repository
	playlists interface {
		accesscode.PlaylistLookup
		InsertPlaylist(ctx context.Context, p *types.Playlist) error
	}
}

type memPlaylists struct {
	mu sync.Mutex
	m  map[string]*types.Playlist
}

func (p *memPlaylists) GetPlaylist(_ context.Context, id string) (*types.Playlist, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[id], nil
}

func (p *memPlaylists) InsertPlaylist(_ context.Context, pl *types.Playlist) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[pl.ID] = pl
	return nil
}

func backends() map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			return backend{
				repo:      accesscode.NewMemoryRepository(),
				playlists: &memPlaylists{m: map[string]*types.Playlist{}},
			}
		},
		"sqlite": func(t *testing.T) backend {
			db, err := database.Open(filepath.Join(t.TempDir(), "gate.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return backend{repo: db, playlists: db}
		},
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, mk func(t *testing.T) backend) (*accesscode.Store, *clock) {
	t.Helper()
	b := mk(t)
	clk := &clock{t: time.Now().Truncate(time.Millisecond)}

	require.NoError(t, b.playlists.InsertPlaylist(context.Background(), &types.Playlist{
		ID:         "pl-1",
		Name:       "Sports",
		ChannelIDs: []string{"ch-1"},
		CreatedBy:  owner.UserID,
		CreatedAt:  clk.Now(),
	}))
	past := clk.Now().Add(-time.Hour)
	require.NoError(t, b.playlists.InsertPlaylist(context.Background(), &types.Playlist{
		ID:         "pl-old",
		Name:       "Old",
		CreatedBy:  owner.UserID,
		CreatedAt:  clk.Now().Add(-2 * time.Hour),
		ExpiryDate: &past,
	}))

	store := accesscode.NewStore(b.repo, b.playlists, 24*time.Hour).WithClock(clk.Now)
	return store, clk
}

func intPtr(n int) *int { return &n }

func TestIssue(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, clk := setup(t, mk)
			ctx := context.Background()

			ac, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", MaxUses: intPtr(3)})
			require.NoError(t, err)
			assert.Len(t, ac.Code, 26)
			assert.True(t, ac.IsActive)
			assert.Equal(t, 0, ac.CurrentUses)
			require.NotNil(t, ac.ExpiresAt)
			assert.Equal(t, clk.Now().Add(24*time.Hour), *ac.ExpiresAt)
			require.NotNil(t, ac.MaxUses)
			assert.Equal(t, 3, *ac.MaxUses)

			forever, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", ExpiryHours: intPtr(0)})
			require.NoError(t, err)
			assert.Nil(t, forever.ExpiresAt)
			assert.Nil(t, forever.MaxUses)
			assert.NotEqual(t, ac.Code, forever.Code)

			byAdmin, err := store.Issue(ctx, admin, accesscode.IssueRequest{PlaylistID: "pl-1", ExpiryHours: intPtr(2)})
			require.NoError(t, err)
			assert.Equal(t, clk.Now().Add(2*time.Hour), *byAdmin.ExpiresAt)
		})
	}
}

func TestIssueErrors(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			_, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "missing"})
			assert.ErrorIs(t, err, accesscode.ErrPlaylistNotFound)

			_, err = store.Issue(ctx, stranger, accesscode.IssueRequest{PlaylistID: "pl-1"})
			assert.ErrorIs(t, err, accesscode.ErrNotAuthorized)

			_, err = store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-old"})
			assert.ErrorIs(t, err, accesscode.ErrPlaylistExpired)

			_, err = store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", MaxUses: intPtr(0)})
			assert.ErrorIs(t, err, accesscode.ErrInvalidRequest)

			_, err = store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", ExpiryHours: intPtr(-1)})
			assert.ErrorIs(t, err, accesscode.ErrInvalidRequest)

			_, err = store.Issue(ctx, owner, accesscode.IssueRequest{})
			assert.ErrorIs(t, err, accesscode.ErrInvalidRequest)
		})
	}
}

func TestValidateAndConsume(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, clk := setup(t, mk)
			ctx := context.Background()

			ac, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", MaxUses: intPtr(2), ExpiryHours: intPtr(1)})
			require.NoError(t, err)

			got, err := store.ValidateAndConsume(ctx, ac.Code)
			require.NoError(t, err)
			assert.Equal(t, "pl-1", got.PlaylistID)
			assert.Equal(t, owner.UserID, got.CreatedBy)
			assert.Equal(t, 1, got.CurrentUses)

			got, err = store.ValidateAndConsume(ctx, ac.Code)
			require.NoError(t, err)
			assert.Equal(t, 2, got.CurrentUses)

			_, err = store.ValidateAndConsume(ctx, ac.Code)
			assert.ErrorIs(t, err, accesscode.ErrUsageLimitExceeded)

			_, err = store.ValidateAndConsume(ctx, ac.Code)
			assert.ErrorIs(t, err, accesscode.ErrUsageLimitExceeded)

			unlimited, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", ExpiryHours: intPtr(1)})
			require.NoError(t, err)
			clk.Advance(time.Hour)
			_, err = store.ValidateAndConsume(ctx, unlimited.Code)
			assert.ErrorIs(t, err, accesscode.ErrCodeExpired)
		})
	}
}

func TestValidateUnknownAndMalformedCodes(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			_, err := store.ValidateAndConsume(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAA")
			assert.ErrorIs(t, err, accesscode.ErrCodeNotFound)

			_, err = store.ValidateAndConsume(ctx, "'; DROP TABLE access_codes; --")
			assert.ErrorIs(t, err, accesscode.ErrCodeNotFound)

			_, err = store.ValidateAndConsume(ctx, "")
			assert.ErrorIs(t, err, accesscode.ErrCodeNotFound)
		})
	}
}

func TestCodesAreCaseInsensitive(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			ac, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1"})
			require.NoError(t, err)

			_, err = store.ValidateAndConsume(ctx, " "+strings.ToLower(ac.Code)+" ")
			assert.NoError(t, err)
		})
	}
}

func TestDeactivatedCodeIsNotFound(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			ac, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1"})
			require.NoError(t, err)

			assert.ErrorIs(t, store.Deactivate(ctx, stranger, ac.Code), accesscode.ErrNotAuthorized)
			require.NoError(t, store.Deactivate(ctx, owner, ac.Code))

			_, err = store.ValidateAndConsume(ctx, ac.Code)
			assert.ErrorIs(t, err, accesscode.ErrCodeNotFound)

			assert.ErrorIs(t, store.Deactivate(ctx, admin, "AAAAAAAAAAAAAAAAAAAAAAAAAA"), accesscode.ErrCodeNotFound)
		})
	}
}

func TestConcurrentSingleUseRedemption(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			ac, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1", MaxUses: intPtr(1)})
			require.NoError(t, err)

			const callers = 32
			var (
				wg       sync.WaitGroup
				wins     atomic.Int32
				limited  atomic.Int32
				start    = make(chan struct{})
				failures = make(chan error, callers)
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := store.ValidateAndConsume(ctx, ac.Code)
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, accesscode.ErrUsageLimitExceeded):
						limited.Add(1)
					default:
						failures <- err
					}
				}()
			}
			close(start)
			wg.Wait()
			close(failures)

			for err := range failures {
				t.Errorf("unexpected error: %v", err)
			}
			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(callers-1), limited.Load())
		})
	}
}

func TestList(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			store, _ := setup(t, mk)
			ctx := context.Background()

			_, err := store.Issue(ctx, owner, accesscode.IssueRequest{PlaylistID: "pl-1"})
			require.NoError(t, err)
			_, err = store.Issue(ctx, admin, accesscode.IssueRequest{PlaylistID: "pl-1"})
			require.NoError(t, err)

			mine, err := store.List(ctx, owner)
			require.NoError(t, err)
			assert.Len(t, mine, 1)

			all, err := store.List(ctx, admin)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			none, err := store.List(ctx, stranger)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
