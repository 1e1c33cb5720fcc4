package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"iptv-gate/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "gate.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, path := openTest(t)
	require.NoError(t, db.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.Ping(context.Background()))
}

func TestPlaylistRoundTrip(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())
	exp := now.Add(48 * time.Hour)

	p := &types.Playlist{
		ID:         "p-1",
		Name:       "Weekend",
		ChannelIDs: []string{"c-3", "c-1", "c-2"},
		CreatedBy:  "u-1",
		CreatedAt:  now,
		ExpiryDate: &exp,
	}
	require.NoError(t, db.InsertPlaylist(ctx, p))

	got, err := db.GetPlaylist(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"c-3", "c-1", "c-2"}, got.ChannelIDs)
	require.NotNil(t, got.ExpiryDate)
	assert.True(t, exp.Equal(*got.ExpiryDate))

	missing, err := db.GetPlaylist(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccessCodeRequiresPlaylist(t *testing.T) {
	db, _ := openTest(t)
	err := db.InsertAccessCode(context.Background(), &types.AccessCode{
		ID:         "a-1",
		Code:       "AAAAAAAAAAAAAAAAAAAAAAAAAA",
		PlaylistID: "absent",
		CreatedBy:  "u-1",
		CreatedAt:  time.Now(),
		IsActive:   true,
	})
	assert.Error(t, err)
}

func TestConsumeRespectsLimitAndExpiry(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.InsertPlaylist(ctx, &types.Playlist{ID: "p-1", Name: "x", CreatedBy: "u-1", CreatedAt: now}))

	one := 1
	exp := now.Add(time.Hour)
	require.NoError(t, db.InsertAccessCode(ctx, &types.AccessCode{
		ID: "a-1", Code: "BBBBBBBBBBBBBBBBBBBBBBBBBB", PlaylistID: "p-1", CreatedBy: "u-1",
		CreatedAt: now, ExpiresAt: &exp, MaxUses: &one, IsActive: true,
	}))

	ac, err := db.ConsumeAccessCode(ctx, "BBBBBBBBBBBBBBBBBBBBBBBBBB", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, ac, "expired code must not be consumed")

	ac, err = db.ConsumeAccessCode(ctx, "BBBBBBBBBBBBBBBBBBBBBBBBBB", now)
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, 1, ac.CurrentUses)

	ac, err = db.ConsumeAccessCode(ctx, "BBBBBBBBBBBBBBBBBBBBBBBBBB", now)
	require.NoError(t, err)
	assert.Nil(t, ac)

	stored, err := db.GetAccessCode(ctx, "BBBBBBBBBBBBBBBBBBBBBBBBBB")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentUses)
}

func TestCounts(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.InsertChannels(ctx, []*types.Channel{
		{ID: "c-1", Name: "A", URL: "http://a/1.ts", Category: types.CategoryNews, IsActive: true, CreatedBy: "u-1", CreatedAt: now},
		{ID: "c-2", Name: "B", URL: "http://a/2.ts", Category: types.CategoryNews, IsActive: true, CreatedBy: "u-1", CreatedAt: now},
	}))
	ok, err := db.DeactivateChannel(ctx, "c-2")
	require.NoError(t, err)
	assert.True(t, ok)

	counts, err := db.Counts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["channels"])
	assert.Equal(t, 1, counts["active_channels"])
	assert.Equal(t, 0, counts["users"])
	assert.Equal(t, 0, counts["active_access_codes"])
}
