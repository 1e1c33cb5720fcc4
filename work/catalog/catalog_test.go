package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"iptv-gate/work/cache"
	"iptv-gate/work/database"
	"iptv-gate/work/filter"
	"iptv-gate/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user   = types.Identity{UserID: "u-1", Username: "alice", Role: types.RoleUser}
	viewer = types.Identity{UserID: "v-1", Username: "bob", Role: types.RoleViewer}
	admin  = types.Identity{UserID: "a-1", Username: "root", Role: types.RoleAdmin}
)

func origin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/dead") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write(make([]byte, 188*4))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCatalog(t *testing.T, srv *httptest.Server) (*Catalog, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	opts := Options{Repo: db, Cache: cache.NewChannelCache(time.Minute), Pool: pool}
	if srv != nil {
		opts.Prober = srv.Client()
		opts.ValidateURLs = true
	}
	return New(opts), db
}

func TestCreateChannel(t *testing.T) {
	srv := origin(t)
	c, _ := newCatalog(t, srv)
	ctx := context.Background()

	ch, err := c.CreateChannel(ctx, user, ChannelInput{Name: "Sport 1", URL: srv.URL + "/sport1.ts", Category: types.CategorySports, Country: "US", Language: "en"})
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "HD", ch.Quality)
	assert.True(t, ch.IsActive)
	assert.Equal(t, user.UserID, ch.CreatedBy)

	_, err = c.CreateChannel(ctx, user, ChannelInput{Name: "Dead", URL: srv.URL + "/dead.ts"})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = c.CreateChannel(ctx, viewer, ChannelInput{Name: "Nope", URL: srv.URL + "/a.ts"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateChannelValidation(t *testing.T) {
	c, _ := newCatalog(t, nil)
	ctx := context.Background()

	cases := []ChannelInput{
		{Name: "", URL: "http://cdn.example.com/a.ts"},
		{Name: "x", URL: "ftp://cdn.example.com/a.ts"},
		{Name: "x", URL: "/relative.ts"},
		{Name: "x", URL: "http://cdn.example.com/a.ts", Category: "cooking"},
		{Name: "x", URL: "http://cdn.example.com/a.ts", Country: "usa"},
		{Name: "x", URL: "http://cdn.example.com/a.ts", Language: "English"},
		{Name: "x", URL: "http://cdn.example.com/a.ts", LogoURL: "javascript:alert(1)"},
	}
	for _, in := range cases {
		_, err := c.CreateChannel(ctx, user, in)
		assert.ErrorIs(t, err, ErrInvalidChannel, "%+v", in)
	}
}

func TestBulkCreateChannels(t *testing.T) {
	srv := origin(t)
	c, _ := newCatalog(t, srv)
	ctx := context.Background()

	res, err := c.BulkCreateChannels(ctx, user, []ChannelInput{
		{Name: "A", URL: srv.URL + "/a.ts"},
		{Name: "B", URL: srv.URL + "/dead/b.ts"},
		{Name: "", URL: srv.URL + "/c.ts"},
		{Name: "D", URL: srv.URL + "/d.ts", Category: types.CategoryNews},
	})
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, 2, res.Failed[1].Index)

	listed, err := c.ListChannels(ctx, types.ChannelFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	news, err := c.ListChannels(ctx, types.ChannelFilter{Category: types.CategoryNews})
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "D", news[0].Name)
}

func TestImportM3U(t *testing.T) {
	c, _ := newCatalog(t, nil)
	doc := `#EXTM3U
#EXTINF:-1 tvg-logo="http://img.example.com/1.png" tvg-country="de" group-title="News",Tagesschau
http://cdn.example.com/ts1.ts
#EXTINF:-1 group-title="Whatever",Misc
http://cdn.example.com/misc.ts
`
	res, err := c.ImportM3U(context.Background(), user, strings.NewReader(doc), nil)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Equal(t, types.CategoryNews, res.Created[0].Category)
	assert.Equal(t, "DE", res.Created[0].Country)
	assert.Equal(t, types.CategoryGeneral, res.Created[1].Category)

	only, err := filter.Compile("^tages", "")
	require.NoError(t, err)
	res, err = c.ImportM3U(context.Background(), user, strings.NewReader(doc), only)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "Tagesschau", res.Created[0].Name)
}

func TestDeactivateChannelDropsFromActiveSet(t *testing.T) {
	c, _ := newCatalog(t, nil)
	ctx := context.Background()

	ch, err := c.CreateChannel(ctx, user, ChannelInput{Name: "A", URL: "http://cdn.example.com/a.ts"})
	require.NoError(t, err)

	active, err := c.ActiveChannels(ctx, []string{ch.ID})
	require.NoError(t, err)
	assert.Contains(t, active, ch.ID)

	assert.ErrorIs(t, c.DeactivateChannel(ctx, user, ch.ID), ErrForbidden)
	require.NoError(t, c.DeactivateChannel(ctx, admin, ch.ID))
	assert.ErrorIs(t, c.DeactivateChannel(ctx, admin, "missing"), ErrChannelNotFound)

	active, err = c.ActiveChannels(ctx, []string{ch.ID})
	require.NoError(t, err)
	assert.NotContains(t, active, ch.ID)
}

func TestCreatePlaylist(t *testing.T) {
	c, _ := newCatalog(t, nil)
	ctx := context.Background()

	a, err := c.CreateChannel(ctx, user, ChannelInput{Name: "A", URL: "http://cdn.example.com/a.ts"})
	require.NoError(t, err)
	b, err := c.CreateChannel(ctx, user, ChannelInput{Name: "B", URL: "http://cdn.example.com/b.ts"})
	require.NoError(t, err)

	hours := 2
	p, err := c.CreatePlaylist(ctx, user, PlaylistInput{Name: "Mine", ChannelIDs: []string{b.ID, a.ID}, ExpiryHours: &hours})
	require.NoError(t, err)
	require.NotNil(t, p.ExpiryDate)

	got, err := c.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, got.ChannelIDs)

	_, err = c.CreatePlaylist(ctx, user, PlaylistInput{Name: "Bad", ChannelIDs: []string{"missing"}})
	assert.ErrorIs(t, err, ErrInvalidPlaylist)

	_, err = c.CreatePlaylist(ctx, viewer, PlaylistInput{Name: "Viewer", ChannelIDs: []string{a.ID}})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = c.CreatePlaylist(ctx, admin, PlaylistInput{Name: "Admin's", ChannelIDs: []string{a.ID}})
	require.NoError(t, err)

	mine, err := c.ListPlaylists(ctx, user)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := c.ListPlaylists(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
