// Package catalog manages channels and playlists: the read-mostly data the access gate
// renders from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"iptv-gate/work/cache"
	"iptv-gate/work/filter"
	"iptv-gate/work/logger"
	"iptv-gate/work/metrics"
	"iptv-gate/work/parser"
	"iptv-gate/work/types"
	"iptv-gate/work/utils"

	"github.com/google/uuid"
	"github.com/grafana/regexp"
	"github.com/panjf2000/ants/v2"
)

var (
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrInvalidPlaylist = errors.New("invalid playlist")
	ErrChannelNotFound = errors.New("channel not found")
	ErrForbidden       = errors.New("insufficient permissions")
)

var (
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2,3}$`)
)

// probeTimeout bounds a single origin probe during channel creation.
const probeTimeout = 10 * time.Second

// Repository is the persistence the catalog needs. Lookups return (nil, nil) when absent.
type Repository interface {
	InsertChannels(ctx context.Context, channels []*types.Channel) error
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	ListChannels(ctx context.Context, f types.ChannelFilter) ([]*types.Channel, error)
	ActiveChannels(ctx context.Context, ids []string) ([]*types.Channel, error)
	DeactivateChannel(ctx context.Context, id string) (bool, error)

	InsertPlaylist(ctx context.Context, p *types.Playlist) error
	GetPlaylist(ctx context.Context, id string) (*types.Playlist, error)
	ListPlaylists(ctx context.Context, createdBy string) ([]*types.Playlist, error)
}

// Options configures a Catalog.
type Options struct {
	Repo          Repository
	Cache         *cache.ChannelCache
	Prober        parser.Doer
	Pool          *ants.Pool
	ValidateURLs  bool
	ObfuscateURLs bool
}

// Catalog is the channel and playlist service.
type Catalog struct {
	repo      Repository
	cache     *cache.ChannelCache
	prober    parser.Doer
	pool      *ants.Pool
	validate  bool
	obfuscate bool
	now       func() time.Time
}

// New builds a Catalog. Prober and Pool are only required when ValidateURLs is set.
func New(opts Options) *Catalog {
	return &Catalog{
		repo:      opts.Repo,
		cache:     opts.Cache,
		prober:    opts.Prober,
		pool:      opts.Pool,
		validate:  opts.ValidateURLs && opts.Prober != nil,
		obfuscate: opts.ObfuscateURLs,
		now:       time.Now,
	}
}

// ChannelInput is the client-supplied description of a channel.
type ChannelInput struct {
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	LogoURL  string         `json:"logo_url,omitempty"`
	Category types.Category `json:"category,omitempty"`
	Country  string         `json:"country,omitempty"`
	Language string         `json:"language,omitempty"`
	Quality  string         `json:"quality,omitempty"`
}

// BulkFailure reports why one entry of a bulk request was not created.
type BulkFailure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BulkResult is the outcome of a bulk create.
type BulkResult struct {
	Created []*types.Channel `json:"created"`
	Failed  []BulkFailure    `json:"failed"`
}

// CreateChannel validates in, probes the origin when enabled and stores the channel.
func (c *Catalog) CreateChannel(ctx context.Context, caller types.Identity, in ChannelInput) (*types.Channel, error) {
	if !caller.Role.AtLeast(types.RoleUser) {
		return nil, ErrForbidden
	}

	ch, err := c.buildChannel(caller, in)
	if err != nil {
		return nil, err
	}
	if err := c.probe(ctx, ch.URL); err != nil {
		return nil, err
	}

	if err := c.repo.InsertChannels(ctx, []*types.Channel{ch}); err != nil {
		return nil, fmt.Errorf("store channel: %w", err)
	}

	logger.Info("{catalog/catalog - CreateChannel} %s added channel %q (%s)", caller.Username, ch.Name, utils.LogURL(c.obfuscate, ch.URL))
	return ch, nil
}

// BulkCreateChannels creates every valid entry of inputs. Origins are probed concurrently on
// the worker pool; entries that fail validation or probing are reported, not fatal.
func (c *Catalog) BulkCreateChannels(ctx context.Context, caller types.Identity, inputs []ChannelInput) (*BulkResult, error) {
	if !caller.Role.AtLeast(types.RoleUser) {
		return nil, ErrForbidden
	}

	result := &BulkResult{Created: []*types.Channel{}, Failed: []BulkFailure{}}
	candidates := make([]*types.Channel, len(inputs))
	probeErrs := make([]error, len(inputs))

	for i, in := range inputs {
		ch, err := c.buildChannel(caller, in)
		if err != nil {
			probeErrs[i] = err
			continue
		}
		candidates[i] = ch
	}

	if c.validate {
		var wg sync.WaitGroup
		for i, ch := range candidates {
			if ch == nil {
				continue
			}
			wg.Add(1)
			task := func() {
				defer wg.Done()
				probeErrs[i] = c.probe(ctx, ch.URL)
			}
			if c.pool == nil {
				go task()
				continue
			}
			if err := c.pool.Submit(task); err != nil {
				wg.Done()
				probeErrs[i] = fmt.Errorf("schedule probe: %w", err)
			}
		}
		wg.Wait()
	}

	var valid []*types.Channel
	for i, ch := range candidates {
		if probeErrs[i] != nil {
			result.Failed = append(result.Failed, BulkFailure{Index: i, Name: inputs[i].Name, Error: probeErrs[i].Error()})
			continue
		}
		valid = append(valid, ch)
	}

	if len(valid) > 0 {
		if err := c.repo.InsertChannels(ctx, valid); err != nil {
			return nil, fmt.Errorf("store channels: %w", err)
		}
		result.Created = valid
	}

	logger.Info("{catalog/catalog - BulkCreateChannels} %s added %d channel(s), %d rejected",
		caller.Username, len(result.Created), len(result.Failed))
	return result, nil
}

// ImportM3U creates channels from an extended M3U document. Entries rejected by f are skipped
// before any validation; categories come from filter.Classify, and tvg-logo, tvg-country and
// tvg-language fill the matching fields.
func (c *Catalog) ImportM3U(ctx context.Context, caller types.Identity, r io.Reader, f *filter.ImportFilter) (*BulkResult, error) {
	entries, err := parser.ParseM3U(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}
	entries = f.Apply(entries)

	inputs := make([]ChannelInput, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, ChannelInput{
			Name:     e.Name,
			URL:      e.URL,
			LogoURL:  e.Attributes["tvg-logo"],
			Category: filter.Classify(e),
			Country:  strings.ToUpper(e.Attributes["tvg-country"]),
			Language: strings.ToLower(e.Attributes["tvg-language"]),
		})
	}
	return c.BulkCreateChannels(ctx, caller, inputs)
}

// ListChannels returns active channels matching f.
func (c *Catalog) ListChannels(ctx context.Context, f types.ChannelFilter) ([]*types.Channel, error) {
	f.ActiveOnly = true
	if f.Category != "" && !f.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidChannel, f.Category)
	}
	channels, err := c.repo.ListChannels(ctx, f)
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	return channels, nil
}

// DeactivateChannel removes a channel from future manifests. Admin only.
func (c *Catalog) DeactivateChannel(ctx context.Context, caller types.Identity, id string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	found, err := c.repo.DeactivateChannel(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrChannelNotFound
	}
	if c.cache != nil {
		c.cache.Invalidate(id)
	}
	logger.Info("{catalog/catalog - DeactivateChannel} %s deactivated channel %s", caller.Username, id)
	return nil
}

// ActiveChannels returns the active channels among ids, keyed by id. Recently read channels
// come from the cache; the rest are loaded in one query.
func (c *Catalog) ActiveChannels(ctx context.Context, ids []string) (map[string]*types.Channel, error) {
	found := make(map[string]*types.Channel, len(ids))
	var missing []string

	for _, id := range ids {
		if _, dup := found[id]; dup {
			continue
		}
		if c.cache != nil {
			if ch, ok := c.cache.Get(id); ok {
				found[id] = ch
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := c.repo.ActiveChannels(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load channels: %w", err)
		}
		for _, ch := range loaded {
			found[ch.ID] = ch
			if c.cache != nil {
				c.cache.Set(ch)
			}
		}
	}

	return found, nil
}

func (c *Catalog) buildChannel(caller types.Identity, in ChannelInput) (*types.Channel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidChannel)
	}
	if err := checkHTTPURL(in.URL); err != nil {
		return nil, err
	}
	if in.LogoURL != "" {
		if err := checkHTTPURL(in.LogoURL); err != nil {
			return nil, fmt.Errorf("%w: bad logo_url", ErrInvalidChannel)
		}
	}

	category := in.Category
	if category == "" {
		category = types.CategoryGeneral
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidChannel, in.Category)
	}
	if in.Country != "" && !countryPattern.MatchString(in.Country) {
		return nil, fmt.Errorf("%w: country must be a two-letter upper-case code", ErrInvalidChannel)
	}
	if in.Language != "" && !languagePattern.MatchString(in.Language) {
		return nil, fmt.Errorf("%w: language must be a two or three letter lower-case code", ErrInvalidChannel)
	}

	quality := in.Quality
	if quality == "" {
		quality = "HD"
	}

	return &types.Channel{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       strings.TrimSpace(in.URL),
		LogoURL:   in.LogoURL,
		Category:  category,
		Country:   in.Country,
		Language:  in.Language,
		Quality:   quality,
		IsActive:  true,
		CreatedBy: caller.UserID,
		CreatedAt: c.now(),
	}, nil
}

func (c *Catalog) probe(ctx context.Context, origin string) error {
	if !c.validate {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := parser.Probe(ctx, c.prober, origin)
	if err != nil {
		metrics.ChannelProbes.WithLabelValues("failed").Inc()
		logger.Warn("{catalog/catalog - probe} origin %s failed validation: %v", utils.LogURL(c.obfuscate, origin), err)
		return fmt.Errorf("%w: stream URL is not accessible", ErrInvalidChannel)
	}
	metrics.ChannelProbes.WithLabelValues(string(res.Kind)).Inc()
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidChannel)
	}
	return nil
}
