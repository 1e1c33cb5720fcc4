package cache

import (
	"time"

	"iptv-gate/work/types"

	"github.com/maypok86/otter/v2"
)

const defaultMaxChannels = 10_000

// ChannelCache holds recently read channel records for a bounded time so that manifest
// renders do not hit the database for every channel of every playlist.
type ChannelCache struct {
	channels *otter.Cache[string, *types.Channel]
}

// NewChannelCache creates a cache whose entries expire ttl after they were written.
// A non-positive ttl falls back to 30 seconds.
func NewChannelCache(ttl time.Duration) *ChannelCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ChannelCache{
		channels: otter.Must(&otter.Options[string, *types.Channel]{
			MaximumSize:      defaultMaxChannels,
			ExpiryCalculator: otter.ExpiryWriting[string, *types.Channel](ttl),
		}),
	}
}

// Get returns a cached channel.
func (c *ChannelCache) Get(id string) (*types.Channel, bool) {
	return c.channels.GetIfPresent(id)
}

// Set caches ch under its id.
func (c *ChannelCache) Set(ch *types.Channel) {
	c.channels.Set(ch.ID, ch)
}

// Invalidate drops a single channel, typically after it was deactivated.
func (c *ChannelCache) Invalidate(id string) {
	c.channels.Invalidate(id)
}

// Clear drops every entry.
func (c *ChannelCache) Clear() {
	c.channels.InvalidateAll()
}
