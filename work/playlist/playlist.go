// Package playlist renders manifests whose channel URLs point at the proxy gateway instead of
// the origin streams.
package playlist

import (
	"fmt"
	"strings"
	"time"

	"iptv-gate/work/token"
	"iptv-gate/work/types"
)

// Minter issues proxy tokens.
type Minter interface {
	Mint(origin, issuerID string, ttl time.Duration) (string, error)
}

// Renderer builds manifests. Every render mints fresh tokens, so two renders of the same
// playlist never share proxy URLs and nothing here may be cached across requests.
type Renderer struct {
	minter  Minter
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewRenderer returns a Renderer that links to baseURL and mints tokens valid for ttl.
func NewRenderer(minter Minter, baseURL string, ttl time.Duration) *Renderer {
	return &Renderer{
		minter:  minter,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Entry is one rendered channel.
type Entry struct {
	Channel  *types.Channel
	ProxyURL string
}

// Entries resolves the playlist's channel ids against active, in playlist order. Ids that are
// missing from active, or whose channel has since been deactivated, are skipped.
func (r *Renderer) Entries(p *types.Playlist, active map[string]*types.Channel, issuerID string) ([]Entry, error) {
	entries := make([]Entry, 0, len(p.ChannelIDs))
	for _, id := range p.ChannelIDs {
		ch, ok := active[id]
		if !ok || ch == nil || !ch.IsActive {
			continue
		}
		proxyURL, err := r.ProxyURL(ch.URL, issuerID)
		if err != nil {
			return nil, fmt.Errorf("render channel %s: %w", ch.ID, err)
		}
		entries = append(entries, Entry{Channel: ch, ProxyURL: proxyURL})
	}
	return entries, nil
}

// ProxyURL mints a token for origin and returns the gateway URL that carries it.
func (r *Renderer) ProxyURL(origin, issuerID string) (string, error) {
	tok, err := r.minter.Mint(origin, issuerID, r.ttl)
	if err != nil {
		return "", err
	}
	return r.baseURL + "/stream/proxy/" + tok + "/" + token.EncodeOrigin(origin), nil
}

// RenderM3U8 returns an extended M3U playlist.
func (r *Renderer) RenderM3U8(p *types.Playlist, active map[string]*types.Channel, issuerID string) (string, error) {
	entries, err := r.Entries(p, active, issuerID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(64 + len(entries)*300)
	b.WriteString("#EXTM3U\n")
	b.WriteString("#PLAYLIST:" + clean(p.Name) + "\n")

	for _, e := range entries {
		ch := e.Channel
		b.WriteString("#EXTINF:-1")
		writeAttr(&b, "tvg-id", ch.ID)
		writeAttr(&b, "tvg-name", ch.Name)
		writeAttr(&b, "tvg-logo", ch.LogoURL)
		writeAttr(&b, "tvg-country", ch.Country)
		writeAttr(&b, "tvg-language", ch.Language)
		writeAttr(&b, "group-title", string(ch.Category))
		b.WriteString("," + clean(ch.Name) + "\n")
		b.WriteString(e.ProxyURL + "\n")
	}

	return b.String(), nil
}

// Document is the JSON form of a rendered playlist.
type Document struct {
	Playlist DocumentInfo      `json:"playlist"`
	Channels []DocumentChannel `json:"channels"`
}

// DocumentInfo carries playlist metadata.
type DocumentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ChannelCount int       `json:"channel_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// DocumentChannel is one channel of a Document. URL is the proxy URL, never the origin.
type DocumentChannel struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	LogoURL  string         `json:"logo_url,omitempty"`
	Category types.Category `json:"category"`
	Country  string         `json:"country,omitempty"`
	Language string         `json:"language,omitempty"`
	Quality  string         `json:"quality,omitempty"`
}

// RenderJSON returns the structured form of the same manifest.
func (r *Renderer) RenderJSON(p *types.Playlist, active map[string]*types.Channel, issuerID string) (*Document, error) {
	entries, err := r.Entries(p, active, issuerID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Playlist: DocumentInfo{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			ChannelCount: len(entries),
			GeneratedAt:  r.now().UTC(),
		},
		Channels: make([]DocumentChannel, 0, len(entries)),
	}
	for _, e := range entries {
		ch := e.Channel
		doc.Channels = append(doc.Channels, DocumentChannel{
			ID:       ch.ID,
			Name:     ch.Name,
			URL:      e.ProxyURL,
			LogoURL:  ch.LogoURL,
			Category: ch.Category,
			Country:  ch.Country,
			Language: ch.Language,
			Quality:  ch.Quality,
		})
	}
	return doc, nil
}

func writeAttr(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" " + key + "=\"" + strings.ReplaceAll(clean(value), "\"", "'") + "\"")
}

// clean keeps user-supplied text on one manifest line.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
