package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"iptv-gate/work/logger"

	"github.com/grafov/m3u8"
)

// Kind classifies what an origin URL served when probed.
type Kind string

const (
	KindHLSMaster Kind = "hls-master"
	KindHLSMedia  Kind = "hls-media"
	KindStream    Kind = "stream"
)

// ErrUnplayable is returned when an origin answers but does not look like media.
var ErrUnplayable = errors.New("origin is not a playable stream")

// Doer is the subset of an HTTP client the probe needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProbeResult describes a reachable origin.
type ProbeResult struct {
	Kind     Kind
	Variants int
}

// sniffSize is how much of a non-playlist body is read to confirm it carries data.
const sniffSize = 188 * 4

// Probe fetches origin and checks that it serves either an HLS playlist that parses, or a
// byte stream. HLS playlists are decoded with grafov/m3u8.
func Probe(ctx context.Context, client Doer, origin string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnplayable, resp.StatusCode)
	}

	if isPlaylist(origin, resp.Header.Get("Content-Type")) {
		playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnplayable, err)
		}
		switch listType {
		case m3u8.MASTER:
			master := playlist.(*m3u8.MasterPlaylist)
			variants := 0
			for _, v := range master.Variants {
				if v != nil {
					variants++
				}
			}
			logger.Debug("{parser/probe - Probe} master playlist with %d variants", variants)
			return &ProbeResult{Kind: KindHLSMaster, Variants: variants}, nil
		case m3u8.MEDIA:
			return &ProbeResult{Kind: KindHLSMedia}, nil
		}
		return nil, ErrUnplayable
	}

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(resp.Body, head)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, fmt.Errorf("%w: empty body: %v", ErrUnplayable, err)
	}
	if strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return nil, fmt.Errorf("%w: html response", ErrUnplayable)
	}
	return &ProbeResult{Kind: KindStream}, nil
}

func isPlaylist(origin, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	path := origin
	if i := strings.IndexAny(path, "?#"); i != -1 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}
