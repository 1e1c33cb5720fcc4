// Package proxy relays origin streams to players that present a valid proxy token.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"iptv-gate/work/buffer"
	"iptv-gate/work/logger"
	"iptv-gate/work/metrics"
	"iptv-gate/work/token"
	"iptv-gate/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

var (
	// ErrForbidden is the only rejection a caller ever sees, whatever check failed.
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timed out")
)

// retryAfterSeconds is sent with 502 and 504 responses.
const retryAfterSeconds = "5"

// State is the position of a proxy request in its lifecycle.
type State int

const (
	StateReceived State = iota
	StateTokenDecoded
	StateUpstreamFetched
	StateRelaying
	StateDone
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateTokenDecoded:
		return "TOKEN_DECODED"
	case StateUpstreamFetched:
		return "UPSTREAM_FETCHED"
	case StateRelaying:
		return "RELAYING"
	case StateDone:
		return "DONE"
	case StateRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decoder verifies proxy tokens.
type Decoder interface {
	Decode(tok string) (*token.Claims, error)
}

// Upstream opens connections to origins.
type Upstream interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Gateway.
type Options struct {
	Tokens        Decoder
	Upstream      Upstream
	Buffers       *buffer.BufferPool
	RateLimit     int           // upstream opens per second per origin host
	IdleTimeout   time.Duration // longest gap between upstream reads before the relay is cut
	ObfuscateURLs bool
}

// Gateway validates proxy requests and relays origin bytes. It holds no locks while relaying;
// each request owns its upstream connection.
type Gateway struct {
	tokens      Decoder
	upstream    Upstream
	buffers     *buffer.BufferPool
	limiters    *xsync.MapOf[string, ratelimit.Limiter]
	rate        int
	idleTimeout time.Duration
	obfuscate   bool

	active  atomic.Int64
	relayed atomic.Int64
}

// New builds a Gateway.
func New(opts Options) *Gateway {
	if opts.Buffers == nil {
		opts.Buffers = buffer.NewBufferPool(buffer.DefaultChunkSize)
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	return &Gateway{
		tokens:      opts.Tokens,
		upstream:    opts.Upstream,
		buffers:     opts.Buffers,
		limiters:    xsync.NewMapOf[string, ratelimit.Limiter](),
		rate:        opts.RateLimit,
		idleTimeout: opts.IdleTimeout,
		obfuscate:   opts.ObfuscateURLs,
	}
}

// ActiveRelays reports relays currently in progress.
func (g *Gateway) ActiveRelays() int64 { return g.active.Load() }

// RelayedBytes reports bytes delivered to players since start.
func (g *Gateway) RelayedBytes() int64 { return g.relayed.Load() }

// Authorize checks a proxy request. The origin segment is percent-decoded exactly once, the
// token is verified, and the token's origin must equal the decoded segment byte for byte.
// Every failure is ErrForbidden; reason says which check failed and is for logs only.
func (g *Gateway) Authorize(tok, encodedOrigin string) (claims *token.Claims, reason string, err error) {
	origin, err := token.DecodeOrigin(encodedOrigin)
	if err != nil {
		return nil, "bad_origin", ErrForbidden
	}

	claims, err = g.tokens.Decode(tok)
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return nil, "expired_token", ErrForbidden
	case err != nil:
		return nil, "invalid_token", ErrForbidden
	}

	if claims.Origin != origin {
		return nil, "origin_mismatch", ErrForbidden
	}
	return claims, "", nil
}

// Handle runs the whole proxy request and writes the response. It returns the state the
// request ended in.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request, tok, encodedOrigin string) State {
	claims, reason, err := g.Authorize(tok, encodedOrigin)
	if err != nil {
		metrics.ProxyRejections.WithLabelValues(reason).Inc()
		logger.Warn("{proxy/gateway - Handle} rejected proxy request from %s: %s", r.RemoteAddr, reason)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return StateRejected
	}
	logger.Debug("{proxy/gateway - Handle} %s for issuer %s: %s", StateTokenDecoded, claims.IssuerID, utils.LogURL(g.obfuscate, claims.Origin))

	state, err := g.Relay(w, r, claims)
	if err != nil && state < StateRelaying {
		switch {
		case errors.Is(err, ErrUpstreamTimeout):
			w.Header().Set("Retry-After", retryAfterSeconds)
			http.Error(w, "Upstream timed out", http.StatusGatewayTimeout)
		case errors.Is(err, ErrUpstreamUnavailable):
			w.Header().Set("Retry-After", retryAfterSeconds)
			http.Error(w, "Upstream unavailable", http.StatusBadGateway)
		}
	}
	return state
}

// Relay fetches the origin named by claims and copies its body to w. The upstream request is
// bound to the caller's context, so a disconnecting player closes the upstream connection.
// Errors that happen before any byte is written leave the response untouched; the returned
// state tells the caller whether headers have gone out.
func (g *Gateway) Relay(w http.ResponseWriter, r *http.Request, claims *token.Claims) (State, error) {
	origin := claims.Origin
	logURL := utils.LogURL(g.obfuscate, origin)

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		metrics.UpstreamErrors.WithLabelValues("unreachable").Inc()
		return StateTokenDecoded, fmt.Errorf("%w: bad origin URL", ErrUpstreamUnavailable)
	}
	g.limiterFor(u.Host).Take()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	method := http.MethodGet
	if r.Method == http.MethodHead {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, origin, nil)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("unreachable").Inc()
		return StateTokenDecoded, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := g.upstream.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			logger.Debug("{proxy/gateway - Relay} caller left before upstream answered: %s", logURL)
			return StateTokenDecoded, r.Context().Err()
		}
		if isTimeout(err) {
			metrics.UpstreamErrors.WithLabelValues("timeout").Inc()
			logger.Warn("{proxy/gateway - Relay} upstream timeout for %s: %v", logURL, err)
			return StateTokenDecoded, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		metrics.UpstreamErrors.WithLabelValues("unreachable").Inc()
		logger.Warn("{proxy/gateway - Relay} upstream unreachable %s: %v", logURL, err)
		return StateTokenDecoded, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
		logger.Warn("{proxy/gateway - Relay} upstream returned HTTP %d for %s", resp.StatusCode, logURL)
		return StateUpstreamFetched, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	h := w.Header()
	h.Set("Content-Type", "video/mp2t")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	h.Set("Cache-Control", "no-cache")
	for _, name := range []string{"Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	g.active.Add(1)
	metrics.ActiveRelays.Inc()
	defer func() {
		g.active.Add(-1)
		metrics.ActiveRelays.Dec()
	}()

	logger.Debug("{proxy/gateway - Relay} %s %s", StateRelaying, logURL)
	total, err := g.copy(ctx, cancel, w, resp.Body)
	if err != nil {
		logger.Debug("{proxy/gateway - Relay} relay of %s ended after %s: %v", logURL, utils.FormatBytes(total), err)
		return StateRelaying, err
	}

	logger.Debug("{proxy/gateway - Relay} %s after %s: %s", StateDone, utils.FormatBytes(total), logURL)
	return StateDone, nil
}

// copy moves body to w chunk by chunk, flushing each chunk. If no upstream read completes for
// idleTimeout the upstream request is cancelled.
func (g *Gateway) copy(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, body io.Reader) (int64, error) {
	var stalled atomic.Bool
	timer := time.AfterFunc(g.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer timer.Stop()

	buf := g.buffers.Get()
	defer g.buffers.Put(buf)
	chunk := buf.B

	flusher, _ := w.(http.Flusher)
	var total int64

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			timer.Reset(g.idleTimeout)
			if _, err := w.Write(chunk[:n]); err != nil {
				return total, fmt.Errorf("write to caller: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
			total += int64(n)
			g.relayed.Add(int64(n))
			metrics.RelayBytes.Add(float64(n))
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if stalled.Load() {
			metrics.UpstreamErrors.WithLabelValues("stall").Inc()
			return total, fmt.Errorf("%w: no data for %s", ErrUpstreamTimeout, g.idleTimeout)
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		metrics.UpstreamErrors.WithLabelValues("read").Inc()
		return total, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, readErr)
	}
}

func (g *Gateway) limiterFor(host string) ratelimit.Limiter {
	if g.rate <= 0 {
		return ratelimit.NewUnlimited()
	}
	limiter, _ := g.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		logger.Debug("{proxy/gateway - limiterFor} created %d req/sec limiter for %s", g.rate, host)
		return ratelimit.New(g.rate)
	})
	return limiter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
