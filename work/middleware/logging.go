// Package middleware holds the HTTP wrappers shared by every route.
package middleware

import (
	"net/http"
	"time"

	"iptv-gate/work/logger"
)

// statusRecorder remembers the status and body size written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush is required so relays keep streaming through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger logs method, path, status, size and duration of every request. Proxy paths
// carry tokens, so only the route prefix is logged for them.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		path := redactPath(r.URL.EscapedPath())

		switch {
		case status >= 500:
			logger.Warn("{middleware/logging - RequestLogger} %s %s %d %dB %s", r.Method, path, status, rec.bytes, time.Since(start))
		default:
			logger.Debug("{middleware/logging - RequestLogger} %s %s %d %dB %s", r.Method, path, status, rec.bytes, time.Since(start))
		}
	})
}

const proxyPrefix = "/stream/proxy/"

// redactPath drops the token and origin from proxy paths and the code from playlist paths.
func redactPath(p string) string {
	if len(p) > len(proxyPrefix) && p[:len(proxyPrefix)] == proxyPrefix {
		return proxyPrefix + "…"
	}
	const playlistPrefix = "/playlist/"
	if len(p) > len(playlistPrefix) && p[:len(playlistPrefix)] == playlistPrefix {
		rest := p[len(playlistPrefix):]
		for i := len(rest) - 1; i >= 0; i-- {
			if rest[i] == '/' {
				return playlistPrefix + "…" + rest[i:]
			}
		}
		return playlistPrefix + "…"
	}
	return p
}
