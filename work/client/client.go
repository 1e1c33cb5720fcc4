package client

import (
	"net"
	"net/http"
	"time"

	"iptv-gate/work/config"
)

// UpstreamClient wraps http.Client for talking to origin streams. It sets the configured
// request headers and bounds the dial and response-header phases. There is no overall
// timeout: relays are long-lived, and body stalls are handled by the caller.
type UpstreamClient struct {
	Client    *http.Client
	userAgent string
}

// NewUpstreamClient builds the client from the upstream settings in cfg.
func NewUpstreamClient(cfg *config.Config) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   cfg.UpstreamConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   cfg.UpstreamConnectTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamHeaderTimeout,
		},
	}

	return &UpstreamClient{
		Client:    client,
		userAgent: cfg.UserAgent,
	}
}

// Do sends req after applying the standard upstream headers.
func (uc *UpstreamClient) Do(req *http.Request) (*http.Response, error) {
	uc.setHeaders(req)
	return uc.Client.Do(req)
}

func (uc *UpstreamClient) setHeaders(req *http.Request) {
	if uc.userAgent != "" {
		req.Header.Set("User-Agent", uc.userAgent)
	}
	req.Header.Set("Accept", "*/*")
}
