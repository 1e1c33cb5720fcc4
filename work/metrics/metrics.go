package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CodeRedemptions counts access-code redemption attempts by outcome
// (ok, not_found, expired, limit_reached).
var CodeRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gate_code_redemptions_total",
	Help: "Access code redemption attempts by outcome",
}, []string{"outcome"})

// ManifestsRendered counts playlists served to players, labelled by format (m3u8 or json).
var ManifestsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gate_manifests_rendered_total",
	Help: "Playlist manifests rendered",
}, []string{"format"})

// ProxyRejections counts proxy requests refused before any upstream contact.
var ProxyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gate_proxy_rejections_total",
	Help: "Proxy requests rejected",
}, []string{"reason"})

// ActiveRelays is the number of relays currently copying bytes to a player.
var ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_gate_active_relays",
	Help: "Number of relays in progress",
})

// RelayBytes counts bytes delivered to players.
var RelayBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_gate_relay_bytes_total",
	Help: "Total bytes relayed to players",
})

// UpstreamErrors counts origin failures by type (unreachable, status, timeout, stall).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gate_upstream_errors_total",
	Help: "Upstream origin errors",
}, []string{"error_type"})

// ChannelProbes counts origin probes run when channels are created.
var ChannelProbes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gate_channel_probes_total",
	Help: "Channel origin probes by result",
}, []string{"result"})
