// Package metrics exposes Prometheus instruments for the coordination
// service. All collectors are registered on the default registry and served
// from the /metrics endpoint of each binary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedSessions tracks the number of live WebSocket sessions.
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roam_connected_sessions",
		Help: "Number of currently connected sessions",
	})

	// QueueSize tracks the number of sessions waiting for a match.
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roam_queue_size",
		Help: "Number of sessions in the matching queue",
	})

	// ActiveRooms tracks the number of rooms in the active state.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roam_active_rooms",
		Help: "Number of active rooms",
	})

	// MatchesTotal counts successful match commits.
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_matches_total",
		Help: "Total number of matches made",
	})

	// MatchConflictsTotal counts match attempts lost to a concurrent
	// committer. High rates indicate queue contention.
	MatchConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_match_conflicts_total",
		Help: "Total number of match attempts that lost a commit race",
	})

	// MessagesTotal counts relayed chat messages.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_messages_total",
		Help: "Total number of chat messages relayed",
	})

	// BlockedMessagesTotal counts messages rejected by the moderation
	// filter, labeled with the rejection reason.
	BlockedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roam_blocked_messages_total",
		Help: "Total number of messages blocked by moderation",
	}, []string{"reason"})

	// BansTotal counts bans applied, labeled with the ban reason.
	BansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roam_bans_total",
		Help: "Total number of bans applied",
	}, []string{"reason"})

	// ReportsTotal counts abuse reports submitted by peers.
	ReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_reports_total",
		Help: "Total number of abuse reports submitted",
	})

	// SweepReapedTotal counts sessions reaped by the presence sweeper.
	SweepReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_sweep_reaped_total",
		Help: "Total number of stale sessions reaped",
	})

	// RateLimitedTotal counts actions denied by the rate limiter,
	// labeled with the rule key prefix.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roam_rate_limited_total",
		Help: "Total number of actions denied by rate limiting",
	}, []string{"rule"})

	// SignalMessagesTotal counts relayed negotiation messages by type.
	SignalMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roam_signal_messages_total",
		Help: "Total number of negotiation messages relayed",
	}, []string{"type"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
