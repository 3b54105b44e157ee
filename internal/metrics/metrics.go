// Package metrics holds the prometheus collectors shared by the duel
// components. They are registered with the default registry and served
// from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DuelsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_duels_resolved_total",
			Help: "Sessions resolved by this process, by reason and result for player A",
		},
		[]string{"reason", "result"},
	)
	DuelsAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rps_duels_abandoned_total",
			Help: "Sessions torn down because the shared record disappeared before resolution",
		},
	)
	ScoreCommits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rps_score_commits_total",
			Help: "Winner score increments written by this process",
		},
	)
	Invites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_invites_total",
			Help: "Invites by outcome (sent, accepted, declined, expired, cancelled)",
		},
		[]string{"outcome"},
	)
	PresenceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_presence_writes_total",
			Help: "Presence flag writes by state",
		},
		[]string{"state"},
	)
	StoreWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_store_write_errors_total",
			Help: "Failed shared store writes, by component",
		},
		[]string{"component"},
	)
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_rate_limit_decisions_total",
			Help: "Join and connect requests seen by the rate limiters, by limiter and decision",
		},
		[]string{"limiter", "decision"},
	)
	ConnectedPlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rps_ws_connected_players",
			Help: "Websocket connections currently attached",
		},
	)
)

func init() {
	prometheus.MustRegister(DuelsResolved)
	prometheus.MustRegister(DuelsAbandoned)
	prometheus.MustRegister(ScoreCommits)
	prometheus.MustRegister(Invites)
	prometheus.MustRegister(PresenceWrites)
	prometheus.MustRegister(StoreWriteErrors)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(ConnectedPlayers)
}
