// Package metrics defines Prometheus metrics for the marketplace server.
//
// Metric naming follows Prometheus conventions:
//   - marketplace_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionDecisionsTotal counts session bridge outcomes by decision
	// (pass, login, dashboard, admin_denied).
	SessionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_session_decisions_total",
			Help: "Session bridge decisions by outcome.",
		},
		[]string{"decision"},
	)

	// AuthCallbackTotal counts auth callback outcomes
	// (ok, no_code, exchange_error, callback_error).
	AuthCallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_auth_callback_total",
			Help: "Auth callback code exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	// RoleUpgradesTotal counts self-service role upgrades by result.
	RoleUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_role_upgrades_total",
			Help: "Self-service upgrades to inserzionista by result.",
		},
		[]string{"result"},
	)

	// ListingModerationTotal counts moderation actions by resulting status.
	ListingModerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_listing_moderation_total",
			Help: "Listing moderation actions by resulting status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionDecisionsTotal,
		AuthCallbackTotal,
		RoleUpgradesTotal,
		ListingModerationTotal,
	)
}
