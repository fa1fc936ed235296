package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	GatewayDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_gateway_decisions_total",
		Help: "Approve and complete outcomes by operation and result.",
	}, []string{"operation", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "droplink_gateway_duration_seconds",
		Help:    "Time spent in approve and complete.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_ledger_verification_failures_total",
		Help: "Completions whose blockchain transaction failed verification, by reason.",
	}, []string{"reason"})

	AdRewards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_ad_rewards_total",
		Help: "Ad reward verifications by mediator status.",
	}, []string{"status"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_ledger_effects_total",
		Help: "Downstream effects applied by the ledger service.",
	}, []string{"effect"})

	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_outbox_deliveries_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})

	RiskDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplink_risk_decisions_total",
		Help: "Purchase risk decisions.",
	}, []string{"decision"})
)
