package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_relay_fetch_attempts_total",
			Help: "Total number of signed VAA fetch attempts",
		})
	relayResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_results_total",
			Help: "Total number of finished relays by final stage and outcome",
		}, []string{"stage", "outcome"})
	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_redemptions_total",
			Help: "Total number of completed redemptions by status",
		}, []string{"status"})
)
