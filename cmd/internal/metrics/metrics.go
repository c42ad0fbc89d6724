// Package metrics declares the server's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "startd"

var (
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts by result (ok, fail, throttled).",
	}, []string{"result"})

	SessionsKilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_killed_total",
		Help:      "Sessions ended by logout or kill.",
	})

	OpenWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "authed_websockets_open",
		Help:      "WebSockets registered against a session.",
	})

	ContinuationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "continuations_pending",
		Help:      "RPC continuations waiting to be claimed.",
	})

	ContinuationClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "continuation_claims_total",
		Help:      "Continuation claims by transport and outcome (hit, miss, expired).",
	}, []string{"transport", "outcome"})

	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC calls by method and result kind.",
	}, []string{"method", "kind"})

	ClockSynced = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clock_synced",
		Help:      "1 once the system clock reported NTP synchronization.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
