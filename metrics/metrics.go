// Package metrics exposes Prometheus instrumentation for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatserver_ws_connections",
		Help: "Currently connected websocket clients.",
	})
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_messages_ingested_total",
		Help: "Messages accepted over HTTP or websocket.",
	})
	EventsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_events_broadcast_total",
		Help: "Events fanned out to websocket clients.",
	})
	EventsDLQ = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatserver_events_dlq_total",
		Help: "Events parked on the dead-letter topic.",
	})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatserver_http_requests_total",
		Help: "HTTP requests by route pattern and status.",
	}, []string{"route", "status"})
)

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler { return promhttp.Handler() }
