// Package metrics declares the prometheus collectors of the node. They are registered on the default registry and
// served by promhttp when the node starts with metrics enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lnnode"

// Results of a handled event.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Events counts the protocol events handled, by kind and result.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Protocol events handled by the coordinator.",
	}, []string{"kind", "result"})

	// Requests counts the operator requests served, by command and HTTP status code.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Operator requests served by the REST API.",
	}, []string{"command", "code"})

	// Ledger counts payment records inserted or transitioned, by direction and resulting status.
	Ledger = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_transitions_total",
		Help:      "Payment ledger records inserted or transitioned.",
	}, []string{"direction", "status"})

	// FeesEarned sums the routing fees earned by forwarding payments, in millisatoshis.
	FeesEarned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarding_fees_msat_total",
		Help:      "Routing fees earned by forwarded payments.",
	})
)
