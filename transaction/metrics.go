package transaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks transaction creation/termination counts per side
// (client/server) so a process embedding this layer can expose them
// through promhttp the way example/proxysip already does for its own counters.
var (
	txCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipua",
		Subsystem: "transaction",
		Name:      "created_total",
		Help:      "Transactions created, by side (client/server).",
	}, []string{"side"})

	txTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipua",
		Subsystem: "transaction",
		Name:      "terminated_total",
		Help:      "Transactions terminated, by side (client/server).",
	}, []string{"side"})

	txActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sipua",
		Subsystem: "transaction",
		Name:      "active",
		Help:      "Transactions currently tracked by the layer, by side (client/server).",
	}, []string{"side"})
)

const (
	sideClient = "client"
	sideServer = "server"
)
