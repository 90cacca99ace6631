package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sipua",
		Subsystem: "session",
		Name:      "active",
		Help:      "INVITE sessions currently registered with the dialog layer.",
	})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipua",
		Subsystem: "session",
		Name:      "refresh_total",
		Help:      "Session-refresh re-INVITEs sent, by outcome.",
	}, []string{"outcome"})

	terminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipua",
		Subsystem: "session",
		Name:      "terminated_total",
		Help:      "Sessions terminated, by reason.",
	}, []string{"reason"})
)

const (
	reasonBye          = "bye"
	reasonRefreshMissed = "refresh_missed"
	reasonLocal        = "local"

	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)
