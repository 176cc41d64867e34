package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the session's Prometheus collectors. One set is created per
// Session against the configured registerer.
type metrics struct {
	framesIn         prometheus.Counter
	framesOut        prometheus.Counter
	rejectsOut       prometheus.Counter
	timeouts         *prometheus.CounterVec
	openTransactions prometheus.Gauge
	selected         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &metrics{
		framesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "hsms_frames_received_total",
			Help: "HSMS frames received.",
		}),
		framesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "hsms_frames_sent_total",
			Help: "HSMS frames sent.",
		}),
		rejectsOut: f.NewCounter(prometheus.CounterOpts{
			Name: "hsms_rejects_sent_total",
			Help: "Reject.req messages sent in response to malformed or unexpected input.",
		}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsms_timeouts_total",
			Help: "HSMS timer expiries.",
		}, []string{"timer"}),
		openTransactions: f.NewGauge(prometheus.GaugeOpts{
			Name: "hsms_open_transactions",
			Help: "Transactions awaiting a response.",
		}),
		selected: f.NewGauge(prometheus.GaugeOpts{
			Name: "hsms_selected",
			Help: "1 while the session is in the SELECTED state.",
		}),
	}
}
