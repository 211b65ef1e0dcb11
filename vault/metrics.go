package vault

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the vault's instrumentation. All collectors register on
// the Registerer supplied through Config.
type metrics struct {
	sessionsOpened  prometheus.Counter
	sessionsSettled prometheus.Counter
	sessionsAborted prometheus.Counter
	settleDuration  prometheus.Histogram

	swapsTotal        *prometheus.CounterVec
	liquidityOpsTotal *prometheus.CounterVec
	yieldFeeEvents    prometheus.Counter
}

func newMetrics(registry prometheus.Registerer) *metrics {
	m := &metrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "sessions_opened_total",
			Help:      "Number of unlock sessions opened.",
		}),
		sessionsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "sessions_settled_total",
			Help:      "Number of sessions that closed fully settled.",
		}),
		sessionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "sessions_aborted_total",
			Help:      "Number of sessions unwound without committing.",
		}),
		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "session_settle_duration_seconds",
			Help:      "Wall time from unlock to successful close.",
			Buckets:   prometheus.DefBuckets,
		}),
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "swaps_total",
			Help:      "Number of swaps executed, by pool and kind.",
		}, []string{"pool", "kind"}),
		liquidityOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "liquidity_ops_total",
			Help:      "Number of liquidity operations, by pool and op.",
		}, []string{"pool", "op"}),
		yieldFeeEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "yield_fee_events_total",
			Help:      "Number of yield-fee charges applied to a token balance.",
		}),
	}

	registry.MustRegister(
		m.sessionsOpened,
		m.sessionsSettled,
		m.sessionsAborted,
		m.settleDuration,
		m.swapsTotal,
		m.liquidityOpsTotal,
		m.yieldFeeEvents,
	)
	return m
}
