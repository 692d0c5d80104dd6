package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal counts device polls by outcome ("online" or "offline")
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_polls_total",
			Help: "Total number of device telemetry polls",
		},
		[]string{"miner", "result"},
	)

	// PollDuration is the wall time of a single device poll
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerdash_poll_duration_seconds",
			Help:    "Device telemetry poll duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"miner"},
	)

	// TickDuration is the wall time of a full collector tick
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minerdash_tick_duration_seconds",
			Help:    "Duration of one collector tick across all devices",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BlocksCredited counts blocks added to the cumulative ledger
	BlocksCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_blocks_credited_total",
			Help: "Blocks credited to the cumulative ledger",
		},
		[]string{"miner"},
	)

	// CounterResets counts detected device-local block counter resets
	CounterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_counter_resets_total",
			Help: "Device block counter resets detected",
		},
		[]string{"miner"},
	)

	// MinerHashrate is the last reported hashrate in TH/s
	MinerHashrate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minerdash_miner_hashrate_ths",
			Help: "Last reported hashrate in TH/s",
		},
		[]string{"miner"},
	)

	// MinersOnline is the number of devices online in the last tick
	MinersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minerdash_miners_online",
			Help: "Devices that answered in the last tick",
		},
	)

	// MarketErrors counts failed external market requests
	MarketErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_market_errors_total",
			Help: "Failed coin price, difficulty or logo requests",
		},
		[]string{"source"},
	)

	// Rollovers counts completed weekly rollovers
	Rollovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minerdash_rollovers_total",
			Help: "Weekly rollovers performed",
		},
	)

	// StateSaveErrors counts failed durable state writes
	StateSaveErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_state_save_errors_total",
			Help: "Durable state writes that failed",
		},
		[]string{"kind"},
	)

	// WebhookErrors counts failed notifier posts
	WebhookErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minerdash_webhook_errors_total",
			Help: "Webhook notifications that failed to deliver",
		},
	)

	// HTTPRequests counts API requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerdash_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
