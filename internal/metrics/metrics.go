package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_events_recorded_total",
		Help: "Total number of session events recorded, labelled by kind.",
	}, []string{"kind"})

	SignalsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_signals_ingested_total",
		Help: "Total number of raw browser signals dispatched to observers, labelled by signal.",
	}, []string{"signal"})

	BeaconsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_beacons_sent_total",
		Help: "Total number of beacon payloads handed to the transport, labelled by mode and status.",
	}, []string{"mode", "status"})

	BeaconsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engage_beacons_dropped_total",
		Help: "Total number of beacon payloads dropped because the send queue was full.",
	})

	BeaconQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engage_beacon_queue_utilization_ratio",
		Help: "Current beacon queue utilization (0–1).",
	})

	PromptDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_prompt_decisions_total",
		Help: "Total number of prompts the engine asked the UI to show, labelled by prompt.",
	}, []string{"prompt"})

	Dismissals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_dismissals_total",
		Help: "Total number of persisted prompt dismissals, labelled by prompt.",
	}, []string{"prompt"})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_storage_errors_total",
		Help: "Total number of local storage failures, labelled by operation.",
	}, []string{"op"})

	ActiveContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engage_active_contexts",
		Help: "Number of browsing contexts currently hosted.",
	})

	EngagementScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engage_session_score",
		Help:    "Engagement score of sessions at flush time.",
		Buckets: []float64{5, 10, 15, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
)
