// Package metrics provides Prometheus metrics for the matching and call flows
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		searches,
		matches,
		accepts,
		rejections,
		handoffs,
		desyncs,
		realtimeConnects,
		callsActive,
		callsEnded,
		callExtensions,
		mediaFailures,
	)
}

// SearchStarted records a search request; trigger is user, scheduled or rematch.
func SearchStarted(trigger string) {
	searches.WithLabelValues(trigger).Inc()
}

// MatchFound records how the match was learned: response or event.
func MatchFound(source string) {
	matches.WithLabelValues(source).Inc()
}

func AcceptResolved(result string) {
	accepts.WithLabelValues(result).Inc()
}

func Rejected(side string) {
	rejections.WithLabelValues(side).Inc()
}

func HandedOff() {
	handoffs.Inc()
}

// ProtocolDesync records an inbound event dropped because it fit no transition.
func ProtocolDesync(eventType string) {
	desyncs.WithLabelValues(eventType).Inc()
}

func RealtimeConnect(result string) {
	realtimeConnects.WithLabelValues(result).Inc()
}

func CallStarted() {
	callsActive.Inc()
}

func CallEnded(reason string) {
	callsActive.Dec()
	callsEnded.WithLabelValues(reason).Inc()
}

func CallExtended() {
	callExtensions.Inc()
}

func MediaFailure(kind, action string) {
	mediaFailures.WithLabelValues(kind, action).Inc()
}

var (
	searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_searches_total",
			Help: "Total number of search requests issued",
		},
		[]string{"trigger"},
	)

	matches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_matches_total",
			Help: "Total number of matches, by how they were learned",
		},
		[]string{"source"},
	)

	accepts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_accepts_total",
			Help: "Total number of local accepts, by outcome",
		},
		[]string{"result"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_rejections_total",
			Help: "Total number of rejections, by rejecting side",
		},
		[]string{"side"},
	)

	handoffs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roulette_handoffs_total",
			Help: "Total number of mutual acceptances handed to the call layer",
		},
	)

	desyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_protocol_desync_total",
			Help: "Total number of inbound events dropped as stale or out of order",
		},
		[]string{"event"},
	)

	realtimeConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_realtime_connects_total",
			Help: "Total number of realtime connect attempts, by result",
		},
		[]string{"result"},
	)

	// Gauge metrics
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roulette_calls_active",
			Help: "Number of call sessions currently running",
		},
	)

	callsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_calls_ended_total",
			Help: "Total number of ended calls, by termination reason",
		},
		[]string{"reason"},
	)

	callExtensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roulette_call_extensions_total",
			Help: "Total number of calls extended after mutual continuation",
		},
	)

	mediaFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_media_failures_total",
			Help: "Total number of media setup failures, by kind and policy action",
		},
		[]string{"kind", "action"},
	)
)
