package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Restart reasons used as the "reason" label.
const (
	ReasonPolicy = "policy" // automatic restart after a crash
	ReasonWatch  = "watch"  // watched file changed
	ReasonUser   = "user"   // explicit restart request
	ReasonReload = "reload" // descriptor changed on config reload
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "starts_total",
			Help:      "Number of successful app starts.",
		}, []string{"name"},
	)
	appRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "restarts_total",
			Help:      "Number of restarts by reason.",
		}, []string{"name", "reason"},
	)
	appStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "stops_total",
			Help:      "Number of requested stops (graceful or kill).",
		}, []string{"name"},
	)
	appCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "crashes_total",
			Help:      "Number of unexpected exits and spawn failures.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different app states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "current_state",
			Help:      "Current state of apps (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appStarts, appRestarts, appStops, appCrashes, stateTransitions, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		appStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		appRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		appStops.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		appCrashes.WithLabelValues(name).Inc()
	}
}

// RecordTransition counts a transition and moves the current-state gauge.
func RecordTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	currentStates.WithLabelValues(name, from).Set(0)
	currentStates.WithLabelValues(name, to).Set(1)
}

// Forget drops every series labelled with name, used when an app is removed.
func Forget(name string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"name": name}
	appStarts.DeletePartialMatch(l)
	appRestarts.DeletePartialMatch(l)
	appStops.DeletePartialMatch(l)
	appCrashes.DeletePartialMatch(l)
	stateTransitions.DeletePartialMatch(l)
	currentStates.DeletePartialMatch(l)
	usageCPU.DeletePartialMatch(l)
	usageRSS.DeletePartialMatch(l)
	usageThreads.DeletePartialMatch(l)
}
