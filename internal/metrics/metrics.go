package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "craftd"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server launches.",
		}, []string{"profile"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of server stops by mode (graceful, forced, exited).",
		}, []string{"profile", "mode"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of operator requested restarts.",
		}, []string{"profile"},
	)
	serverRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "running",
			Help:      "1 while the profile's server process is alive.",
		}, []string{"profile"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by result (hit, miss, invalid).",
		}, []string{"result"},
	)
	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "downloads_total",
			Help:      "Artifact and runtime downloads by kind and outcome.",
		}, []string{"kind", "outcome"},
	)
	downloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "download_bytes_total",
			Help:      "Bytes transferred by downloads.",
		}, []string{"kind"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of artifact fetches by source (cache, network).",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"},
	)
	detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "version_detections_total",
			Help:      "Version detections by the heuristic that produced the result.",
		}, []string{"source"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverRestarts, serverRunning,
		cacheLookups, downloads, downloadBytes, fetchDuration, detections,
		cpuPercent, memoryRSS, numThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(profile string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(profile).Inc()
		serverRunning.WithLabelValues(profile).Set(1)
	}
}

// IncStop records a stop. mode is graceful, forced or exited.
func IncStop(profile, mode string) {
	if regOK.Load() {
		serverStops.WithLabelValues(profile, mode).Inc()
		serverRunning.WithLabelValues(profile).Set(0)
	}
}

func IncRestart(profile string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(profile).Inc()
	}
}

// IncCacheLookup records a cache probe: hit, miss or invalid.
func IncCacheLookup(result string) {
	if regOK.Load() {
		cacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveDownload records one finished download of kind (artifact or runtime).
func ObserveDownload(kind string, bytes int64, err error) {
	if !regOK.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	downloads.WithLabelValues(kind, outcome).Inc()
	if bytes > 0 {
		downloadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

func ObserveFetch(source string, seconds float64) {
	if regOK.Load() {
		fetchDuration.WithLabelValues(source).Observe(seconds)
	}
}

func IncDetection(source string) {
	if regOK.Load() {
		detections.WithLabelValues(source).Inc()
	}
}
