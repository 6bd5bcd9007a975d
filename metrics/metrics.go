// Package metrics exposes bridge counters and gauges in Prometheus format
// for the admin HTTP endpoint.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the bridge.
type Metrics struct {
	SpotsReceived   *prometheus.CounterVec // spots received, by source feed
	SpotsEmitted    *prometheus.CounterVec // decodes sent to GridTracker, by band and mode
	SpotsDuplicate  prometheus.Counter     // spots dropped by the deduplicator
	SpotsFiltered   prometheus.Counter     // spots rejected by band/mode filters
	CacheLive       prometheus.Gauge       // entries in the live cache
	CacheStale      prometheus.Gauge       // entries held in the stale grace window
	Instances       prometheus.Gauge       // active (band, mode) emitter instances
	TelnetClients   prometheus.Gauge       // connected downstream telnet clients
	ClusterUp       prometheus.Gauge       // upstream cluster connection status
	GridLookups     prometheus.Counter     // QRZ lookups performed
	GridHits        prometheus.Counter     // grids resolved from the local store
	QSOsLogged      prometheus.Counter     // QSO notifications forwarded to GridTracker
	goroutineCount  prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
}

// New creates and registers all bridge metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SpotsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtbridge_spots_received_total",
				Help: "Spots received from upstream feeds by source",
			},
			[]string{"source"},
		),
		SpotsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gtbridge_spots_emitted_total",
				Help: "Decode messages sent to GridTracker by band and mode",
			},
			[]string{"band", "mode"},
		),
		SpotsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gtbridge_spots_duplicate_total",
			Help: "Spots dropped as duplicates",
		}),
		SpotsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gtbridge_spots_filtered_total",
			Help: "Spots rejected by band or mode filters",
		}),
		CacheLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_cache_live_entries",
			Help: "Entries currently in the live spot cache",
		}),
		CacheStale: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_cache_stale_entries",
			Help: "Expired entries held for late tune requests",
		}),
		Instances: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_instances",
			Help: "Active band/mode emitter instances",
		}),
		TelnetClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_telnet_clients",
			Help: "Connected downstream telnet clients",
		}),
		ClusterUp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_cluster_connected",
			Help: "Upstream cluster connection status (1=connected)",
		}),
		GridLookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gtbridge_grid_lookups_total",
			Help: "QRZ grid lookups performed",
		}),
		GridHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gtbridge_grid_store_hits_total",
			Help: "Grids resolved from the local SQLite store",
		}),
		QSOsLogged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gtbridge_qsos_logged_total",
			Help: "QSO notifications forwarded to GridTracker",
		}),
		goroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryHeapBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gtbridge_memory_heap_bytes",
			Help: "Current heap memory in bytes",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartResourceUpdater samples runtime stats until stop closes.
func (m *Metrics) StartResourceUpdater(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateResources()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Metrics) updateResources() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goroutineCount.Set(float64(runtime.NumGoroutine()))
	m.memoryHeapBytes.Set(float64(ms.HeapAlloc))
}
