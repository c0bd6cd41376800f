// Package metrics exposes fetch runs as Prometheus metrics.
//
// Metrics:
//   - ontime_fetch_outcomes_total{kind} (Counter): outcomes by kind
//   - ontime_fetch_bytes_total (Counter): bytes committed by fetched archives
//   - ontime_fetch_download_seconds (Histogram): duration of successful downloads
//   - ontime_fetch_http_status_total{code} (Counter): origin responses by status code
//   - ontime_fetch_last_run_timestamp_seconds (Gauge): finish time of the last run
//   - ontime_fetch_last_run_failures (Gauge): failed or unavailable periods in the last run
//   - ontime_fetch_last_run_aborted (Gauge): 1 if the last run was cancelled
//
// The CLI is short-lived, so metrics are written in the text exposition format
// for the node_exporter textfile collector rather than served.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// Collector records fetch outcomes into its own registry.
type Collector struct {
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	bytes        prometheus.Counter
	download     prometheus.Histogram
	httpStatus   *prometheus.CounterVec
	lastRun      prometheus.Gauge
	lastFailures prometheus.Gauge
	lastAborted  prometheus.Gauge
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontime_fetch_outcomes_total",
				Help: "Fetch task outcomes by kind",
			},
			[]string{"kind"},
		),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ontime_fetch_bytes_total",
			Help: "Bytes committed by fetched archives",
		}),
		download: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ontime_fetch_download_seconds",
			Help:    "Duration of successful archive downloads",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		httpStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontime_fetch_http_status_total",
				Help: "Origin responses by HTTP status code",
			},
			[]string{"code"},
		),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ontime_fetch_last_run_timestamp_seconds",
			Help: "Unix time the last fetch run finished",
		}),
		lastFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ontime_fetch_last_run_failures",
			Help: "Periods that produced no artifact in the last fetch run",
		}),
		lastAborted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ontime_fetch_last_run_aborted",
			Help: "1 if the last fetch run was cancelled",
		}),
	}

	// Pre-create every kind so absent kinds export as 0.
	for _, k := range bulkfetch.Kinds {
		c.outcomes.WithLabelValues(k.String())
	}
	return c
}

// Observe implements bulkfetch.Observer.
func (c *Collector) Observe(o bulkfetch.Outcome) {
	c.outcomes.WithLabelValues(o.Kind.String()).Inc()
	if o.StatusCode != 0 {
		c.httpStatus.WithLabelValues(strconv.Itoa(o.StatusCode)).Inc()
	}
	if o.Kind == bulkfetch.Succeeded {
		c.bytes.Add(float64(o.Size))
		c.download.Observe(o.Elapsed.Seconds())
	}
}

// RecordRun sets the last-run gauges from a finished summary.
func (c *Collector) RecordRun(s *bulkfetch.Summary) {
	if s == nil {
		return
	}
	c.lastRun.Set(float64(s.FinishedAt.Unix()))
	c.lastFailures.Set(float64(s.SkippedUnavailable + s.Failed))
	if s.Aborted {
		c.lastAborted.Set(1)
	} else {
		c.lastAborted.Set(0)
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile atomically writes all metrics to path in the text exposition
// format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
