package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	uploadMetricsOnce     sync.Once
	uploadMetricsInstance *UploadMetrics
)

// UploadMetrics holds the Prometheus metrics for the upload pipeline.
// A nil *UploadMetrics is valid and records nothing.
type UploadMetrics struct {
	ChunksReceived    *prometheus.CounterVec // lanshare_upload_chunks_received_total{delivery}
	BytesReceived     prometheus.Counter     // lanshare_upload_bytes_received_total
	SessionsCompleted prometheus.Counter     // lanshare_upload_sessions_completed_total
	SessionsFailed    prometheus.Counter     // lanshare_upload_sessions_failed_total
	SessionsRejected  prometheus.Counter     // lanshare_upload_sessions_rejected_total
	ActiveSessions    prometheus.Gauge       // lanshare_upload_active_sessions
	AssemblyDuration  prometheus.Histogram   // lanshare_upload_assembly_duration_seconds

	GCRuns          prometheus.Counter     // lanshare_gc_runs_total
	GCReclaimed     *prometheus.CounterVec // lanshare_gc_reclaimed_total{kind}
	GCReclaimedByte prometheus.Counter     // lanshare_gc_reclaimed_bytes_total
}

// InitUploadMetrics registers the metrics once; later calls return the same
// instance regardless of the registry passed.
func InitUploadMetrics(registry prometheus.Registerer) *UploadMetrics {
	uploadMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		factory := promauto.With(registry)
		uploadMetricsInstance = &UploadMetrics{
			ChunksReceived: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "lanshare_upload_chunks_received_total",
				Help: "Chunks accepted, by first delivery or re-delivery",
			}, []string{"delivery"}),

			BytesReceived: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_upload_bytes_received_total",
				Help: "Chunk bytes written to temporary storage",
			}),

			SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_upload_sessions_completed_total",
				Help: "Uploads assembled into their final file",
			}),

			SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_upload_sessions_failed_total",
				Help: "Uploads whose assembly failed",
			}),

			SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_upload_sessions_rejected_total",
				Help: "Chunks rejected because the session limit was reached",
			}),

			ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
				Name: "lanshare_upload_active_sessions",
				Help: "Sessions currently holding an admission slot",
			}),

			AssemblyDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "lanshare_upload_assembly_duration_seconds",
				Help:    "Time spent merging chunks into the final file",
				Buckets: prometheus.DefBuckets,
			}),

			GCRuns: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_gc_runs_total",
				Help: "Garbage collector sweeps",
			}),

			GCReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "lanshare_gc_reclaimed_total",
				Help: "Items reclaimed by the garbage collector, by kind",
			}, []string{"kind"}),

			GCReclaimedByte: factory.NewCounter(prometheus.CounterOpts{
				Name: "lanshare_gc_reclaimed_bytes_total",
				Help: "Temporary chunk bytes reclaimed by the garbage collector",
			}),
		}
	})

	return uploadMetricsInstance
}

func (m *UploadMetrics) RecordChunk(bytes int64, firstSight bool) {
	if m == nil {
		return
	}
	delivery := "redelivery"
	if firstSight {
		delivery = "first"
	}
	m.ChunksReceived.WithLabelValues(delivery).Inc()
	m.BytesReceived.Add(float64(bytes))
}

func (m *UploadMetrics) RecordCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
	m.AssemblyDuration.Observe(seconds)
}

func (m *UploadMetrics) RecordFailed() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

func (m *UploadMetrics) RecordRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}

func (m *UploadMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *UploadMetrics) RecordSweep(tempDirs, chunkBytes, abandoned, expiredRows int64) {
	if m == nil {
		return
	}
	m.GCRuns.Inc()
	m.GCReclaimed.WithLabelValues("temp_dir").Add(float64(tempDirs))
	m.GCReclaimed.WithLabelValues("abandoned_session").Add(float64(abandoned))
	m.GCReclaimed.WithLabelValues("expired_row").Add(float64(expiredRows))
	m.GCReclaimedByte.Add(float64(chunkBytes))
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
