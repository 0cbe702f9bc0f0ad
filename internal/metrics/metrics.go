package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SubmissionsAccepted prometheus.Counter
	SubmissionsRejected prometheus.Counter
	SubmissionsSpam     prometheus.Counter
	EmailSuccesses      prometheus.Counter
	EmailFailures       prometheus.Counter
	PluginDispatches    *prometheus.CounterVec
	PluginFailures      *prometheus.CounterVec
	OverQuota           prometheus.Counter
	ProcessingTime      prometheus.Histogram
	QueueDepth          prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SubmissionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_submissions_accepted_total",
			Help: "Total number of accepted form submissions",
		}),
		SubmissionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_submissions_rejected_total",
			Help: "Total number of rejected form submissions",
		}),
		SubmissionsSpam: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_submissions_spam_total",
			Help: "Total number of submissions silently dropped as spam",
		}),
		EmailSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_email_successes_total",
			Help: "Total number of successfully delivered notification emails",
		}),
		EmailFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_email_failures_total",
			Help: "Total number of failed notification email deliveries",
		}),
		PluginDispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_plugin_dispatches_total",
			Help: "Total number of plugin dispatch attempts",
		}, []string{"kind"}),
		PluginFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_plugin_failures_total",
			Help: "Total number of failed plugin dispatches",
		}, []string{"kind"}),
		OverQuota: promauto.NewCounter(prometheus.CounterOpts{
			Name: "formbridge_submissions_over_quota_total",
			Help: "Total number of submissions suppressed by the monthly quota",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "formbridge_processing_duration_seconds",
			Help:    "Time spent processing submissions",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "formbridge_worker_queue_depth",
			Help: "Number of submissions waiting in the processing queue",
		}),
	}
}
