package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates operational counters for the payment path and
// the scheduled jobs.
type Collector struct {
	registry *prometheus.Registry

	paymentsProcessed prometheus.Counter
	paymentsRejected  prometheus.Counter
	lateFeesApplied   prometheus.Counter
	creditsDefaulted  prometheus.Counter
	remindersSent     prometheus.Counter
	jobDuration       *prometheus.HistogramVec
	jobItemErrors     *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		registry: registry,
		paymentsProcessed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "payments_processed_total",
			Help: "Total number of completed payments",
		}),
		paymentsRejected: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "payments_rejected_total",
			Help: "Total number of payments rejected by business rules",
		}),
		lateFeesApplied: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "late_fees_applied_total",
			Help: "Total number of late fees assessed by the delinquency scanner",
		}),
		creditsDefaulted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "credits_defaulted_total",
			Help: "Total number of credits escalated to default",
		}),
		remindersSent: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "payment_reminders_sent_total",
			Help: "Total number of payment reminder notifications emitted",
		}),
		jobDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_run_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobItemErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "job_item_errors_total",
			Help: "Per-item failures tolerated by scheduled job runs",
		}, []string{"job"}),
	}
}

func (c *Collector) PaymentProcessed() { c.paymentsProcessed.Inc() }
func (c *Collector) PaymentRejected()  { c.paymentsRejected.Inc() }
func (c *Collector) LateFeeApplied()   { c.lateFeesApplied.Inc() }
func (c *Collector) CreditDefaulted()  { c.creditsDefaulted.Inc() }
func (c *Collector) ReminderSent()     { c.remindersSent.Inc() }

func (c *Collector) ObserveJobRun(job string, d time.Duration) {
	c.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (c *Collector) JobItemError(job string) {
	c.jobItemErrors.WithLabelValues(job).Inc()
}

// Handler exposes the registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
