// Package metrics exposes Prometheus collectors for sends, intake outcomes
// and queue depth.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Send results.
const (
	SendSent    = "sent"
	SendFailed  = "failed"
	SendSkipped = "skipped"
)

// Metrics holds the outreach collectors. A nil *Metrics records nothing.
type Metrics struct {
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	intake       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	gatherer     prometheus.Gatherer
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on their own registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.NewRegistry())
	})
	return defaultMetrics
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_sends_total",
			Help: "Queue items processed by the dispatcher, by result.",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_send_duration_seconds",
			Help:    "Mailer call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_intake_total",
			Help: "Discovery candidates processed, by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_queue_depth",
			Help: "Queue items by status as of the last stats read.",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(m.sends, m.sendDuration, m.intake, m.queueDepth)
	return m
}

// RecordSend counts one dispatched item.
func (m *Metrics) RecordSend(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
	if took > 0 {
		m.sendDuration.Observe(took.Seconds())
	}
}

// RecordIntake counts one intake outcome.
func (m *Metrics) RecordIntake(outcome string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes a stats snapshot.
func (m *Metrics) SetQueueDepth(st *model.QueueStats) {
	if m == nil || st == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(model.QueuePending)).Set(float64(st.Pending))
	m.queueDepth.WithLabelValues(string(model.QueueSending)).Set(float64(st.Sending))
	m.queueDepth.WithLabelValues("sent_today").Set(float64(st.SentToday))
	m.queueDepth.WithLabelValues(string(model.QueueFailed)).Set(float64(st.Failed))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
