package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestRecordSend(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSend(SendSent, 200*time.Millisecond)
	m.RecordSend(SendSent, 0)
	m.RecordSend(SendFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sends.WithLabelValues(SendSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues(SendFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sends.WithLabelValues(SendSkipped)))
}

func TestRecordIntakeAndQueueDepth(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIntake("ready")
	m.RecordIntake("excluded")
	m.RecordIntake("ready")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.intake.WithLabelValues("ready")))

	m.SetQueueDepth(&model.QueueStats{Pending: 7, Sending: 1, SentToday: 12, Failed: 2})
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("sent_today")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSend(SendSent, time.Second)
		m.RecordIntake("ready")
		m.SetQueueDepth(&model.QueueStats{})
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordSend(SendSent, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `outreach_sends_total{result="sent"} 1`)
}
