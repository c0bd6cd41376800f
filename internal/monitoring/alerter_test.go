package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
	"github.com/sells-group/ontime-cli/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	s := &bulkfetch.Summary{Total: 12, AlreadySatisfied: 4, Succeeded: 6, SkippedUnavailable: 1, Failed: 1}
	alerts := a.Evaluate("run-1", s)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	s := &bulkfetch.Summary{
		Total:     10,
		Succeeded: 6,
		Failed:    4,
		Failures: []bulkfetch.Failure{
			{Period: bulkfetch.NewPeriod(2024, time.March), Kind: bulkfetch.Failed},
			{Period: bulkfetch.NewPeriod(2024, time.January), Kind: bulkfetch.Failed},
		},
	}
	alerts := a.Evaluate("run-1", s)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFetchFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "run-1", alerts[0].RunID)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, []string{"2024-01", "2024-03"}, alerts[0].Details["failed_periods"])
}

func TestAlerter_Evaluate_UnavailableDoesNotCount(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})

	s := &bulkfetch.Summary{Total: 12, Succeeded: 3, SkippedUnavailable: 9}
	assert.Empty(t, a.Evaluate("run-1", s))
}

func TestAlerter_Evaluate_AllSatisfied(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0})

	s := &bulkfetch.Summary{Total: 12, AlreadySatisfied: 12}
	assert.Empty(t, a.Evaluate("run-1", s))
	assert.Empty(t, a.Evaluate("run-1", nil))
}

func TestAlerter_Evaluate_Aborted(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})

	s := &bulkfetch.Summary{Total: 5, Succeeded: 2, Failed: 3, Aborted: true}
	alerts := a.Evaluate("run-2", s)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFetchAborted, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 of 5")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	s := &bulkfetch.Summary{Total: 4, Succeeded: 1, Failed: 3, Aborted: true}
	alerts := a.Evaluate("run-3", s)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertFetchFailureRate, alerts[0].Type)
	assert.Equal(t, AlertFetchAborted, alerts[1].Type)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		assert.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertFetchFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertFetchAborted, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFetchFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertFetchFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}
