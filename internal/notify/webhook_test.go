package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type webhookRecorder struct {
	mu     sync.Mutex
	events []WebhookEvent
}

func (r *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var ev WebhookEvent
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *webhookRecorder) snapshot() []WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WebhookEvent(nil), r.events...)
}

func alert(id string, sev models.AlertSeverity, status models.AlertStatus) models.Alert {
	return models.Alert{ID: id, DeviceID: "d1", Severity: sev, Status: status, Title: "Overheat"}
}

func TestClassify(t *testing.T) {
	n := NewAlertNotifier(Config{URL: "http://example.invalid", MinSeverity: models.AlertSeverityHigh}, zap.NewNop())

	critical := alert("a1", models.AlertSeverityCritical, models.AlertStatusActive)
	low := alert("a2", models.AlertSeverityLow, models.AlertStatusActive)
	acked := critical
	acked.Status = models.AlertStatusAcknowledged

	tests := []struct {
		name   string
		change changefeed.AlertChange
		event  string
	}{
		{"critical insert", changefeed.AlertChange{Op: changefeed.OpInsert, After: &critical}, EventAlertCreated},
		{"low insert", changefeed.AlertChange{Op: changefeed.OpInsert, After: &low}, ""},
		{"status change", changefeed.AlertChange{Op: changefeed.OpUpdate, Before: &critical, After: &acked}, EventAlertStatusChanged},
		{"same status", changefeed.AlertChange{Op: changefeed.OpUpdate, Before: &critical, After: &critical}, ""},
		{"update without before", changefeed.AlertChange{Op: changefeed.OpUpdate, After: &acked}, ""},
		{"delete", changefeed.AlertChange{Op: changefeed.OpDelete, Before: &critical}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := n.Classify(tt.change)
			assert.Equal(t, tt.event != "", ok)
			assert.Equal(t, tt.event, ev.Event)
		})
	}
}

func TestAlertNotifier_DeliversFromFeed(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	feed := changefeed.NewMemoryFeed(zap.NewNop())
	n := NewAlertNotifier(Config{URL: srv.URL, MinSeverity: models.AlertSeverityHigh}, zap.NewNop())
	require.NoError(t, n.Start(context.Background(), feed))

	ctx := context.Background()
	a := alert("a1", models.AlertSeverityCritical, models.AlertStatusActive)
	raw, err := changefeed.NewRawChange(changefeed.EntityAlert, changefeed.OpInsert, nil, a)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, raw))

	info, err := changefeed.NewRawChange(changefeed.EntityAlert, changefeed.OpInsert, nil, alert("a2", models.AlertSeverityInfo, models.AlertStatusActive))
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, info))

	resolved := a
	resolved.Status = models.AlertStatusResolved
	raw, err = changefeed.NewRawChange(changefeed.EntityAlert, changefeed.OpUpdate, a, resolved)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, raw))

	n.Stop()
	assert.Equal(t, 0, feed.Subscribers(changefeed.EntityAlert))

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventAlertCreated, events[0].Event)
	assert.Equal(t, "a1", events[0].Alert.ID)
	assert.Equal(t, EventAlertStatusChanged, events[1].Event)
	require.NotNil(t, events[1].PreviousStatus)
	assert.Equal(t, models.AlertStatusActive, *events[1].PreviousStatus)
	assert.Equal(t, models.AlertStatusResolved, events[1].Alert.Status)
}

func TestSend_ServerErrorFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewAlertNotifier(Config{URL: srv.URL, RetryCount: 1, Timeout: time.Second}, zap.NewNop())
	ev := WebhookEvent{Event: EventAlertCreated, Alert: alert("a1", models.AlertSeverityCritical, models.AlertStatusActive)}
	err := n.Send(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewAlertNotifier(Config{URL: srv.URL, RetryCount: 3}, zap.NewNop())
	err := n.Send(context.Background(), WebhookEvent{Event: EventAlertCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSend_RequiresURL(t *testing.T) {
	n := NewAlertNotifier(Config{}, zap.NewNop())
	assert.Error(t, n.Send(context.Background(), WebhookEvent{}))
}
