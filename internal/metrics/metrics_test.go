package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordersAreNoopsBeforeInit(t *testing.T) {
	// Must not panic with nil instruments.
	if initiationsCounter != nil {
		t.Skip("instruments already initialized")
	}
	ctx := context.Background()
	RecordInitiation(ctx, "success")
	RecordWebhookEvent(ctx, "call.ended", "processed")
	RecordProviderRequest(ctx, "retell", time.Second, true)
	RecordFollowUp(ctx, "success")
}

func TestInitMeterProvider_ExposesInstruments(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}

	RecordInitiation(ctx, "success")
	RecordWebhookEvent(ctx, "call.ended", "processed")
	RecordProviderRequest(ctx, "retell", 120*time.Millisecond, true)
	AddStreamConnection()
	defer RemoveStreamConnection()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"crm_call_initiations", "crm_call_webhook_events", "crm_call_provider_request_seconds", "crm_call_stream_connections"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in scrape output", name)
		}
	}
}

func TestRemoveStreamConnection_NeverNegative(t *testing.T) {
	RemoveStreamConnection()
	RemoveStreamConnection()
	if sseConnections.Load() < 0 {
		t.Fatalf("gauge went negative")
	}
}
