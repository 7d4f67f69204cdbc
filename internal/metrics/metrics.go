package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initOnce sync.Once

	initiationsCounter  metric.Int64Counter
	webhookEventCounter metric.Int64Counter
	providerLatency     metric.Float64Histogram
	followUpCounter     metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge

	sseConnections atomic.Int64
)

// InitMetrics creates the instruments. Safe to call more than once. Record
// helpers are no-ops until it has run.
func InitMetrics(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		initiationsCounter, err = m.Int64Counter("crm_call_initiations_total", metric.WithDescription("Outbound call initiations by result"))
		if err != nil {
			return
		}
		webhookEventCounter, err = m.Int64Counter("crm_call_webhook_events_total", metric.WithDescription("Provider webhook events by type and result"))
		if err != nil {
			return
		}
		providerLatency, err = m.Float64Histogram("crm_call_provider_request_seconds", metric.WithDescription("Latency of outbound provider requests in seconds"))
		if err != nil {
			return
		}
		followUpCounter, err = m.Int64Counter("crm_call_followups_total", metric.WithDescription("Post-initiation follow-ups by result"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("crm_call_stream_connections", metric.WithDescription("Open call update stream connections"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(sseConnectionsGauge, sseConnections.Load())
			return nil
		}, sseConnectionsGauge)
	})
	return err
}

// RecordInitiation counts one initiation. result is "success", "failed", or a
// validation code.
func RecordInitiation(ctx context.Context, result string) {
	if initiationsCounter == nil {
		return
	}
	initiationsCounter.Add(ctx, 1, metric.WithAttributes(AttrResult.String(result)))
}

func RecordWebhookEvent(ctx context.Context, event, result string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.Add(ctx, 1, metric.WithAttributes(AttrEvent.String(event), AttrResult.String(result)))
}

func RecordProviderRequest(ctx context.Context, provider string, d time.Duration, ok bool) {
	if providerLatency == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failed"
	}
	providerLatency.Record(ctx, d.Seconds(), metric.WithAttributes(AttrProvider.String(provider), AttrResult.String(result)))
}

func RecordFollowUp(ctx context.Context, result string) {
	if followUpCounter == nil {
		return
	}
	followUpCounter.Add(ctx, 1, metric.WithAttributes(AttrResult.String(result)))
}

func AddStreamConnection() { sseConnections.Add(1) }

func RemoveStreamConnection() {
	if sseConnections.Add(-1) < 0 {
		sseConnections.Store(0)
	}
}
