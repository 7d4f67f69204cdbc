package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Call lifecycle event types delivered by the provider.
const (
	EventCallAnswered       = "call.answered"
	EventCallEnded          = "call.ended"
	EventCallFailed         = "call.failed"
	EventRecordingCompleted = "call.recording.completed"
	EventTransferStarted    = "call.transfer.started"
	EventTransferCompleted  = "call.transfer.completed"
	EventUnknown            = "unknown"
)

var (
	ErrMalformedPayload = errors.New("telephony: webhook payload is not a JSON object")
	ErrMissingCallID    = errors.New("telephony: webhook payload has no call id")
)

// CallEvent is a webhook delivery normalized from either payload shape.
// Payload is the body as received and is only meant for audit storage.
type CallEvent struct {
	EventID      string
	Type         string
	CallID       string
	Duration     *int
	RecordingURL string
	Outcome      string
	ErrorMessage string
	TransferTo   string
	Payload      map[string]any
}

// ParseCallEvent normalizes a webhook body. The event type comes from
// "event" or "eventType", each a string or an object with "type"; the call id
// from "callId" or "call_id". Detail fields are read from the event object
// first and then from the top level.
func ParseCallEvent(body []byte) (CallEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return CallEvent{}, ErrMalformedPayload
	}

	ev := CallEvent{Payload: payload}

	var eventObj map[string]any
	for _, key := range []string{"event", "eventType"} {
		switch v := payload[key].(type) {
		case string:
			if ev.Type == "" {
				ev.Type = strings.TrimSpace(v)
			}
		case map[string]any:
			if eventObj == nil {
				eventObj = v
			}
			if t, ok := v["type"].(string); ok && ev.Type == "" {
				ev.Type = strings.TrimSpace(t)
			}
		}
	}
	if ev.Type == "" {
		ev.Type = EventUnknown
	}

	sources := []map[string]any{eventObj, payload}
	ev.CallID = firstString(sources, "callId", "call_id")
	ev.EventID = firstString([]map[string]any{payload}, "event_id", "eventId")
	ev.RecordingURL = firstString(sources, "recording_url", "recordingUrl")
	ev.Outcome = firstString(sources, "call_outcome", "outcome")
	ev.ErrorMessage = firstString(sources, "error_message", "error")
	ev.TransferTo = firstString(sources, "transfer_to", "transferTo")
	ev.Duration = firstInt(sources, "duration_seconds", "duration")

	if ev.CallID == "" {
		return ev, ErrMissingCallID
	}
	return ev, nil
}

func firstString(sources []map[string]any, keys ...string) string {
	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, k := range keys {
			switch v := src[k].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case json.Number:
				return v.String()
			case map[string]any:
				// {"error": {"message": "..."}}
				if s, ok := v["message"].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func firstInt(sources []map[string]any, keys ...string) *int {
	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, k := range keys {
			var f float64
			switch v := src[k].(type) {
			case json.Number:
				parsed, err := v.Float64()
				if err != nil {
					continue
				}
				f = parsed
			case string:
				parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					continue
				}
				f = parsed
			default:
				continue
			}
			// Durations beyond int32 seconds are garbage, not calls.
			if math.IsNaN(f) || f < 0 || f > math.MaxInt32 {
				continue
			}
			n := int(math.Round(f))
			return &n
		}
	}
	return nil
}
