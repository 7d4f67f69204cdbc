package telephony

import (
	"errors"
	"testing"
)

func TestParseCallEvent_Shapes(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantType string
		wantID   string
	}{
		{"event string + call_id", `{"event":"call.answered","call_id":"c1"}`, EventCallAnswered, "c1"},
		{"eventType string + callId", `{"eventType":"call.ended","callId":"c2"}`, EventCallEnded, "c2"},
		{"event object", `{"event":{"type":"call.failed","call_id":"c3"}}`, EventCallFailed, "c3"},
		{"eventType object", `{"eventType":{"type":"call.recording.completed"},"callId":"c4"}`, EventRecordingCompleted, "c4"},
		{"no type", `{"call_id":"c5"}`, EventUnknown, "c5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseCallEvent([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if ev.Type != tc.wantType || ev.CallID != tc.wantID {
				t.Fatalf("got type=%q id=%q", ev.Type, ev.CallID)
			}
			if ev.Payload == nil {
				t.Fatalf("expected raw payload kept")
			}
		})
	}
}

func TestParseCallEvent_DetailFields(t *testing.T) {
	body := `{"event":{"type":"call.ended","duration_seconds":42,"recording_url":"https://r/1.mp3"},"call_id":"c1","call_outcome":"interested","event_id":"evt-1"}`
	ev, err := ParseCallEvent([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Duration == nil || *ev.Duration != 42 {
		t.Fatalf("expected duration 42, got %v", ev.Duration)
	}
	if ev.RecordingURL != "https://r/1.mp3" || ev.Outcome != "interested" || ev.EventID != "evt-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	for _, raw := range []string{`1e30`, `-5`, `"NaN"`, `"+Inf"`} {
		body := `{"event":"call.ended","call_id":"c1","duration_seconds":` + raw + `}`
		ev, err := ParseCallEvent([]byte(body))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if ev.Duration != nil {
			t.Fatalf("duration %s must be treated as absent, got %d", raw, *ev.Duration)
		}
	}

	ev, err = ParseCallEvent([]byte(`{"event":"call.ended","call_id":"c1","duration":"12.6"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Duration == nil || *ev.Duration != 13 {
		t.Fatalf("expected rounded string duration 13, got %v", ev.Duration)
	}
}

func TestParseCallEvent_Errors(t *testing.T) {
	if _, err := ParseCallEvent([]byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if _, err := ParseCallEvent([]byte(`{"event":"call.ended"}`)); !errors.Is(err, ErrMissingCallID) {
		t.Fatalf("expected missing call id, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"call.ended","call_id":"c1"}`)
	sig := Sign("whsec", body)
	if !VerifySignature("whsec", body, sig) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySignature("other", body, sig) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifySignature("whsec", body, "zz") {
		t.Fatalf("expected garbage signature to fail")
	}
}
