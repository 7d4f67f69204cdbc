package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus_KindMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:        http.StatusNotFound,
		KindValidation:      http.StatusBadRequest,
		KindConflict:        http.StatusConflict,
		KindTooManyRequests: http.StatusTooManyRequests,
		KindUpstream:        http.StatusBadGateway,
		KindUnknown:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Fatalf("kind %d: expected %d, got %d", kind, want, got)
		}
	}
}

func TestHTTPStatus_OverrideWins(t *testing.T) {
	e := New(KindUpstream, "provider down").WithStatus(503)
	if e.HTTPStatus() != 503 {
		t.Fatalf("expected 503, got %d", e.HTTPStatus())
	}
	// out of range overrides are ignored
	e = New(KindUpstream, "provider down").WithStatus(200)
	if e.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", e.HTTPStatus())
	}
}

func TestAs_FindsWrappedError(t *testing.T) {
	base := NotFound("Lead not found").WithCode("LEAD_NOT_FOUND")
	err := fmt.Errorf("initiate: %w", base)
	got, ok := As(err)
	if !ok || got.Code != "LEAD_NOT_FOUND" {
		t.Fatalf("expected wrapped apperr, got %v", err)
	}
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found kind")
	}
	if IsKind(errors.New("plain"), KindNotFound) {
		t.Fatalf("plain errors carry no kind")
	}
}
