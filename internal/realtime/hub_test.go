package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-calls/internal/auth"

	"github.com/gin-gonic/gin"
)

func TestHub_RoutesByOwner(t *testing.T) {
	h := NewHub()
	owner := &client{userID: "u1", events: make(chan CallUpdate, 4)}
	other := &client{userID: "u2", events: make(chan CallUpdate, 4)}
	admin := &client{userID: "a", all: true, events: make(chan CallUpdate, 4)}
	for _, c := range []*client{owner, other, admin} {
		h.addClient(c)
	}

	_ = h.Broadcast(context.Background(), CallUpdate{LeadID: "l1", CallID: "c1", Event: "call.ended", OwnerID: "u1"})

	if len(owner.events) != 1 || len(admin.events) != 1 {
		t.Fatalf("expected owner and admin to receive update")
	}
	if len(other.events) != 0 {
		t.Fatalf("expected other user to receive nothing")
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	h := NewHub()
	c := &client{userID: "u1", events: make(chan CallUpdate, 1)}
	h.addClient(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = h.Broadcast(context.Background(), CallUpdate{CallID: "c", OwnerID: "u1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a slow client")
	}
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	h := NewHub()
	c := &client{userID: "u1", events: make(chan CallUpdate, 1)}
	h.addClient(c)
	h.Close()

	if _, ok := <-c.events; ok {
		t.Fatalf("expected client channel closed")
	}
	// removing after close must not double-close
	h.removeClient(c)
	if h.addClient(&client{userID: "u2", events: make(chan CallUpdate, 1)}) {
		t.Fatalf("expected closed hub to reject clients")
	}
}

func TestHub_HandlerStreamsOwnedUpdates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub()

	r := gin.New()
	r.GET("/stream", func(c *gin.Context) {
		ctx := auth.WithPrincipal(c.Request.Context(), auth.Principal{UserID: "u1", Role: "sales_agent"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, h.Handler())
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && name != "":
				return name, data
			}
		}
		return name, data
	}

	if name, _ := readEvent(); name != "connected" {
		t.Fatalf("expected connected event, got %q", name)
	}

	_ = h.Broadcast(context.Background(), CallUpdate{CallID: "c-other", Event: "call.ended", OwnerID: "u2"})
	_ = h.Broadcast(context.Background(), CallUpdate{CallID: "c-mine", Event: "call.ended", OwnerID: "u1"})

	name, data := readEvent()
	if name != ChannelCallUpdate {
		t.Fatalf("expected %s event, got %q", ChannelCallUpdate, name)
	}
	if !strings.Contains(data, `"callId":"c-mine"`) {
		t.Fatalf("expected own update, got %s", data)
	}
}
