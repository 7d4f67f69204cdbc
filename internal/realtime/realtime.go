// Package realtime fans call updates out to connected dashboards.
package realtime

import (
	"context"
	"time"
)

// ChannelCallUpdate is the event name and pub/sub channel of call updates.
const ChannelCallUpdate = "call:update"

// CallUpdate is one broadcast. OwnerID routes it to the lead owner's streams.
type CallUpdate struct {
	LeadID    string         `json:"leadId"`
	CallID    string         `json:"callId"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	OwnerID   string         `json:"ownerId,omitempty"`
}

// Broadcaster publishes call updates. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, u CallUpdate) error
}

// Nop discards every update.
type Nop struct{}

func (Nop) Broadcast(context.Context, CallUpdate) error { return nil }
