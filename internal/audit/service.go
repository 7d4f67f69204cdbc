package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.LeadID == "" && e.CallID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallInitiated records a call placed with the provider.
func (s *Service) LogCallInitiated(ctx context.Context, actor Actor, leadID, callID string, metadata map[string]any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallInitiated,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		LeadID:      leadID,
		CallID:      callID,
		Message:     "call initiated",
		Metadata:    encodeMetadata(metadata),
	})
}

// LogCallInitiationFailed records a provider failure. callID is the
// placeholder id of the entry marked Failed.
func (s *Service) LogCallInitiationFailed(ctx context.Context, actor Actor, leadID, callID, reason string, metadata map[string]any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallInitiationFailed,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		LeadID:      leadID,
		CallID:      callID,
		Message:     reason,
		Metadata:    encodeMetadata(metadata),
	})
}

// LogBackfill records a call log rewrite made by the backfill command.
func (s *Service) LogBackfill(ctx context.Context, actor Actor, leadID string, metadata map[string]any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallLogBackfill,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		LeadID:      leadID,
		Message:     "call logs normalized",
		Metadata:    encodeMetadata(metadata),
	})
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
