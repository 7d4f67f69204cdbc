package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"crm-calls/internal/leads"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (leads.Lead, error) {
	var (
		l          leads.Lead
		status     string
		lastCallAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Name, &l.Email, &l.Phone, &status, &lastCallAt, &l.TotalCalls, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return leads.Lead{}, err
	}
	l.Status = leads.LeadStatus(status)
	l.LastCallAt = timePtr(lastCallAt)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

// entryCols holds the raw column values of one call_logs row in entryColumns order.
type entryCols struct {
	callID, status, event, direction   string
	startTime, endTime                 sql.NullTime
	duration                           int
	fromNumber, toNumber, outcome      string
	recordingURL, transcription, notes string
	metadata, events, history, errJSON []byte
	createdAt, lastUpdated             time.Time
	version                            int64
}

func (c *entryCols) dest() []any {
	return []any{
		&c.callID, &c.status, &c.event, &c.direction, &c.startTime, &c.endTime, &c.duration,
		&c.fromNumber, &c.toNumber, &c.outcome, &c.recordingURL, &c.transcription, &c.notes,
		&c.metadata, &c.events, &c.history, &c.errJSON, &c.createdAt, &c.lastUpdated, &c.version,
	}
}

func (c *entryCols) entry() (leads.CallLogEntry, error) {
	e := leads.CallLogEntry{
		CallID:        c.callID,
		Status:        leads.CallStatus(c.status),
		Event:         c.event,
		Direction:     leads.Direction(c.direction),
		StartTime:     timePtr(c.startTime),
		EndTime:       timePtr(c.endTime),
		Duration:      c.duration,
		FromNumber:    c.fromNumber,
		ToNumber:      c.toNumber,
		Outcome:       leads.CallOutcome(c.outcome),
		RecordingURL:  c.recordingURL,
		Transcription: c.transcription,
		Notes:         c.notes,
		Timestamp:     c.createdAt.UTC(),
		LastUpdated:   c.lastUpdated.UTC(),
		Version:       c.version,
		Events:        []leads.RawEvent{},
		CallHistory:   []leads.HistoryEntry{},
	}
	if err := decodeJSON(c.metadata, &e.Metadata); err != nil {
		return leads.CallLogEntry{}, fmt.Errorf("postgres: decode metadata of %s: %w", c.callID, err)
	}
	if err := decodeJSON(c.events, &e.Events); err != nil {
		return leads.CallLogEntry{}, fmt.Errorf("postgres: decode events of %s: %w", c.callID, err)
	}
	if err := decodeJSON(c.history, &e.CallHistory); err != nil {
		return leads.CallLogEntry{}, fmt.Errorf("postgres: decode history of %s: %w", c.callID, err)
	}
	if err := decodeJSON(c.errJSON, &e.Error); err != nil {
		return leads.CallLogEntry{}, fmt.Errorf("postgres: decode error of %s: %w", c.callID, err)
	}
	return e, nil
}

func scanEntry(row rowScanner) (leads.CallLogEntry, error) {
	var c entryCols
	if err := row.Scan(c.dest()...); err != nil {
		return leads.CallLogEntry{}, err
	}
	return c.entry()
}

// entryValues returns e's column values in entryColumns order.
func entryValues(e leads.CallLogEntry) ([]any, error) {
	metadata, err := encodeJSON(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode metadata: %w", err)
	}
	events := e.Events
	if events == nil {
		events = []leads.RawEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode events: %w", err)
	}
	history := e.CallHistory
	if history == nil {
		history = []leads.HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode history: %w", err)
	}
	errJSON, err := encodeJSON(e.Error)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode error: %w", err)
	}
	direction := e.Direction
	if direction == "" {
		direction = leads.DirectionOutbound
	}
	return []any{
		e.CallID, string(e.Status), e.Event, string(direction), nullTime(e.StartTime), nullTime(e.EndTime), e.Duration,
		e.FromNumber, e.ToNumber, string(e.Outcome), e.RecordingURL, e.Transcription, e.Notes,
		metadata, string(eventsJSON), string(historyJSON), errJSON, e.Timestamp.UTC(), e.LastUpdated.UTC(), e.Version,
	}, nil
}

// encodeJSON returns nil for empty values so nullable JSONB columns stay NULL.
func encodeJSON[T any](v T) (any, error) {
	switch x := any(v).(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	case *leads.CallError:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
