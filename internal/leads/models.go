package leads

import "time"

// LeadStatus is the coarse CRM pipeline stage of a lead.
type LeadStatus string

const (
	LeadStatusUntouched    LeadStatus = "Untouched"
	LeadStatusHPL          LeadStatus = "HPL"
	LeadStatusMPL          LeadStatus = "MPL"
	LeadStatusLPL          LeadStatus = "LPL"
	LeadStatusNPL          LeadStatus = "NPL"
	LeadStatusConverted    LeadStatus = "Converted"
	LeadStatusDoNotContact LeadStatus = "Do Not Contact"
	// LeadStatusInCall is written after a call is placed and cleared by the
	// call's terminal event.
	LeadStatusInCall LeadStatus = "In Call"
)

func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusUntouched, LeadStatusHPL, LeadStatusMPL, LeadStatusLPL, LeadStatusNPL,
		LeadStatusConverted, LeadStatusDoNotContact, LeadStatusInCall:
		return true
	}
	return false
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "Initiated"
	CallStatusInProgress CallStatus = "In Progress"
	CallStatusCompleted  CallStatus = "Completed"
	CallStatusFailed     CallStatus = "Failed"
	CallStatusMissed     CallStatus = "Missed"
	CallStatusVoicemail  CallStatus = "Voicemail"
	CallStatusNoAnswer   CallStatus = "No Answer"
)

// Terminal reports whether no further lifecycle transition is expected.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusMissed, CallStatusVoicemail, CallStatusNoAnswer:
		return true
	}
	return false
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallOutcome string

const (
	OutcomeInterested    CallOutcome = "Interested"
	OutcomeNotInterested CallOutcome = "Not Interested"
	OutcomeCallBackLater CallOutcome = "Call Back Later"
	OutcomeDoNotCall     CallOutcome = "Do Not Call"
	OutcomeWrongNumber   CallOutcome = "Wrong Number"
	OutcomeVoicemail     CallOutcome = "Voicemail"
	OutcomeNoAnswer      CallOutcome = "No Answer"
)

// Lead is a CRM record. CallLogs is ordered oldest first.
type Lead struct {
	ID         string         `json:"id" bson:"-"`
	OwnerID    string         `json:"ownerId" bson:"user"`
	Name       string         `json:"name" bson:"name"`
	Email      string         `json:"email" bson:"email"`
	Phone      string         `json:"phone" bson:"phone"`
	Status     LeadStatus     `json:"status" bson:"status"`
	LastCallAt *time.Time     `json:"lastCallAt,omitempty" bson:"lastCallAt,omitempty"`
	TotalCalls int            `json:"totalCalls" bson:"totalCalls"`
	CallLogs   []CallLogEntry `json:"callLogs" bson:"callLogs"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// CallLogEntry is one call attempt. CallID starts as a placeholder and is
// replaced with the provider id once the call is placed.
type CallLogEntry struct {
	CallID        string         `json:"callId" bson:"callId"`
	Status        CallStatus     `json:"status" bson:"status"`
	Event         string         `json:"event,omitempty" bson:"event,omitempty"`
	Direction     Direction      `json:"direction" bson:"direction"`
	StartTime     *time.Time     `json:"startTime,omitempty" bson:"startTime,omitempty"`
	EndTime       *time.Time     `json:"endTime,omitempty" bson:"endTime,omitempty"`
	Duration      int            `json:"duration" bson:"duration"`
	FromNumber    string         `json:"fromNumber,omitempty" bson:"fromNumber,omitempty"`
	ToNumber      string         `json:"toNumber,omitempty" bson:"toNumber,omitempty"`
	Outcome       CallOutcome    `json:"outcome,omitempty" bson:"outcome,omitempty"`
	RecordingURL  string         `json:"recordingUrl,omitempty" bson:"recordingUrl,omitempty"`
	Transcription string         `json:"transcription,omitempty" bson:"transcription,omitempty"`
	Notes         string         `json:"notes,omitempty" bson:"notes,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Events        []RawEvent     `json:"events" bson:"events"`
	CallHistory   []HistoryEntry `json:"callHistory" bson:"callHistory"`
	Error         *CallError     `json:"error,omitempty" bson:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp" bson:"timestamp"`
	LastUpdated   time.Time      `json:"lastUpdated" bson:"lastUpdated"`

	// Version guards element-level writes in stores without row locks.
	Version int64 `json:"-" bson:"version"`
}

// RawEvent is one provider payload as received.
type RawEvent struct {
	Type      string         `json:"type" bson:"type"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Data      map[string]any `json:"data,omitempty" bson:"data,omitempty"`
}

// HistoryEntry is a human-readable narrative line.
type HistoryEntry struct {
	Event     string         `json:"event" bson:"event"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Details   string         `json:"details,omitempty" bson:"details,omitempty"`
	Duration  int            `json:"duration,omitempty" bson:"duration,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

type CallError struct {
	Message    string `json:"message" bson:"message"`
	Code       string `json:"code,omitempty" bson:"code,omitempty"`
	StatusCode int    `json:"statusCode,omitempty" bson:"statusCode,omitempty"`
	Details    string `json:"details,omitempty" bson:"details,omitempty"`
}

// CallLogView is a call log entry with its lead's identity merged in.
type CallLogView struct {
	CallLogEntry
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
}

func (e *CallLogEntry) AppendEvent(eventType string, at time.Time, data map[string]any) {
	e.Events = append(e.Events, RawEvent{Type: eventType, Timestamp: at, Data: data})
}

func (e *CallLogEntry) AppendHistory(event string, at time.Time, details string) {
	e.CallHistory = append(e.CallHistory, HistoryEntry{Event: event, Timestamp: at, Details: details})
}

// Clone returns a copy that shares no slices or maps with e.
// Payload maps inside events are treated as immutable and shared.
func (e CallLogEntry) Clone() CallLogEntry {
	out := e
	out.StartTime = cloneTime(e.StartTime)
	out.EndTime = cloneTime(e.EndTime)
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Events = append([]RawEvent(nil), e.Events...)
	out.CallHistory = append([]HistoryEntry(nil), e.CallHistory...)
	if e.Error != nil {
		errCopy := *e.Error
		out.Error = &errCopy
	}
	return out
}

func (l Lead) Clone() Lead {
	out := l
	out.LastCallAt = cloneTime(l.LastCallAt)
	out.CallLogs = make([]CallLogEntry, len(l.CallLogs))
	for i, e := range l.CallLogs {
		out.CallLogs[i] = e.Clone()
	}
	return out
}

// FindCallLog returns the index of the entry with callID, or -1.
func (l Lead) FindCallLog(callID string) int {
	for i := range l.CallLogs {
		if l.CallLogs[i].CallID == callID {
			return i
		}
	}
	return -1
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
