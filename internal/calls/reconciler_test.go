package calls

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"crm-calls/internal/leads"
	"crm-calls/internal/realtime"
	"crm-calls/internal/telephony"
	"crm-calls/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []realtime.CallUpdate
	err     error
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, u realtime.CallUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
	return b.err
}

func mustParse(t *testing.T, body string) telephony.CallEvent {
	t.Helper()
	ev, err := telephony.ParseCallEvent([]byte(body))
	require.NoError(t, err)
	return ev
}

// seedCall creates a lead with one reconciled entry.
func seedCall(t *testing.T, repo *leads.MemoryRepo, callID string, status leads.CallStatus) leads.Lead {
	t.Helper()
	lead := newLead(t, repo, "user-1")
	require.NoError(t, repo.AppendCallLog(context.Background(), lead.ID, leads.CallLogEntry{
		CallID:    callID,
		Status:    status,
		Direction: leads.DirectionOutbound,
		Timestamp: fixedNow,
	}, leads.LeadStatusHPL, fixedNow))
	return lead
}

func newTestReconciler(repo leads.Repository, b realtime.Broadcaster, now *time.Time) *Reconciler {
	r := NewReconciler(repo, b)
	r.clock = func() time.Time { return *now }
	r.newID = func() string { return "generated-id" }
	return r
}

func entryOf(t *testing.T, repo *leads.MemoryRepo, leadID, callID string) leads.CallLogEntry {
	t.Helper()
	l, err := repo.GetLead(context.Background(), leadID)
	require.NoError(t, err)
	idx := l.FindCallLog(callID)
	require.GreaterOrEqual(t, idx, 0)
	return l.CallLogs[idx]
}

func TestHandleCallEvent_HappyPathLifecycle(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := newLead(t, repo, "user-1")
	p := &stubProvider{result: telephony.OutboundCallResult{CallID: "prov-999"}}
	o := newOrchestrator(t, repo, p, nil)
	_, err := o.InitiateCall(context.Background(), InitiateRequest{LeadID: lead.ID, DestinationNumber: "+14155550123", Principal: agent})
	require.NoError(t, err)

	now := fixedNow.Add(5 * time.Second)
	b := &recordingBroadcaster{}
	r := newTestReconciler(repo, b, &now)

	res, err := r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.answered","call_id":"prov-999"}`))
	require.NoError(t, err)
	assert.Equal(t, ReconciliationResult{Success: true, EventID: "generated-id", CallID: "prov-999", LeadID: lead.ID, Status: "In Progress"}, res)

	e := entryOf(t, repo, lead.ID, "prov-999")
	assert.Equal(t, leads.CallStatusInProgress, e.Status)
	require.NotNil(t, e.StartTime)
	assert.True(t, e.StartTime.Equal(now))

	now = now.Add(42 * time.Second)
	res, err = r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.ended","call_id":"prov-999","duration_seconds":42,"event_id":"evt-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "Completed", res.Status)
	assert.Equal(t, "evt-2", res.EventID)

	e = entryOf(t, repo, lead.ID, "prov-999")
	assert.Equal(t, leads.CallStatusCompleted, e.Status)
	assert.Equal(t, 42, e.Duration)
	require.NotNil(t, e.EndTime)
	assert.Len(t, e.Events, 2)

	require.Len(t, b.updates, 2)
	assert.Equal(t, realtime.CallUpdate{
		LeadID: lead.ID, CallID: "prov-999", Event: "call.ended", Timestamp: now,
		Data: b.updates[1].Data, OwnerID: "user-1",
	}, b.updates[1])
	assert.NotNil(t, b.updates[1].Data)
}

func TestHandleCallEvent_ReplayedEndIsIdempotent(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)

	body := `{"event":"call.ended","call_id":"prov-1","duration_seconds":30,"recording_url":"https://r/1.mp3"}`
	_, err := r.HandleCallEvent(context.Background(), mustParse(t, body))
	require.NoError(t, err)
	first := entryOf(t, repo, lead.ID, "prov-1")

	now = now.Add(time.Minute)
	res, err := r.HandleCallEvent(context.Background(), mustParse(t, body))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	second := entryOf(t, repo, lead.ID, "prov-1")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Duration, second.Duration)
	assert.Equal(t, first.RecordingURL, second.RecordingURL)
	assert.True(t, first.EndTime.Equal(*second.EndTime))
	assert.Len(t, second.Events, len(first.Events)+1)
	assert.Len(t, second.CallHistory, len(first.CallHistory)+1)
}

func TestHandleCallEvent_LateAnswerDoesNotReopenCall(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)
	ctx := context.Background()

	_, err := r.HandleCallEvent(ctx, mustParse(t, `{"event":"call.ended","call_id":"prov-1"}`))
	require.NoError(t, err)
	res, err := r.HandleCallEvent(ctx, mustParse(t, `{"eventType":"call.answered","callId":"prov-1"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	e := entryOf(t, repo, lead.ID, "prov-1")
	assert.Equal(t, leads.CallStatusCompleted, e.Status)
	assert.Nil(t, e.StartTime)

	_, err = r.HandleCallEvent(ctx, mustParse(t, `{"event":"call.failed","call_id":"prov-1","error_message":"late"}`))
	require.NoError(t, err)
	e = entryOf(t, repo, lead.ID, "prov-1")
	assert.Equal(t, leads.CallStatusCompleted, e.Status)
	assert.Nil(t, e.Error)
}

func TestHandleCallEvent_DurationFromStartWhenProviderSilent(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)
	ctx := context.Background()

	_, err := r.HandleCallEvent(ctx, mustParse(t, `{"event":"call.answered","call_id":"prov-1"}`))
	require.NoError(t, err)
	now = now.Add(95 * time.Second)
	_, err = r.HandleCallEvent(ctx, mustParse(t, `{"event":"call.ended","call_id":"prov-1"}`))
	require.NoError(t, err)

	e := entryOf(t, repo, lead.ID, "prov-1")
	assert.Equal(t, 95, e.Duration)
	last := e.CallHistory[len(e.CallHistory)-1]
	assert.Equal(t, "Call completed after 95 seconds", last.Details)
}

func TestHandleCallEvent_UnknownEventOnlyAppends(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)

	res, err := r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.sentiment.scored","call_id":"prov-1","score":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	e := entryOf(t, repo, lead.ID, "prov-1")
	assert.Equal(t, leads.CallStatusInProgress, e.Status)
	require.Len(t, e.Events, 1)
	assert.Equal(t, "call.sentiment.scored", e.Events[0].Type)
	assert.Empty(t, e.CallHistory)
}

func TestHandleCallEvent_HistoryOnlyEvents(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusCompleted)
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)
	ctx := context.Background()

	for _, body := range []string{
		`{"event":{"type":"call.recording.completed","recording_url":"https://r/2.mp3"},"call_id":"prov-1"}`,
		`{"event":"call.transfer.started","call_id":"prov-1"}`,
		`{"event":"call.transfer.completed","call_id":"prov-1"}`,
	} {
		_, err := r.HandleCallEvent(ctx, mustParse(t, body))
		require.NoError(t, err)
	}

	e := entryOf(t, repo, lead.ID, "prov-1")
	assert.Equal(t, leads.CallStatusCompleted, e.Status)
	assert.Equal(t, "https://r/2.mp3", e.RecordingURL)
	require.Len(t, e.CallHistory, 3)
	assert.Equal(t, "Recording Available", e.CallHistory[0].Event)
	assert.Equal(t, "Transferring call to another agent", e.CallHistory[1].Details)
	assert.Equal(t, "Call Transfer Completed", e.CallHistory[2].Event)
}

func TestHandleCallEvent_OutcomeDrivesLeadStatus(t *testing.T) {
	cases := []struct {
		outcome string
		want    leads.LeadStatus
		label   leads.CallOutcome
	}{
		{"interested", leads.LeadStatusHPL, leads.OutcomeInterested},
		{"not_interested", leads.LeadStatusNPL, leads.OutcomeNotInterested},
	}
	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			repo := leads.NewMemoryRepo()
			lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
			require.NoError(t, repo.SetLeadStatus(context.Background(), lead.ID, leads.LeadStatusMPL))
			now := fixedNow
			r := newTestReconciler(repo, nil, &now)

			body := fmt.Sprintf(`{"event":"call.ended","call_id":"prov-1","call_outcome":%q}`, tc.outcome)
			_, err := r.HandleCallEvent(context.Background(), mustParse(t, body))
			require.NoError(t, err)

			got, _ := repo.GetLead(context.Background(), lead.ID)
			assert.Equal(t, tc.want, got.Status)
			assert.Equal(t, tc.label, got.CallLogs[0].Outcome)
		})
	}
}

func TestHandleCallEvent_TerminalEventClearsInCall(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	require.NoError(t, repo.SetLeadStatus(context.Background(), lead.ID, leads.LeadStatusInCall))
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)

	_, err := r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.failed","call_id":"prov-1"}`))
	require.NoError(t, err)

	got, _ := repo.GetLead(context.Background(), lead.ID)
	assert.Equal(t, leads.LeadStatusHPL, got.Status)
	e := got.CallLogs[0]
	assert.Equal(t, leads.CallStatusFailed, e.Status)
	require.NotNil(t, e.Error)
	assert.Equal(t, "Unknown error", e.Error.Message)
	assert.Equal(t, "Call failed: Unknown error", e.CallHistory[0].Details)
}

func TestHandleCallEvent_OrphanAndMissingID(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	before, _ := repo.GetLead(context.Background(), lead.ID)
	now := fixedNow
	b := &recordingBroadcaster{}
	r := newTestReconciler(repo, b, &now)

	_, err := r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.ended","call_id":"nobody"}`))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ae.HTTPStatus())
	assert.Equal(t, "Lead not found", ae.Message)

	_, err = r.HandleCallEvent(context.Background(), telephony.CallEvent{Type: telephony.EventCallEnded})
	ae, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, ae.HTTPStatus())
	assert.Equal(t, "Missing call ID", ae.Message)

	after, _ := repo.GetLead(context.Background(), lead.ID)
	assert.Equal(t, before, after)
	assert.Empty(t, b.updates)
}

func TestHandleCallEvent_BroadcastFailureIsSwallowed(t *testing.T) {
	repo := leads.NewMemoryRepo()
	seedCall(t, repo, "prov-1", leads.CallStatusInProgress)
	now := fixedNow
	r := newTestReconciler(repo, &recordingBroadcaster{err: errors.New("redis down")}, &now)

	res, err := r.HandleCallEvent(context.Background(), mustParse(t, `{"event":"call.answered","call_id":"prov-1"}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestHandleCallEvent_ConcurrentEventsForSiblingCalls(t *testing.T) {
	repo := leads.NewMemoryRepo()
	lead := seedCall(t, repo, "prov-a", leads.CallStatusInProgress)
	require.NoError(t, repo.AppendCallLog(context.Background(), lead.ID, leads.CallLogEntry{
		CallID: "prov-b", Status: leads.CallStatusInProgress, Timestamp: fixedNow,
	}, leads.LeadStatusHPL, fixedNow))
	now := fixedNow
	r := newTestReconciler(repo, nil, &now)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, id := range []string{"prov-a", "prov-b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				body := fmt.Sprintf(`{"event":"call.transfer.completed","call_id":%q}`, id)
				ev, _ := telephony.ParseCallEvent([]byte(body))
				_, _ = r.HandleCallEvent(context.Background(), ev)
			}(id)
		}
	}
	wg.Wait()

	got, _ := repo.GetLead(context.Background(), lead.ID)
	for _, e := range got.CallLogs {
		assert.Len(t, e.Events, n, "entry %s lost writes", e.CallID)
	}
}

func TestNormalizeOutcome(t *testing.T) {
	assert.Equal(t, leads.OutcomeCallBackLater, normalizeOutcome("Call Back Later"))
	assert.Equal(t, leads.OutcomeDoNotCall, normalizeOutcome("do-not-call"))
	assert.Equal(t, leads.CallOutcome("maybe"), normalizeOutcome(" maybe "))
}
