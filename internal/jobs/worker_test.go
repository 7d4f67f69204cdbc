package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-calls/internal/calls"
	"crm-calls/internal/leads"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUpProcessor_AppliesTask(t *testing.T) {
	repo := leads.NewMemoryRepo()
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()

	lead, err := repo.CreateLead(ctx, leads.Lead{OwnerID: "u1", Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)
	require.NoError(t, repo.AppendCallLog(ctx, lead.ID, leads.CallLogEntry{
		CallID: "prov-1", Status: leads.CallStatusInProgress, Timestamp: at,
	}, leads.LeadStatusHPL, at))

	task, err := NewCallFollowUpTask(calls.FollowUp{LeadID: lead.ID, CallID: "prov-1", InitiatedBy: "u1", At: at})
	require.NoError(t, err)
	require.Equal(t, TaskCallFollowUp, task.Type())

	p := NewFollowUpProcessor(calls.NewFollowUpHandler(repo))
	require.NoError(t, p.ProcessTask(ctx, task))

	got, err := repo.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.LeadStatusInCall, got.Status)
	require.Len(t, got.CallLogs[0].CallHistory, 1)
	assert.Equal(t, "Call Initiated", got.CallLogs[0].CallHistory[0].Event)
}

func TestFollowUpProcessor_SkipsRetryForUnknownCall(t *testing.T) {
	p := NewFollowUpProcessor(calls.NewFollowUpHandler(leads.NewMemoryRepo()))

	task, err := NewCallFollowUpTask(calls.FollowUp{LeadID: "missing", CallID: "prov-1"})
	require.NoError(t, err)
	err = p.ProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "got %v", err)

	bad := asynq.NewTask(TaskCallFollowUp, []byte("{"))
	err = p.ProcessTask(context.Background(), bad)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "got %v", err)
}
