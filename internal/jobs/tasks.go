// Package jobs runs call follow-ups on an asynq queue.
package jobs

import (
	"encoding/json"

	"crm-calls/internal/calls"

	"github.com/hibiken/asynq"
)

const TaskCallFollowUp = "calls.followup"

func NewCallFollowUpTask(f calls.FollowUp) (*asynq.Task, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallFollowUp, data), nil
}

func ParseCallFollowUpPayload(task *asynq.Task) (calls.FollowUp, error) {
	var f calls.FollowUp
	if err := json.Unmarshal(task.Payload(), &f); err != nil {
		return calls.FollowUp{}, err
	}
	return f, nil
}
