package reporting

import "time"

// TimeRange filters entries by creation timestamp, [From, To). A zero range
// means all time.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one owner's leads.
type CallsSummaryRequest struct {
	OwnerID string    `json:"ownerId"`
	Range   TimeRange `json:"range"`
}

type CallsSummary struct {
	OwnerID string `json:"ownerId"`

	TotalCalls      int `json:"totalCalls"`
	InitiatedCalls  int `json:"initiatedCalls"`
	InProgressCalls int `json:"inProgressCalls"`
	CompletedCalls  int `json:"completedCalls"`
	FailedCalls     int `json:"failedCalls"`
	MissedCalls     int `json:"missedCalls"`
	VoicemailCalls  int `json:"voicemailCalls"`
	NoAnswerCalls   int `json:"noAnswerCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	RecordedCalls int            `json:"recordedCalls"`
	LeadsCalled   int            `json:"leadsCalled"`
	Outcomes      map[string]int `json:"outcomes"`

	// ConnectionRate is completed / total.
	ConnectionRate float64 `json:"connectionRate"`
}
