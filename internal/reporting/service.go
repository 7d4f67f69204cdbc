package reporting

import (
	"context"
	"errors"

	"crm-calls/internal/leads"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side reporting needs; leads.Repository satisfies it.
type Repository interface {
	ListCallLogs(ctx context.Context, ownerID string) ([]leads.CallLogView, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OwnerID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallLogs(ctx, req.OwnerID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OwnerID: req.OwnerID, Outcomes: map[string]int{}}
	seenLeads := map[string]struct{}{}
	for _, c := range rows {
		if !inRange(req.Range, c) {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.Duration
		seenLeads[c.CustomerID] = struct{}{}
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.Outcome != "" {
			out.Outcomes[string(c.Outcome)]++
		}
		switch c.Status {
		case leads.CallStatusInitiated:
			out.InitiatedCalls++
		case leads.CallStatusInProgress:
			out.InProgressCalls++
		case leads.CallStatusCompleted:
			out.CompletedCalls++
		case leads.CallStatusFailed:
			out.FailedCalls++
		case leads.CallStatusMissed:
			out.MissedCalls++
		case leads.CallStatusVoicemail:
			out.VoicemailCalls++
		case leads.CallStatusNoAnswer:
			out.NoAnswerCalls++
		}
	}
	out.LeadsCalled = len(seenLeads)
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConnectionRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

func inRange(r TimeRange, c leads.CallLogView) bool {
	if !r.From.IsZero() && c.Timestamp.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !c.Timestamp.Before(r.To) {
		return false
	}
	return true
}
