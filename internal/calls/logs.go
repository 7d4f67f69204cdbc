package calls

import (
	"context"
	"fmt"

	"crm-calls/internal/leads"
)

// LogReader serves the flattened call log of a user's leads.
type LogReader struct {
	leads leads.Repository
}

func NewLogReader(repo leads.Repository) *LogReader { return &LogReader{leads: repo} }

// ListCallLogs returns every entry of the owner's leads, newest first, with
// the lead identity merged in.
func (r *LogReader) ListCallLogs(ctx context.Context, ownerID string) ([]leads.CallLogView, error) {
	views, err := r.leads.ListCallLogs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("calls: list call logs: %w", err)
	}
	leads.SortNewestFirst(views)
	return views, nil
}
