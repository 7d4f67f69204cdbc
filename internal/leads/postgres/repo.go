// Package postgres stores leads in Postgres with call log entries as rows of
// call_logs keyed by (lead_id, call_id).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-calls/internal/leads"
	"crm-calls/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repo implements leads.Repository. UpdateCallLog locks the single call_logs
// row it edits, so writers of sibling entries never wait on each other.
type Repo struct {
	db    *sql.DB
	clock func() time.Time
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db, clock: time.Now}
}

var _ leads.Repository = (*Repo)(nil)

func (r *Repo) ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const leadColumns = `id, owner_id, name, email, phone, status, last_call_at, total_calls, created_at, updated_at`

const entryColumns = `call_id, status, event, direction, start_time, end_time, duration, from_number, to_number,
	outcome, recording_url, transcription, notes, metadata, events, call_history, error, created_at, last_updated, version`

func (r *Repo) CreateLead(ctx context.Context, l leads.Lead) (leads.Lead, error) {
	if strings.TrimSpace(l.Name) == "" {
		return leads.Lead{}, leads.ErrInvalidLead
	}
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = leads.LeadStatusUntouched
	}
	now := r.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	l.CallLogs = []leads.CallLogEntry{}
	l.TotalCalls = 0
	l.LastCallAt = nil

	_, err := r.db.ExecContext(ctx, `INSERT INTO leads (`+leadColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.OwnerID, l.Name, l.Email, l.Phone, string(l.Status), nil, 0, l.CreatedAt, l.UpdatedAt)
	if isUniqueViolation(err) {
		return leads.Lead{}, leads.ErrDuplicateEmail
	}
	if err != nil {
		return leads.Lead{}, fmt.Errorf("postgres: insert lead: %w", err)
	}
	return l, nil
}

func (r *Repo) GetLead(ctx context.Context, id string) (leads.Lead, error) {
	if !r.ValidID(id) {
		return leads.Lead{}, leads.ErrLeadNotFound
	}
	return getLead(ctx, r.db, id)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLead(ctx context.Context, q queryer, id string) (leads.Lead, error) {
	return loadLead(ctx, q, id, "")
}

// lockLead reads the lead and its entries holding row locks on all of them
// until tx ends.
func lockLead(ctx context.Context, tx *sql.Tx, id string) (leads.Lead, error) {
	return loadLead(ctx, tx, id, " FOR UPDATE")
}

func loadLead(ctx context.Context, q queryer, id, lock string) (leads.Lead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`+lock, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leads.Lead{}, leads.ErrLeadNotFound
	}
	if err != nil {
		return leads.Lead{}, fmt.Errorf("postgres: get lead: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+` FROM call_logs WHERE lead_id = $1 ORDER BY seq`+lock, id)
	if err != nil {
		return leads.Lead{}, fmt.Errorf("postgres: list call logs: %w", err)
	}
	defer rows.Close()
	l.CallLogs = []leads.CallLogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return leads.Lead{}, err
		}
		l.CallLogs = append(l.CallLogs, e)
	}
	if err := rows.Err(); err != nil {
		return leads.Lead{}, fmt.Errorf("postgres: list call logs: %w", err)
	}
	return l, nil
}

func (r *Repo) SetLeadStatus(ctx context.Context, leadID string, status leads.LeadStatus) error {
	if !r.ValidID(leadID) {
		return leads.ErrLeadNotFound
	}
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $2, updated_at = $3 WHERE id = $1`,
		leadID, string(status), r.clock().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set lead status: %w", err)
	}
	return requireOneRow(res, leads.ErrLeadNotFound)
}

func (r *Repo) AppendCallLog(ctx context.Context, leadID string, entry leads.CallLogEntry, status leads.LeadStatus, at time.Time) error {
	if !r.ValidID(leadID) {
		return leads.ErrLeadNotFound
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE leads
   SET status = COALESCE(NULLIF($2, ''), status),
       last_call_at = $3,
       total_calls = total_calls + 1,
       updated_at = $4
 WHERE id = $1`, leadID, string(status), at.UTC(), r.clock().UTC())
		if err != nil {
			return fmt.Errorf("postgres: bump lead counters: %w", err)
		}
		if err := requireOneRow(res, leads.ErrLeadNotFound); err != nil {
			return err
		}
		return insertEntry(ctx, tx, leadID, entry)
	})
}

func (r *Repo) UpdateCallLog(ctx context.Context, leadID, callID string, fn leads.MutateFunc) (leads.Lead, leads.CallLogEntry, error) {
	if !r.ValidID(leadID) {
		return leads.Lead{}, leads.CallLogEntry{}, leads.ErrLeadNotFound
	}

	var (
		outLead  leads.Lead
		outEntry leads.CallLogEntry
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM call_logs WHERE lead_id = $1 AND call_id = $2 FOR UPDATE`, leadID, callID)
		entry, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return leads.ErrCallNotFound
		}
		if err != nil {
			return err
		}

		lead, err := getLead(ctx, tx, leadID)
		if err != nil {
			return err
		}

		change, err := fn(lead, &entry)
		if err != nil {
			return err
		}
		entry.Version++
		if err := updateEntry(ctx, tx, leadID, callID, entry); err != nil {
			return err
		}
		if change.LeadStatus != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE leads SET status = $2, updated_at = $3 WHERE id = $1`,
				leadID, string(change.LeadStatus), r.clock().UTC()); err != nil {
				return fmt.Errorf("postgres: set lead status: %w", err)
			}
		}

		outLead, err = getLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		outEntry = entry
		return nil
	})
	if err != nil {
		return leads.Lead{}, leads.CallLogEntry{}, err
	}
	return outLead, outEntry, nil
}

func (r *Repo) FindLeadByCallID(ctx context.Context, callID string) (leads.Lead, error) {
	var leadID string
	err := r.db.QueryRowContext(ctx, `SELECT lead_id FROM call_logs WHERE call_id = $1 ORDER BY seq DESC LIMIT 1`, callID).Scan(&leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return leads.Lead{}, leads.ErrCallNotFound
	}
	if err != nil {
		return leads.Lead{}, fmt.Errorf("postgres: find lead by call id: %w", err)
	}
	return getLead(ctx, r.db, leadID)
}

func (r *Repo) ListCallLogs(ctx context.Context, ownerID string) ([]leads.CallLogView, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT l.id, l.name, l.phone, l.email,
       c.call_id, c.status, c.event, c.direction, c.start_time, c.end_time, c.duration, c.from_number, c.to_number,
       c.outcome, c.recording_url, c.transcription, c.notes, c.metadata, c.events, c.call_history, c.error,
       c.created_at, c.last_updated, c.version
  FROM call_logs c
  JOIN leads l ON l.id = c.lead_id
 WHERE l.owner_id = $1
 ORDER BY c.created_at DESC, c.seq DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list call logs: %w", err)
	}
	defer rows.Close()

	out := make([]leads.CallLogView, 0)
	for rows.Next() {
		var v leads.CallLogView
		var ec entryCols
		dest := append([]any{&v.CustomerID, &v.CustomerName, &v.CustomerPhone, &v.CustomerEmail}, ec.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan call log: %w", err)
		}
		e, err := ec.entry()
		if err != nil {
			return nil, err
		}
		v.CallLogEntry = e
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list call logs: %w", err)
	}
	return out, nil
}

func (r *Repo) ForEachLeadWithCallLogs(ctx context.Context, fn func(leads.Lead) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT lead_id FROM call_logs ORDER BY lead_id`)
	if err != nil {
		return fmt.Errorf("postgres: list leads with call logs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan lead id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: list leads with call logs: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		l, err := getLead(ctx, r.db, id)
		if errors.Is(err, leads.ErrLeadNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// RewriteCallLogs locks the lead row, then every call_logs row of the lead,
// and runs fn on what it read. AppendCallLog waits on the lead row lock and
// UpdateCallLog on the entry row lock, so neither can slip a write in between.
// Entries are updated in place to keep row identity for waiting writers.
func (r *Repo) RewriteCallLogs(ctx context.Context, leadID string, fn leads.RewriteFunc) (bool, error) {
	if !r.ValidID(leadID) {
		return false, leads.ErrLeadNotFound
	}
	var wrote bool
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		wrote = false
		lead, err := lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		rw, ok := fn(lead.Clone())
		if !ok {
			return nil
		}
		if err := leads.CheckRewrite(lead, rw); err != nil {
			return err
		}
		for i, e := range rw.Entries {
			e.Version = lead.CallLogs[i].Version + 1
			if err := updateEntry(ctx, tx, leadID, e.CallID, e); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET total_calls = $2, last_call_at = $3, updated_at = $4 WHERE id = $1`,
			leadID, rw.TotalCalls, nullTime(rw.LastCallAt), r.clock().UTC()); err != nil {
			return fmt.Errorf("postgres: rewrite counters: %w", err)
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return wrote, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, leadID string, e leads.CallLogEntry) error {
	vals, err := entryValues(e)
	if err != nil {
		return err
	}
	args := append([]any{leadID}, vals...)
	_, err = tx.ExecContext(ctx, `
INSERT INTO call_logs (lead_id, `+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`, args...)
	if isUniqueViolation(err) {
		return leads.ErrDuplicateCallID
	}
	if err != nil {
		return fmt.Errorf("postgres: insert call log: %w", err)
	}
	return nil
}

func updateEntry(ctx context.Context, tx *sql.Tx, leadID, callID string, e leads.CallLogEntry) error {
	vals, err := entryValues(e)
	if err != nil {
		return err
	}
	args := append([]any{leadID, callID}, vals...)
	_, err = tx.ExecContext(ctx, `
UPDATE call_logs SET
       call_id = $3, status = $4, event = $5, direction = $6, start_time = $7, end_time = $8, duration = $9,
       from_number = $10, to_number = $11, outcome = $12, recording_url = $13, transcription = $14, notes = $15,
       metadata = $16, events = $17, call_history = $18, error = $19, created_at = $20, last_updated = $21, version = $22
 WHERE lead_id = $1 AND call_id = $2`, args...)
	if isUniqueViolation(err) {
		return leads.ErrDuplicateCallID
	}
	if err != nil {
		return fmt.Errorf("postgres: update call log: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
