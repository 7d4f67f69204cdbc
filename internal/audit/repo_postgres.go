package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo writes to the audit_events table. The table has no UPDATE or
// DELETE path in this codebase.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const insertEventSQL = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, lead_id, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::jsonb, $10)`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress,
		e.LeadID, e.CallID, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
