package repository

import (
	"context"
	"database/sql"

	"ied-sentinel/internal/audit/domain"
)

const (
	insertAuditLog = `INSERT INTO audit_logs (id, actor, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listAuditLogs = `SELECT id, actor, action, resource, ip, metadata, created_at
FROM audit_logs
WHERE ($1 = '' OR resource = $1)
ORDER BY created_at DESC, id
LIMIT $2`
)

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, insertAuditLog, a.ID, a.Actor, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

// List returns audit logs for resource, newest first. limit <= 0 returns all.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) List(ctx context.Context, resource string, limit int) ([]*domain.AuditLog, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, listAuditLogs, resource, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.AuditLog, 0)
	for rows.Next() {
		var (
			a    domain.AuditLog
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Actor, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
