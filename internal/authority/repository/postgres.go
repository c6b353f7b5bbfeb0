package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ied-sentinel/internal/authority/domain"
	ieddomain "ied-sentinel/internal/ied/domain"
	telemetrydomain "ied-sentinel/internal/telemetry/domain"
)

const entryColumns = `id, device_id, subject_id, kind, verdict, status, st_num, published_at,
bookkeeping_ms, validation_ms, action_to_validation_ms, corrective_action_ms,
projected_downtime_ms, actual_downtime_ms, created_at`

const (
	listIDs = `SELECT id FROM allowed_ids ORDER BY position`

	insertEntry = `INSERT INTO bookkeeping_records (` + entryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	latestEntries = `SELECT DISTINCT ON (device_id) ` + entryColumns + `
FROM bookkeeping_records
ORDER BY device_id, created_at DESC, id DESC`

	historyEntries = `SELECT ` + entryColumns + ` FROM (
	SELECT ` + entryColumns + `
	FROM bookkeeping_records
	WHERE device_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2
) newest
ORDER BY created_at, id`
)

// PostgresRepository stores the authority's state in Postgres (see internal/db/migrations).
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceIDs deletes the current list and inserts ids in one transaction.
func (r *PostgresRepository) ReplaceIDs(ctx context.Context, ids []string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM allowed_ids`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO allowed_ids (id, position) VALUES ($1, $2)`, id, i); err != nil {
			return fmt.Errorf("insert %q: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) SaveEntry(ctx context.Context, e *domain.Entry) error {
	var published sql.NullTime
	if !e.PublishedAt.IsZero() {
		published = sql.NullTime{Time: e.PublishedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, insertEntry,
		e.ID, e.DeviceID, e.SubjectID, string(e.Kind), string(e.Verdict), bool(e.Status), int64(e.StNum), published,
		telemetrydomain.Millis(e.BookkeepingLatency),
		telemetrydomain.Millis(e.ValidationLatency),
		telemetrydomain.Millis(e.ActionToValidationLatency),
		telemetrydomain.Millis(e.CorrectiveActionLatency),
		telemetrydomain.Millis(e.ProjectedDowntime),
		telemetrydomain.Millis(e.ActualDowntime),
		e.CreatedAt.UTC(),
	)
	return err
}

func (r *PostgresRepository) Latest(ctx context.Context) (map[string]domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, latestEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]domain.Entry)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.DeviceID] = e
	}
	return out, rows.Err()
}

func (r *PostgresRepository) History(ctx context.Context, deviceID string, limit int) ([]domain.Entry, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, historyEntries, deviceID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanEntry(rows *sql.Rows) (domain.Entry, error) {
	var (
		e         domain.Entry
		kind      string
		verdict   string
		status    bool
		stNum     int64
		published sql.NullTime
		ms        [6]float64
		created   time.Time
	)
	if err := rows.Scan(&e.ID, &e.DeviceID, &e.SubjectID, &kind, &verdict, &status, &stNum, &published,
		&ms[0], &ms[1], &ms[2], &ms[3], &ms[4], &ms[5], &created); err != nil {
		return domain.Entry{}, err
	}
	e.Kind = telemetrydomain.Kind(kind)
	e.Verdict = ieddomain.Verdict(verdict)
	e.Status = ieddomain.Status(status)
	e.StNum = uint32(stNum)
	if published.Valid {
		e.PublishedAt = published.Time
	}
	e.BookkeepingLatency = telemetrydomain.FromMillis(ms[0])
	e.ValidationLatency = telemetrydomain.FromMillis(ms[1])
	e.ActionToValidationLatency = telemetrydomain.FromMillis(ms[2])
	e.CorrectiveActionLatency = telemetrydomain.FromMillis(ms[3])
	e.ProjectedDowntime = telemetrydomain.FromMillis(ms[4])
	e.ActualDowntime = telemetrydomain.FromMillis(ms[5])
	e.CreatedAt = created
	return e, nil
}
