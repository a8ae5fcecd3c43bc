// Package runledger persists task snapshots in SQLite so that tasks lost to a
// restart stay visible.
package runledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

type Ledger struct {
	conn *sql.DB
	path string
}

func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	l := &Ledger{conn: conn, path: cfg.Path}
	if err := l.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Ledger) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *Ledger) initSchema(ctx context.Context) error {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	version, err := readSchemaVersion(ctx, tx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than runtime version %d", version, currentSchemaVersion)
	}
	if version < 1 {
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	repo TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	issue_id TEXT NOT NULL,
	channel_id TEXT NOT NULL DEFAULT '',
	thread_ts TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 0,
	follow_ups INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER,
	pr_url TEXT NOT NULL DEFAULT '',
	aborted INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER,
	updated_at INTEGER NOT NULL
);`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC)`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(currentSchemaVersion),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func readSchemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var text string
	err := tx.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", text, err)
	}
	return version, nil
}

// Record inserts or replaces the row for info.ID. created_at keeps its first value.
func (l *Ledger) Record(ctx context.Context, info daemonruntime.TaskInfo) error {
	if l == nil || l.conn == nil {
		return fmt.Errorf("ledger is not open")
	}
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	created := info.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := l.conn.ExecContext(ctx, `
INSERT INTO tasks (
	id, status, source, repo, display_name, issue_id, channel_id, thread_ts,
	attempt, follow_ups, exit_code, pr_url, aborted, detail,
	created_at, started_at, finished_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	source = excluded.source,
	repo = excluded.repo,
	display_name = excluded.display_name,
	issue_id = excluded.issue_id,
	channel_id = excluded.channel_id,
	thread_ts = excluded.thread_ts,
	attempt = excluded.attempt,
	follow_ups = excluded.follow_ups,
	exit_code = excluded.exit_code,
	pr_url = excluded.pr_url,
	aborted = excluded.aborted,
	detail = excluded.detail,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at,
	updated_at = excluded.updated_at`,
		id,
		string(info.Status),
		info.Source,
		info.Repo,
		info.DisplayName,
		info.IssueID,
		info.ChannelID,
		info.ThreadTS,
		info.Attempt,
		info.FollowUps,
		nullInt(info.ExitCode),
		info.PRURL,
		boolInt(info.Aborted),
		info.Detail,
		created.UnixMilli(),
		nullTime(info.StartedAt),
		nullTime(info.FinishedAt),
		time.Now().UTC().UnixMilli(),
	)
	return err
}

const selectColumns = `id, status, source, repo, display_name, issue_id, channel_id, thread_ts,
	attempt, follow_ups, exit_code, pr_url, aborted, detail, created_at, started_at, finished_at`

// List returns the newest tasks first. An empty status matches every row.
func (l *Ledger) List(ctx context.Context, status daemonruntime.TaskStatus, limit int) ([]daemonruntime.TaskInfo, error) {
	if l == nil || l.conn == nil {
		return nil, fmt.Errorf("ledger is not open")
	}
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + selectColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []daemonruntime.TaskInfo
	for rows.Next() {
		info, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (l *Ledger) Get(ctx context.Context, id string) (daemonruntime.TaskInfo, bool, error) {
	if l == nil || l.conn == nil {
		return daemonruntime.TaskInfo{}, false, fmt.Errorf("ledger is not open")
	}
	row := l.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, strings.TrimSpace(id))
	info, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return daemonruntime.TaskInfo{}, false, nil
	}
	if err != nil {
		return daemonruntime.TaskInfo{}, false, err
	}
	return info, true, nil
}

// RecoverOrphaned marks every non-terminal row as lost. It is called once at
// startup, before new tasks are accepted, and returns the number of rows changed.
func (l *Ledger) RecoverOrphaned(ctx context.Context) (int64, error) {
	if l == nil || l.conn == nil {
		return 0, fmt.Errorf("ledger is not open")
	}
	now := time.Now().UTC().UnixMilli()
	res, err := l.conn.ExecContext(ctx,
		`UPDATE tasks SET status = ?, finished_at = COALESCE(finished_at, ?), updated_at = ?
		 WHERE status NOT IN (?, ?)`,
		string(daemonruntime.TaskLost), now, now,
		string(daemonruntime.TaskSessionEnded), string(daemonruntime.TaskLost),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (daemonruntime.TaskInfo, error) {
	var (
		info       daemonruntime.TaskInfo
		status     string
		exitCode   sql.NullInt64
		aborted    int
		createdAt  int64
		startedAt  sql.NullInt64
		finishedAt sql.NullInt64
	)
	if err := s.Scan(
		&info.ID, &status, &info.Source, &info.Repo, &info.DisplayName, &info.IssueID,
		&info.ChannelID, &info.ThreadTS, &info.Attempt, &info.FollowUps, &exitCode,
		&info.PRURL, &aborted, &info.Detail, &createdAt, &startedAt, &finishedAt,
	); err != nil {
		return daemonruntime.TaskInfo{}, err
	}
	info.Status = daemonruntime.TaskStatus(status)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		info.ExitCode = &v
	}
	info.Aborted = aborted != 0
	info.CreatedAt = time.UnixMilli(createdAt).UTC()
	info.StartedAt = timePtr(startedAt)
	info.FinishedAt = timePtr(finishedAt)
	return info, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
