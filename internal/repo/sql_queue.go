package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/lead-relay/internal/model"
)

// SQLQueueStore is a QueueStore on SQLite or Postgres. Every statement
// sequence runs under one mutex, so a mutation and the backup snapshot that
// follows it are never interleaved with another caller.
type SQLQueueStore struct {
	mu          sync.Mutex
	db          *sqlx.DB
	now         func() time.Time
	maxAttempts int
	backup      *backupWriter
}

type Option func(*SQLQueueStore)

func WithNow(now func() time.Time) Option {
	return func(s *SQLQueueStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxAttempts sets the attempt count at which MarkFailed makes a row
// terminal.
func WithMaxAttempts(n int) Option {
	return func(s *SQLQueueStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackupPath enables the JSON snapshot of pending and failed rows.
func WithBackupPath(path string) Option {
	return func(s *SQLQueueStore) {
		if path != "" {
			s.backup = &backupWriter{path: path}
		}
	}
}

func NewSQLQueueStore(db *sqlx.DB, opts ...Option) *SQLQueueStore {
	s := &SQLQueueStore{
		db:          db,
		now:         time.Now,
		maxAttempts: model.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type queueRow struct {
	ID            int64          `db:"id"`
	Recipient     string         `db:"recipient"`
	Body          string         `db:"body"`
	Priority      int            `db:"priority"`
	CreatedAt     int64          `db:"created_at"`
	Attempts      int            `db:"attempts"`
	LastAttemptAt sql.NullInt64  `db:"last_attempt_at"`
	Status        string         `db:"status"`
	LastError     sql.NullString `db:"last_error"`
	ScheduledFor  sql.NullInt64  `db:"scheduled_for"`
	Metadata      sql.NullString `db:"metadata"`
}

const selectColumns = `id, recipient, body, priority, created_at, attempts,
	last_attempt_at, status, last_error, scheduled_for, metadata`

func (s *SQLQueueStore) Enqueue(ctx context.Context, p EnqueueParams) (int64, error) {
	var metadata sql.NullString
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	var scheduled sql.NullInt64
	if p.ScheduledFor != nil {
		scheduled = sql.NullInt64{Int64: toMillis(*p.ScheduledFor), Valid: true}
	}

	var lastErr sql.NullString
	if p.LastError != nil {
		lastErr = sql.NullString{String: *p.LastError, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Rebind(`
		INSERT INTO message_queue (recipient, body, priority, created_at, attempts, status, last_error, scheduled_for, metadata)
		VALUES (?, ?, ?, ?, 0, 'pending', ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err := s.db.QueryRowxContext(ctx, q,
		p.Recipient, p.Body, p.Priority, toMillis(s.now()), lastErr, scheduled, metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert queued message: %w", err)
	}

	slog.Info("message queued", "id", id, "recipient", p.Recipient, "priority", p.Priority)
	s.writeBackup(ctx)
	return id, nil
}

func (s *SQLQueueStore) DequeueNext(ctx context.Context, maxAttempts int) *model.QueuedMessage {
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Rebind(`
		SELECT ` + selectColumns + `
		FROM message_queue
		WHERE status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND attempts < ?
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1
	`)

	var row queueRow
	err := s.db.GetContext(ctx, &row, q, toMillis(s.now()), maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		slog.Error("dequeue failed", "err", err)
		return nil
	}

	msg := row.toModel()
	return &msg
}

func (s *SQLQueueStore) MarkSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Rebind(`
		UPDATE message_queue
		SET status = 'sent', last_attempt_at = ?
		WHERE id = ? AND status = 'pending'
	`)

	res, err := s.db.ExecContext(ctx, q, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark sent %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.writeBackup(ctx)
	}
	return nil
}

func (s *SQLQueueStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Rebind(`
		UPDATE message_queue
		SET attempts = attempts + 1,
		    last_attempt_at = ?,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ? AND status = 'pending'
	`)

	res, err := s.db.ExecContext(ctx, q, toMillis(s.now()), reason, s.maxAttempts, id)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.writeBackup(ctx)
	}
	return nil
}

func (s *SQLQueueStore) Stats(ctx context.Context) model.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row struct {
		Total   int64 `db:"total"`
		Pending int64 `db:"pending"`
		Sent    int64 `db:"sent"`
		Failed  int64 `db:"failed"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM message_queue
	`)
	if err != nil {
		slog.Error("queue stats failed", "err", err)
		return model.QueueStats{}
	}

	return model.QueueStats{
		Total:   int(row.Total),
		Pending: int(row.Pending),
		Sent:    int(row.Sent),
		Failed:  int(row.Failed),
	}
}

func (s *SQLQueueStore) PurgeSent(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("purge: days must be >= 0, got %d", olderThanDays)
	}
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.Rebind(`
		DELETE FROM message_queue
		WHERE status = 'sent' AND last_attempt_at < ?
	`)

	res, err := s.db.ExecContext(ctx, q, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sent rows affected: %w", err)
	}

	if n > 0 {
		slog.Info("purged sent messages", "deleted", n, "older_than_days", olderThanDays)
		s.writeBackup(ctx)
	}
	return n, nil
}

// List pages rows in dispatch order. An empty status lists every row.
func (s *SQLQueueStore) List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rows []queueRow
		err  error
	)
	if status == "" {
		q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM message_queue
			ORDER BY priority ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`)
		err = s.db.SelectContext(ctx, &rows, q, limit, offset)
	} else {
		q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM message_queue WHERE status = ?
			ORDER BY priority ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`)
		err = s.db.SelectContext(ctx, &rows, q, string(status), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	out := make([]model.QueuedMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// writeBackup must be called with s.mu held.
func (s *SQLQueueStore) writeBackup(ctx context.Context) {
	if s.backup == nil {
		return
	}

	var rows []queueRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+selectColumns+` FROM message_queue
		WHERE status IN ('pending', 'failed') ORDER BY id ASC`)
	if err != nil {
		slog.Error("backup snapshot query failed", "err", err)
		return
	}

	entries := make([]backupEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, backupEntry{
			ID:        r.ID,
			Recipient: r.Recipient,
			Body:      r.Body,
			Priority:  r.Priority,
			Status:    r.Status,
			Attempts:  r.Attempts,
			CreatedAt: fromMillis(r.CreatedAt),
		})
	}

	if err := s.backup.write(entries); err != nil {
		slog.Error("backup write failed", "path", s.backup.path, "err", err)
	}
}

func (r queueRow) toModel() model.QueuedMessage {
	m := model.QueuedMessage{
		ID:        r.ID,
		Recipient: r.Recipient,
		Body:      r.Body,
		Priority:  r.Priority,
		CreatedAt: fromMillis(r.CreatedAt),
		Attempts:  r.Attempts,
		Status:    model.Status(r.Status),
	}
	if r.LastAttemptAt.Valid {
		t := fromMillis(r.LastAttemptAt.Int64)
		m.LastAttemptAt = &t
	}
	if r.ScheduledFor.Valid {
		t := fromMillis(r.ScheduledFor.Int64)
		m.ScheduledFor = &t
	}
	if r.LastError.Valid {
		e := r.LastError.String
		m.LastError = &e
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &m.Metadata); err != nil {
			slog.Warn("bad metadata on queued message", "id", r.ID, "err", err)
		}
	}
	return m
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
