package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/novoground/gcs/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Session groups the samples of one recording run.
type Session struct {
	ID        string
	StartedAt time.Time
	Source    string
	Label     string
}

// SessionSummary is a session with its sample count and time span.
type SessionSummary struct {
	Session
	Samples int
	First   time.Time
	Last    time.Time
}

type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions(id, started_at, source, label)
		VALUES (?, ?, ?, ?)
	`, s.ID, toUnixMillis(s.StartedAt), s.Source, s.Label)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *TelemetryRepo) Insert(ctx context.Context, sessionID string, snap domain.Snapshot) error {
	return r.InsertBatch(ctx, sessionID, []domain.Snapshot{snap})
}

// InsertBatch stores snaps in one transaction.
func (r *TelemetryRepo) InsertBatch(ctx context.Context, sessionID string, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin telemetry insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry(session_id, `+telemetryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare telemetry insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		_, err := stmt.ExecContext(ctx, append([]any{sessionID}, snapshotArgs(s)...)...)
		if err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry insert: %w", err)
	}
	return nil
}

// ListBySession returns the session's samples in insertion order.
func (r *TelemetryRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Snapshot, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+telemetryColumns+`
		FROM telemetry
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}

	return out, nil
}

// Sessions lists sessions newest first.
func (r *TelemetryRepo) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.source, s.label,
			COUNT(t.id), COALESCE(MIN(t.timestamp), 0), COALESCE(MAX(t.timestamp), 0)
		FROM sessions s
		LEFT JOIN telemetry t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum         SessionSummary
			startedMs   int64
			first, last float64
		)
		if err := rows.Scan(&sum.ID, &startedMs, &sum.Source, &sum.Label, &sum.Samples, &first, &last); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.StartedAt = fromUnixMillis(startedMs)
		sum.First = domain.TimeFromUnixSeconds(first)
		sum.Last = domain.TimeFromUnixSeconds(last)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return out, nil
}

func (r *TelemetryRepo) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM telemetry WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session telemetry: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}
