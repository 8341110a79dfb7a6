// Package sqlite provides a SQLite-backed journal implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/chainaccount/internal/event"
	"github.com/louisbranch/chainaccount/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/chainaccount/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Journal persists the event log in SQLite.
type Journal struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal at the provided path and applies embedded
// migrations.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Journal{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (j *Journal) Close() error {
	if j == nil || j.sqlDB == nil {
		return nil
	}
	return j.sqlDB.Close()
}

// Append records a batch of events in one transaction.
func (j *Journal) Append(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if j == nil || j.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := j.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}

	appended := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Type.IsValid() {
			_ = tx.Rollback()
			return nil, fmt.Errorf("event type is required")
		}
		result, err := tx.ExecContext(
			ctx,
			`INSERT INTO journal_events (timestamp, type, actor, payload) VALUES (?, ?, ?, ?)`,
			toMillis(ev.Timestamp),
			string(ev.Type),
			ev.Actor,
			string(ev.PayloadJSON),
		)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("read event seq: %w", err)
		}
		ev.Seq = uint64(seq)
		appended = append(appended, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return appended, nil
}

// List returns up to limit events with Seq greater than afterSeq.
func (j *Journal) List(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if j == nil || j.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT seq, timestamp, type, actor, payload
		FROM journal_events WHERE seq > ? ORDER BY seq`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			seq       int64
			timestamp int64
			typ       string
			actor     string
			payload   string
		)
		if err := rows.Scan(&seq, &timestamp, &typ, &actor, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event.Event{
			Seq:         uint64(seq),
			Timestamp:   fromMillis(timestamp),
			Type:        event.Type(typ),
			Actor:       actor,
			PayloadJSON: []byte(payload),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}
