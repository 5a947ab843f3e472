// Package history keeps a log of tunnel status transitions in a local
// sqlite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yllada/tunnelbar/common"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tunnel_id TEXT    NOT NULL,
	tunnel    TEXT    NOT NULL,
	from_status TEXT  NOT NULL,
	to_status   TEXT  NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transitions_tunnel ON transitions (tunnel_id, at);
`

// Event is one recorded status transition.
type Event struct {
	ID       int64
	TunnelID string
	Tunnel   string
	From     string
	To       string
	At       time.Time
}

// Log is a transition log backed by sqlite. It is safe for concurrent use.
type Log struct {
	db *sql.DB
}

// DefaultPath returns the history database location in the config directory.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.HistoryFileName), nil
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway log.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	// sqlite has a single writer, and :memory: lives on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends e. A zero At is replaced by the current time.
func (l *Log) Record(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transitions (tunnel_id, tunnel, from_status, to_status, at) VALUES (?, ?, ?, ?, ?)`,
		e.TunnelID, e.Tunnel, e.From, e.To, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording transition of %s: %w", e.Tunnel, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	return l.query(ctx,
		`SELECT id, tunnel_id, tunnel, from_status, to_status, at FROM transitions
		 ORDER BY at DESC, id DESC LIMIT ?`, limit)
}

// ForTunnel returns up to limit events of one tunnel, newest first.
func (l *Log) ForTunnel(ctx context.Context, tunnelID string, limit int) ([]Event, error) {
	return l.query(ctx,
		`SELECT id, tunnel_id, tunnel, from_status, to_status, at FROM transitions
		 WHERE tunnel_id = ? ORDER BY at DESC, id DESC LIMIT ?`, tunnelID, limit)
}

// Prune deletes events older than before and returns how many were removed.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM transitions WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}

// Retain prunes events older than keep and logs how many were removed.
func (l *Log) Retain(ctx context.Context, keep time.Duration) error {
	n, err := l.Prune(ctx, time.Now().Add(-keep))
	if err != nil {
		return err
	}
	if n > 0 {
		common.LogDebug("Pruned %d history events older than %v", n, keep)
	}
	return nil
}

func (l *Log) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &e.TunnelID, &e.Tunnel, &e.From, &e.To, &at); err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}
