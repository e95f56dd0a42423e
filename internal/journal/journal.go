// Package journal keeps a local SQLite record of what the CLI did to bids.
// Nothing in the submit path reads it back.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foundry-cloud/flow/internal/models"
	_ "modernc.org/sqlite"
)

const (
	TypeBidSubmitted = "BID_SUBMITTED"
	TypeBidFailed    = "BID_FAILED"
	TypeBidCanceled  = "BID_CANCELED"
	TypeDiskCreated  = "DISK_CREATED"
	TypeHookFailed   = "HOOK_FAILED"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at DATETIME NOT NULL,
	type TEXT NOT NULL,
	project_id TEXT,
	bid_id TEXT,
	order_name TEXT,
	payload_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_order ON events(order_name);
`

type Journal struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting wal mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Journal{conn: conn, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.conn.Close()
}

// Emit writes one event. Empty identifiers are stored as NULL; payload is
// stored as JSON when non-nil.
func (j *Journal) Emit(ctx context.Context, eventType, projectID, bidID, orderName string, payload any) error {
	var payloadJSON *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		s := string(b)
		payloadJSON = &s
	}

	_, err := j.conn.ExecContext(ctx,
		"INSERT INTO events (at, type, project_id, bid_id, order_name, payload_json) VALUES (?, ?, ?, ?, ?, ?)",
		j.now().UTC(), eventType, nullable(projectID), nullable(bidID), nullable(orderName), payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("writing %s event: %w", eventType, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.query(ctx, "SELECT id, at, type, project_id, bid_id, order_name, payload_json FROM events ORDER BY id DESC LIMIT ?", limit)
}

// ForOrder returns the events of one order, oldest first.
func (j *Journal) ForOrder(ctx context.Context, orderName string) ([]models.Event, error) {
	return j.query(ctx, "SELECT id, at, type, project_id, bid_id, order_name, payload_json FROM events WHERE order_name = ? ORDER BY id ASC", orderName)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]models.Event, error) {
	rows, err := j.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.At, &e.Type, &e.ProjectID, &e.BidID, &e.OrderName, &e.PayloadJSON); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
