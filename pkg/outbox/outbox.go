// Package outbox persists outbound channel events that could not be sent,
// so a send survives process death and is retried after reconnect. The
// server dedupes retries by correlation id, making delivery at least once
// without user-visible duplicates.
package outbox

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vikrant48/timepass-chat/pkg/chat"
)

// DBFileName is the SQLite filename under the data directory.
const DBFileName = "outbox.db"

// ErrNotFound is returned when the referenced entry does not exist.
var ErrNotFound = errors.New("outbox entry not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS outbox (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type   TEXT NOT NULL CHECK(event_type IN ('sendMessage','editMessage','deleteMessage','markAsRead')),
  client_id    TEXT NOT NULL DEFAULT '',
  message_id   TEXT NOT NULL DEFAULT '',
  sender_id    TEXT NOT NULL,
  peer_id      TEXT NOT NULL DEFAULT '',
  group_id     TEXT NOT NULL DEFAULT '',
  content      TEXT NOT NULL DEFAULT '',
  attempts     INTEGER NOT NULL DEFAULT 0,
  enqueued_at  INTEGER NOT NULL,
  last_attempt INTEGER
);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_dedupe
ON outbox (event_type, client_id, message_id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_outbox_order
ON outbox (enqueued_at, id);
`,
}

// Entry is one queued outbound event plus its retry bookkeeping.
type Entry struct {
	ID          int64
	Outbound    chat.Outbound
	Attempts    int
	EnqueuedAt  time.Time
	LastAttempt time.Time
}

// Store is a thin wrapper around the outbox SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) outbox.db under the data directory and runs the
// schema migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping outbox database: %w", err)
	}

	s := &Store{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applyMigrations() error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply outbox migration %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue persists one outbound event. Re-enqueueing the same logical event
// (same type, correlation id and message id) is a no-op, so retry paths can
// enqueue blindly.
func (s *Store) Enqueue(out chat.Outbound) error {
	if out.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if err := out.Conversation.Validate(); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO outbox (
			event_type, client_id, message_id, sender_id,
			peer_id, group_id, content, enqueued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(out.Type),
		out.ClientID,
		out.MessageID,
		out.SenderID,
		out.Conversation.PeerID,
		out.Conversation.GroupID,
		out.Content,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", out.Type, err)
	}
	return nil
}

// Pending returns all queued entries in enqueue order.
func (s *Store) Pending() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, client_id, message_id, sender_id,
		        peer_id, group_id, content, attempts, enqueued_at, last_attempt
		 FROM outbox
		 ORDER BY enqueued_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			eventType   string
			peerID      string
			groupID     string
			enqueuedAt  int64
			lastAttempt sql.NullInt64
		)
		err := rows.Scan(
			&e.ID, &eventType, &e.Outbound.ClientID, &e.Outbound.MessageID,
			&e.Outbound.SenderID, &peerID, &groupID, &e.Outbound.Content,
			&e.Attempts, &enqueuedAt, &lastAttempt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Outbound.Type = chat.OutboundType(eventType)
		if groupID != "" {
			e.Outbound.Conversation = chat.Group(groupID)
		} else {
			e.Outbound.Conversation = chat.Direct(peerID)
		}
		e.EnqueuedAt = time.UnixMilli(enqueuedAt)
		if lastAttempt.Valid {
			e.LastAttempt = time.UnixMilli(lastAttempt.Int64)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkAttempt records one failed delivery try.
func (s *Store) MarkAttempt(id int64) error {
	res, err := s.db.Exec(
		`UPDATE outbox SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox attempt %d: %w", id, err)
	}
	return checkAffected(res, id)
}

// Ack removes a delivered entry.
func (s *Store) Ack(id int64) error {
	res, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ack outbox entry %d: %w", id, err)
	}
	return checkAffected(res, id)
}

// Size returns the number of queued entries.
func (s *Store) Size() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

func checkAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox entry %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
