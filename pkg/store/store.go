// Package store provides SQLite-backed persistence for the chat log.
//
// The live message path never depends on this: sessions keep their own
// in-memory history, and the router appends here best-effort so a node can
// show channel history across restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hebbarp/ahoy/pkg/model"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Store is the chat log database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       INTEGER NOT NULL,
		sender     TEXT    NOT NULL DEFAULT '',
		recipient  TEXT    NOT NULL DEFAULT '',
		channel    TEXT    NOT NULL DEFAULT '',
		body       TEXT    NOT NULL,
		created_at TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append records one delivered message.
func (s *Store) Append(msg model.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (kind, sender, recipient, channel, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int(msg.Kind), msg.From, msg.To, msg.Channel, msg.Body, msg.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// ChannelHistory returns the most recent limit messages for a channel,
// oldest first.
func (s *Store) ChannelHistory(channel string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT kind, sender, recipient, channel, body, created_at
		 FROM (SELECT * FROM messages WHERE channel = ? AND kind = ? ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`,
		channel, int(model.KindChannel), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		var (
			kind    int
			msg     model.Message
			created string
		)
		if err := rows.Scan(&kind, &msg.From, &msg.To, &msg.Channel, &msg.Body, &created); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msg.Kind = model.MessageKind(kind)
		if ts, err := time.Parse(timeLayout, created); err == nil {
			msg.Timestamp = ts
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate history: %w", err)
	}
	return out, nil
}
