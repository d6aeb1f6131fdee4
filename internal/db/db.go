package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pearchat/internal/chat"
	"pearchat/internal/models"
)

// DB holds chat snapshots and the archive of finished conversations.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each connection to :memory: is its own database
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = conn.Close()
		return nil, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			scope TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			messages TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			last_user_prompt TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, id);`,
	}

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// LoadSnapshot returns the snapshot stored for scope, if any.
func (d *DB) LoadSnapshot(ctx context.Context, scope string) (chat.Persisted, bool, error) {
	var (
		p   chat.Persisted
		raw string
	)
	err := d.conn.QueryRowContext(ctx,
		"SELECT session_id, messages FROM snapshots WHERE scope = ?",
		scope,
	).Scan(&p.SessionID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Persisted{}, false, nil
	}
	if err != nil {
		return chat.Persisted{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &p.Messages); err != nil {
		return chat.Persisted{}, false, fmt.Errorf("decode snapshot %q: %w", scope, err)
	}
	return p, true, nil
}

func (d *DB) SaveSnapshot(ctx context.Context, scope string, p chat.Persisted) error {
	msgs := p.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO snapshots(scope, session_id, messages, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET session_id = excluded.session_id, messages = excluded.messages, updated_at = excluded.updated_at`,
		scope,
		p.SessionID,
		string(raw),
		time.Now().Unix(),
	)
	return err
}

func (d *DB) ClearSnapshot(ctx context.Context, scope string) error {
	_, err := d.conn.ExecContext(ctx, "DELETE FROM snapshots WHERE scope = ?", scope)
	return err
}

// ArchiveTranscript copies a finished conversation into the chat history.
func (d *DB) ArchiveTranscript(ctx context.Context, p chat.Persisted) error {
	if len(p.Messages) == 0 {
		return nil
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	created := p.Messages[0].Timestamp.Unix()
	updated := p.Messages[len(p.Messages)-1].Timestamp.Unix()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO chats(created_at, updated_at, session_id, last_user_prompt) VALUES(?, ?, ?, ?)",
		created,
		updated,
		p.SessionID,
		lastUserPrompt(p.Messages),
	)
	if err != nil {
		return err
	}
	chatID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, m := range p.Messages {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages(chat_id, role, content, created_at) VALUES(?, ?, ?, ?)",
			chatID,
			m.Role,
			m.Content,
			m.Timestamp.Unix(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func lastUserPrompt(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// RecentChats returns the total number of archived chats and one page of
// them, newest first.
func (d *DB) RecentChats(ctx context.Context, limit, offset int) (int, []models.ChatListItem, error) {
	var count int
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&count); err != nil {
		return 0, nil, err
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT c.id, c.updated_at, c.last_user_prompt, c.session_id,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c ORDER BY c.updated_at DESC, c.id DESC LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	items := make([]models.ChatListItem, 0, max(limit, 0))
	for rows.Next() {
		var it models.ChatListItem
		if err := rows.Scan(&it.ID, &it.UpdatedAtUnix, &it.LastUserPrompt, &it.SessionID, &it.MessageCount); err != nil {
			return 0, nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	return count, items, nil
}

func (d *DB) ChatMessages(ctx context.Context, chatID int64) ([]models.DBMessage, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT role, content, created_at FROM messages WHERE chat_id = ? ORDER BY id ASC",
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.DBMessage{}
	for rows.Next() {
		var (
			m       models.DBMessage
			created int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(created, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
