// Package directory implements the external collaborators the hub consults:
// users, conversation participants, streams and their access rules, chat
// history and viewer counts.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite keeps the directory in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file:" + filepath.ToSlash(path) + "?cache=shared" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("module", "directory").Str("path", path).Msg("sqlite directory opened")
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active'
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			access_type TEXT NOT NULL DEFAULT 'free',
			viewer_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscriber_id TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			expires_at TEXT,
			PRIMARY KEY (subscriber_id, creator_id)
		);`,
		`CREATE TABLE IF NOT EXISTS purchases (
			user_id TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, stream_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// wrap classifies database errors for the hub.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
}

func (s *SQLite) User(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u := &domain.User{ID: id}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, avatar, status FROM users WHERE id = ?`, string(id),
	).Scan(&u.Username, &u.Avatar, &status)
	if err != nil {
		return nil, wrap("user "+string(id), err)
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

func (s *SQLite) ConversationParticipants(ctx context.Context, conversationID string) ([]domain.UserID, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return nil, wrap("conversation "+conversationID, err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, wrap("participants", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, wrap("participants", err)
		}
		out = append(out, domain.UserID(uid))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("participants", err)
	}
	return out, nil
}

func (s *SQLite) Stream(ctx context.Context, streamID string) (*domain.Stream, error) {
	st := &domain.Stream{ID: streamID}
	var owner, status, access string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, title, status, access_type FROM streams WHERE id = ?`, streamID,
	).Scan(&owner, &st.Title, &status, &access)
	if err != nil {
		return nil, wrap("stream "+streamID, err)
	}
	st.OwnerID = domain.UserID(owner)
	st.Status = domain.StreamStatus(status)
	st.Access = domain.AccessType(access)
	return st, nil
}

// HasStreamAccess applies the access tier: free streams are open, subscriber
// streams need an unexpired subscription to the owner, paid streams need a
// purchase. The owner always has access.
func (s *SQLite) HasStreamAccess(ctx context.Context, st *domain.Stream, uid domain.UserID) (bool, error) {
	if st.OwnerID == uid {
		return true, nil
	}
	var n int
	var err error
	switch st.Access {
	case domain.AccessFree:
		return true, nil
	case domain.AccessSubscriber:
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM subscriptions
			 WHERE subscriber_id = ? AND creator_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
			string(uid), string(st.OwnerID), now(),
		).Scan(&n)
	case domain.AccessPaid:
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM purchases WHERE user_id = ? AND stream_id = ?`,
			string(uid), st.ID,
		).Scan(&n)
	default:
		return false, nil
	}
	if err != nil {
		return false, wrap("stream access", err)
	}
	return n > 0, nil
}

func (s *SQLite) SaveMessage(ctx context.Context, msg domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.ConversationID, string(msg.SenderID), msg.Content, string(msg.Type),
		stamp(msg.CreatedAt),
	)
	if err != nil {
		return wrap("save message", err)
	}
	return nil
}

func (s *SQLite) UpdateViewerCount(ctx context.Context, streamID string, count int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE streams SET viewer_count = ? WHERE id = ?`, count, streamID)
	if err != nil {
		return wrap("viewer count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("viewer count for %s: %w", streamID, domain.ErrNotFound)
	}
	return nil
}

// Messages returns the stored history of a conversation, oldest first.
func (s *SQLite) Messages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, content, message_type, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at, id LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, wrap("messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m := domain.Message{ConversationID: conversationID}
		var sender, typ, created string
		if err := rows.Scan(&m.ID, &sender, &m.Content, &typ, &created); err != nil {
			return nil, wrap("messages", err)
		}
		m.SenderID = domain.UserID(sender)
		m.Type = domain.MessageType(typ)
		m.CreatedAt, _ = time.Parse(timestampFormat, created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("messages", err)
	}
	return out, nil
}

func (s *SQLite) ViewerCount(ctx context.Context, streamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT viewer_count FROM streams WHERE id = ?`, streamID).Scan(&n)
	if err != nil {
		return 0, wrap("viewer count", err)
	}
	return n, nil
}

// timestampFormat is fixed width so stored timestamps order correctly as text.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

func stamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func now() string {
	return stamp(time.Now())
}
