package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
)

// Write side of the directory. The hub itself never calls these; they back
// the seed command and tests.

func (s *SQLite) PutUser(ctx context.Context, u domain.User) error {
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, avatar, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username, avatar = excluded.avatar, status = excluded.status`,
		string(u.ID), u.Username, u.Avatar, string(u.Status))
	if err != nil {
		return wrap("put user", err)
	}
	return nil
}

// PutConversation replaces the participant list of a conversation.
func (s *SQLite) PutConversation(ctx context.Context, id string, participants ...domain.UserID) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("put conversation", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, id, now()); err != nil {
		return wrap("put conversation", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id = ?`, id); err != nil {
		return wrap("put conversation", err)
	}
	for _, uid := range participants {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`, id, string(uid)); err != nil {
			return wrap("put conversation", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return wrap("put conversation", err)
	}
	return nil
}

func (s *SQLite) PutStream(ctx context.Context, st domain.Stream) error {
	if st.Access == "" {
		st.Access = domain.AccessFree
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (id, owner_id, title, status, access_type) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, title = excluded.title,
		   status = excluded.status, access_type = excluded.access_type`,
		st.ID, string(st.OwnerID), st.Title, string(st.Status), string(st.Access))
	if err != nil {
		return wrap("put stream", err)
	}
	return nil
}

// Subscribe records a subscription; a zero expiry never expires.
func (s *SQLite) Subscribe(ctx context.Context, subscriber, creator domain.UserID, expires time.Time) error {
	var exp any
	if !expires.IsZero() {
		exp = stamp(expires)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscriber_id, creator_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(subscriber_id, creator_id) DO UPDATE SET expires_at = excluded.expires_at`,
		string(subscriber), string(creator), exp)
	if err != nil {
		return wrap("subscribe", err)
	}
	return nil
}

func (s *SQLite) Purchase(ctx context.Context, uid domain.UserID, streamID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (user_id, stream_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		string(uid), streamID, now())
	if err != nil {
		return wrap(fmt.Sprintf("purchase %s", streamID), err)
	}
	return nil
}
