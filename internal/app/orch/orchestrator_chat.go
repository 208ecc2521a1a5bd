package orch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const maxReactionLen = 32

// memberRoom resolves raw to a room of the given kind that sess belongs to.
func memberRoom(sess *core.Session, raw string, kind domain.RoomKind) (domain.RoomID, error) {
	id, err := domain.ResolveRoomID(kind, raw)
	if err != nil {
		return "", err
	}
	if !sess.InRoom(id) {
		return "", fmt.Errorf("not a member of %s: %w", id, domain.ErrForbidden)
	}
	return id, nil
}

func checkContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty content: %w", domain.ErrBadRequest)
	}
	if utf8.RuneCountInString(content) > domain.MaxMessageLen {
		return "", fmt.Errorf("content longer than %d: %w", domain.MaxMessageLen, domain.ErrBadRequest)
	}
	return content, nil
}

// Chat fans a conversation message out to the other members, then records
// it in the background and confirms to the sender with chat.sent.
func (o *Orchestrator) Chat(sess *core.Session, ev protocol.ChatSend) error {
	id, err := memberRoom(sess, ev.RoomID, domain.KindConversation)
	if err != nil {
		return err
	}
	content, err := checkContent(ev.Content)
	if err != nil {
		return err
	}
	typ := ev.MessageType
	if typ == "" {
		typ = domain.MessageText
	}
	if !typ.Valid() {
		return fmt.Errorf("message type %q: %w", typ, domain.ErrBadRequest)
	}

	msg := domain.Message{
		ID:             ulid.Make().String(),
		ConversationID: id.Ref(),
		SenderID:       sess.UserID(),
		Content:        content,
		Type:           typ,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := o.publish(id, protocol.ChatNew{
		Type:        protocol.EvChatNew,
		RoomID:      id,
		MessageID:   msg.ID,
		From:        sess.ID(),
		User:        sess.User().Public(),
		Content:     msg.Content,
		MessageType: msg.Type,
		SentAt:      msg.CreatedAt,
	}, sess.ID()); err != nil {
		return err
	}

	o.wg.Add(1)
	go o.persist(sess, id, msg)
	return nil
}

func (o *Orchestrator) persist(sess *core.Session, id domain.RoomID, msg domain.Message) {
	defer o.wg.Done()
	err := o.retry.Do(context.Background(), func(ctx context.Context) error {
		return o.dir.SaveMessage(ctx, msg)
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(id)).Str("message", msg.ID).Msg("message not persisted")
	}
	o.reply(sess, protocol.ChatSent{
		Type:      protocol.EvChatSent,
		RoomID:    id,
		MessageID: msg.ID,
		Persisted: err == nil,
	})
}

func (o *Orchestrator) Typing(sess *core.Session, raw string, typ string) error {
	id, err := memberRoom(sess, raw, domain.KindConversation)
	if err != nil {
		return err
	}
	_, err = o.publish(id, protocol.Typing{Type: typ, RoomID: id, User: sess.User().Public()}, sess.ID())
	return err
}

// StreamChat is ephemeral and echoed to the sender as well.
func (o *Orchestrator) StreamChat(sess *core.Session, ev protocol.StreamChat) error {
	id, err := memberRoom(sess, ev.RoomID, domain.KindStream)
	if err != nil {
		return err
	}
	content, err := checkContent(ev.Content)
	if err != nil {
		return err
	}
	_, err = o.publish(id, protocol.StreamChatNew{
		Type:    protocol.EvStreamChatNew,
		RoomID:  id,
		User:    sess.User().Public(),
		Content: content,
		SentAt:  time.Now().UTC(),
	}, "")
	return err
}

func (o *Orchestrator) StreamReaction(sess *core.Session, ev protocol.StreamReaction) error {
	id, err := memberRoom(sess, ev.RoomID, domain.KindStream)
	if err != nil {
		return err
	}
	if ev.Reaction == "" || utf8.RuneCountInString(ev.Reaction) > maxReactionLen {
		return fmt.Errorf("reaction %q: %w", ev.Reaction, domain.ErrBadRequest)
	}
	_, err = o.publish(id, protocol.StreamReactionNew{
		Type:     protocol.EvStreamReactionNew,
		RoomID:   id,
		User:     sess.User().Public(),
		Reaction: ev.Reaction,
	}, "")
	return err
}
