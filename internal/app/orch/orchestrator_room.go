package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Pulse/internal/app"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) Join(ctx context.Context, sess *core.Session, ev protocol.RoomJoin) error {
	id, err := domain.ResolveRoomID(ev.RoomKind, ev.RoomID)
	if err != nil {
		return err
	}
	if _, err := o.Rooms.Join(ctx, sess, id); err != nil {
		log.Info().Err(err).Str("module", "orch").Str("conn", string(sess.ID())).Str("room", string(id)).Msg("join refused")
		return err
	}
	var members []core.MemberDTO
	if room := o.Rooms.Get(id); room != nil {
		members = room.MembersSnapshot()
	}
	o.reply(sess, protocol.RoomJoined{
		Type:     protocol.EvRoomJoined,
		RoomID:   id,
		RoomKind: id.Kind(),
		Members:  members,
	})
	return nil
}

// Leave acknowledges only when the connection actually was a member.
// A connection stays in its user channel until it disconnects.
func (o *Orchestrator) Leave(sess *core.Session, ev protocol.RoomLeave) error {
	id, err := domain.ResolveRoomID("", ev.RoomID)
	if err != nil {
		return err
	}
	if id.Kind() == domain.KindUser {
		return fmt.Errorf("cannot leave user channel %s: %w", id, domain.ErrBadRequest)
	}
	if o.Rooms.Leave(sess, id) {
		o.reply(sess, protocol.RoomLeft{Type: protocol.EvRoomLeft, RoomID: id})
	}
	return nil
}

// DisconnectUser force-closes every connection of uid, e.g. after a ban.
func (o *Orchestrator) DisconnectUser(uid domain.UserID) int {
	n := 0
	for _, sess := range o.Registry.SessionsOf(uid) {
		if o.OnDisconnect(sess.ID()) {
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "orch").Str("user", string(uid)).Int("connections", n).Msg("user disconnected")
	}
	return n
}

// NotifyUser delivers payload on the user's channel and reports how many
// connections it was queued to.
func (o *Orchestrator) NotifyUser(uid domain.UserID, payload json.RawMessage) (int, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("empty notification: %w", domain.ErrBadRequest)
	}
	return o.publish(domain.UserRoom(uid), protocol.Notification{
		Type:    protocol.EvNotificationNew,
		Payload: payload,
	}, "")
}

type RoomDetail struct {
	app.PresenceSnapshot
	Kind    domain.RoomKind  `json:"kind"`
	Members []core.MemberDTO `json:"members"`
}

func (o *Orchestrator) ListRooms() []app.RoomInfo {
	return o.Rooms.List()
}

func (o *Orchestrator) RoomDetail(id domain.RoomID) (RoomDetail, bool) {
	room := o.Rooms.Get(id)
	if room == nil {
		return RoomDetail{}, false
	}
	members := room.MembersSnapshot()
	return RoomDetail{
		PresenceSnapshot: app.PresenceSnapshot{RoomID: id, Count: len(members)},
		Kind:             id.Kind(),
		Members:          members,
	}, true
}
