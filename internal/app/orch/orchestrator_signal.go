package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/rs/zerolog/log"
)

// RelayOffer broadcasts to the other members of the room, or goes to one
// connection when a target is named.
func (o *Orchestrator) RelayOffer(sess *core.Session, ev protocol.SignalOffer) error {
	if ev.Target != "" {
		return o.relayTo(sess, protocol.EvSignalOffer, ev.RoomID, ev.Target, ev.Payload)
	}
	return o.relayRoom(sess, protocol.EvSignalOffer, ev.RoomID, ev.Payload)
}

func (o *Orchestrator) RelayAnswer(sess *core.Session, ev protocol.SignalAnswer) error {
	if ev.Target == "" {
		return fmt.Errorf("answer without target: %w", domain.ErrBadRequest)
	}
	return o.relayTo(sess, protocol.EvSignalAnswer, ev.RoomID, ev.Target, ev.Payload)
}

// RelayICE is targeted when the target is known and room-wide before that.
func (o *Orchestrator) RelayICE(sess *core.Session, ev protocol.SignalICE) error {
	switch {
	case ev.Target != "":
		return o.relayTo(sess, protocol.EvSignalICE, ev.RoomID, ev.Target, ev.Payload)
	case ev.RoomID != "":
		return o.relayRoom(sess, protocol.EvSignalICE, ev.RoomID, ev.Payload)
	}
	return fmt.Errorf("ice candidate without room or target: %w", domain.ErrBadRequest)
}

func (o *Orchestrator) relayRoom(sess *core.Session, kind, raw string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%s without payload: %w", kind, domain.ErrBadRequest)
	}
	id, err := domain.ResolveRoomID("", raw)
	if err != nil {
		return err
	}
	if !id.Kind().Shared() {
		return fmt.Errorf("cannot signal in %s: %w", id, domain.ErrBadRequest)
	}
	if !sess.InRoom(id) {
		return fmt.Errorf("not a member of %s: %w", id, domain.ErrForbidden)
	}
	n, err := o.publish(id, protocol.Signal{
		Type:    kind,
		RoomID:  id,
		From:    sess.ID(),
		User:    sess.User().Public(),
		Payload: payload,
	}, sess.ID())
	if err != nil {
		return err
	}
	metrics.SignalsRelayed.WithLabelValues(kind, "room").Inc()
	log.Debug().Str("module", "orch").Str("conn", string(sess.ID())).Str("room", string(id)).Str("kind", kind).Int("to", n).Msg("signal relayed")
	return nil
}

// relayTo delivers to exactly one connection. A target that is already gone
// is expected during teardown and is not reported to the sender.
func (o *Orchestrator) relayTo(sess *core.Session, kind, raw string, target core.ConnID, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%s without payload: %w", kind, domain.ErrBadRequest)
	}
	if target == sess.ID() {
		return fmt.Errorf("%s to self: %w", kind, domain.ErrBadRequest)
	}
	to, ok := o.Registry.GetSession(target)
	if !ok || to.Closed() {
		o.targetGone(sess, kind, target)
		return nil
	}

	var id domain.RoomID
	if raw != "" {
		rid, err := domain.ResolveRoomID("", raw)
		if err != nil {
			return err
		}
		if !rid.Kind().Shared() || !sess.InRoom(rid) || !to.InRoom(rid) {
			return fmt.Errorf("%s and %s do not share %s: %w", sess.ID(), target, rid, domain.ErrForbidden)
		}
		id = rid
	} else if id, ok = o.Rooms.SharedRoom(sess, to); !ok {
		return fmt.Errorf("%s and %s share no room: %w", sess.ID(), target, domain.ErrForbidden)
	}

	f, err := protocol.Encode(protocol.Signal{
		Type:    kind,
		RoomID:  id,
		From:    sess.ID(),
		User:    sess.User().Public(),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if !o.sendTo(o.Rooms.Get(id), to, f) {
		o.targetGone(sess, kind, target)
		return nil
	}
	metrics.SignalsRelayed.WithLabelValues(kind, "direct").Inc()
	log.Debug().Str("module", "orch").Str("conn", string(sess.ID())).Str("target", string(target)).Str("kind", kind).Msg("signal relayed")
	return nil
}

func (o *Orchestrator) targetGone(sess *core.Session, kind string, target core.ConnID) {
	metrics.SignalsRelayed.WithLabelValues(kind, "gone").Inc()
	log.Info().Err(domain.ErrTargetGone).Str("module", "orch").Str("conn", string(sess.ID())).Str("target", string(target)).Str("kind", kind).Msg("target gone")
}
