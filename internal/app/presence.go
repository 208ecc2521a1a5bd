package app

import (
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Presence turns membership changes into presence events. For stream rooms
// it is the viewer counter: every change publishes the new total to all
// members and a viewer-joined/left to the others.
// Both hooks return the members whose queue overflowed on those events.
type Presence struct {
	// Counts receives the viewer count of a stream after each change.
	Counts func(streamID string, count int)
}

func (p *Presence) Joined(tx *core.RoomTx, s *core.Session) []*core.Session {
	switch tx.ID().Kind() {
	case domain.KindStream:
		slow := p.publishCount(tx)
		return append(slow, publishTx(tx, protocol.Presence{
			Type:         protocol.EvViewerJoined,
			RoomID:       tx.ID(),
			ConnectionID: s.ID(),
			User:         s.User().Public(),
		}, s.ID())...)
	case domain.KindConversation:
		return publishTx(tx, protocol.Presence{
			Type:         protocol.EvMemberJoined,
			RoomID:       tx.ID(),
			ConnectionID: s.ID(),
			User:         s.User().Public(),
		}, s.ID())
	}
	return nil
}

func (p *Presence) Left(tx *core.RoomTx, s *core.Session) []*core.Session {
	switch tx.ID().Kind() {
	case domain.KindStream:
		if tx.Count() == 0 {
			if p.Counts != nil {
				p.Counts(tx.ID().Ref(), 0)
			}
			return nil
		}
		slow := p.publishCount(tx)
		slow = append(slow, publishTx(tx, protocol.Presence{
			Type:         protocol.EvViewerLeft,
			RoomID:       tx.ID(),
			ConnectionID: s.ID(),
			User:         s.User().Public(),
		}, "")...)
		if s.UserID() == tx.Owner() && !tx.HasUser(s.UserID()) {
			slow = append(slow, publishTx(tx, protocol.StreamEnded{Type: protocol.EvStreamEnded, RoomID: tx.ID()}, "")...)
		}
		return slow
	case domain.KindConversation:
		return publishTx(tx, protocol.Presence{
			Type:         protocol.EvMemberLeft,
			RoomID:       tx.ID(),
			ConnectionID: s.ID(),
			User:         s.User().Public(),
		}, "")
	}
	return nil
}

func (p *Presence) publishCount(tx *core.RoomTx) []*core.Session {
	n := tx.Count()
	slow := publishTx(tx, protocol.ViewerCount{Type: protocol.EvViewerCount, RoomID: tx.ID(), Count: n}, "")
	if p.Counts != nil {
		p.Counts(tx.ID().Ref(), n)
	}
	return slow
}

func publishTx(tx *core.RoomTx, ev protocol.Outbound, exclude core.ConnID) []*core.Session {
	f, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("room", string(tx.ID())).Msg("encode presence event")
		return nil
	}
	return tx.Publish(f, exclude).Slow
}
