// Package protocol defines the typed events exchanged with clients and
// their JSON encoding. Every event is a flat object tagged by "type".
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
)

const (
	OpPing           = "ping"
	OpRoomJoin       = "room.join"
	OpRoomLeave      = "room.leave"
	OpChatSend       = "chat.send"
	OpTypingStart    = "presence.typing-start"
	OpTypingStop     = "presence.typing-stop"
	OpStreamChat     = "stream.chat"
	OpStreamReaction = "stream.reaction"
	OpSignalOffer    = "signal.offer"
	OpSignalAnswer   = "signal.answer"
	OpSignalICE      = "signal.ice"
)

// Inbound is implemented only by the event types of this package.
type Inbound interface {
	Op() string
	inbound()
}

type Ping struct{}

type RoomJoin struct {
	RoomKind domain.RoomKind `json:"roomKind"`
	RoomID   string          `json:"roomId"`
}

type RoomLeave struct {
	RoomID string `json:"roomId"`
}

type ChatSend struct {
	RoomID      string             `json:"roomId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
}

type TypingStart struct {
	RoomID string `json:"roomId"`
}

type TypingStop struct {
	RoomID string `json:"roomId"`
}

type StreamChat struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type StreamReaction struct {
	RoomID   string `json:"roomId"`
	Reaction string `json:"reaction"`
}

// SignalOffer is relayed to every other member of the room.
type SignalOffer struct {
	RoomID  string          `json:"roomId"`
	Target  core.ConnID     `json:"targetConnectionId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type SignalAnswer struct {
	RoomID  string          `json:"roomId,omitempty"`
	Target  core.ConnID     `json:"targetConnectionId"`
	Payload json.RawMessage `json:"payload"`
}

// SignalICE carries either a room or an explicit target.
type SignalICE struct {
	RoomID  string          `json:"roomId,omitempty"`
	Target  core.ConnID     `json:"targetConnectionId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (Ping) Op() string           { return OpPing }
func (RoomJoin) Op() string       { return OpRoomJoin }
func (RoomLeave) Op() string      { return OpRoomLeave }
func (ChatSend) Op() string       { return OpChatSend }
func (TypingStart) Op() string    { return OpTypingStart }
func (TypingStop) Op() string     { return OpTypingStop }
func (StreamChat) Op() string     { return OpStreamChat }
func (StreamReaction) Op() string { return OpStreamReaction }
func (SignalOffer) Op() string    { return OpSignalOffer }
func (SignalAnswer) Op() string   { return OpSignalAnswer }
func (SignalICE) Op() string      { return OpSignalICE }

func (Ping) inbound()           {}
func (RoomJoin) inbound()       {}
func (RoomLeave) inbound()      {}
func (ChatSend) inbound()       {}
func (TypingStart) inbound()    {}
func (TypingStop) inbound()     {}
func (StreamChat) inbound()     {}
func (StreamReaction) inbound() {}
func (SignalOffer) inbound()    {}
func (SignalAnswer) inbound()   {}
func (SignalICE) inbound()      {}

// Decode parses one client frame. The returned op is set whenever the
// envelope itself was readable, so errors can name the failed operation.
func Decode(data []byte) (Inbound, string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("bad json: %w", domain.ErrBadRequest)
	}

	var ev Inbound
	switch env.Type {
	case OpPing:
		return Ping{}, env.Type, nil
	case OpRoomJoin:
		ev = decodeAs[RoomJoin](data)
	case OpRoomLeave:
		ev = decodeAs[RoomLeave](data)
	case OpChatSend:
		ev = decodeAs[ChatSend](data)
	case OpTypingStart:
		ev = decodeAs[TypingStart](data)
	case OpTypingStop:
		ev = decodeAs[TypingStop](data)
	case OpStreamChat:
		ev = decodeAs[StreamChat](data)
	case OpStreamReaction:
		ev = decodeAs[StreamReaction](data)
	case OpSignalOffer:
		ev = decodeAs[SignalOffer](data)
	case OpSignalAnswer:
		ev = decodeAs[SignalAnswer](data)
	case OpSignalICE:
		ev = decodeAs[SignalICE](data)
	default:
		return nil, env.Type, fmt.Errorf("unknown event %q: %w", env.Type, domain.ErrBadRequest)
	}
	if ev == nil {
		return nil, env.Type, fmt.Errorf("bad %s payload: %w", env.Type, domain.ErrBadRequest)
	}
	return ev, env.Type, nil
}

func decodeAs[T Inbound](data []byte) Inbound {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
