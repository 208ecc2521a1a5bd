package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	EvConnected         = "connected"
	EvPong              = "pong"
	EvError             = "error"
	EvRoomJoined        = "room.joined"
	EvRoomLeft          = "room.left"
	EvMemberJoined      = "conversation.member-joined"
	EvMemberLeft        = "conversation.member-left"
	EvChatNew           = "chat.new"
	EvChatSent          = "chat.sent"
	EvTypingStart       = "presence.typing-start"
	EvTypingStop        = "presence.typing-stop"
	EvStreamChatNew     = "stream.chat.new"
	EvStreamReactionNew = "stream.reaction.new"
	EvViewerCount       = "stream.viewer-count"
	EvViewerJoined      = "stream.viewer-joined"
	EvViewerLeft        = "stream.viewer-left"
	EvStreamEnded       = "stream.ended"
	EvSignalOffer       = "signal.offer"
	EvSignalAnswer      = "signal.answer"
	EvSignalICE         = "signal.ice"
	EvNotificationNew   = "notification.new"
)

// Outbound is implemented only by the event types of this package.
type Outbound interface {
	outbound()
}

type Connected struct {
	Type         string             `json:"type"`
	ConnectionID core.ConnID        `json:"connectionId"`
	UserID       domain.UserID      `json:"userId"`
	ICEServers   []webrtc.ICEServer `json:"iceServers"`
}

type Pong struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomJoined struct {
	Type     string           `json:"type"`
	RoomID   domain.RoomID    `json:"roomId"`
	RoomKind domain.RoomKind  `json:"roomKind"`
	Members  []core.MemberDTO `json:"members"`
}

type RoomLeft struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// Presence announces one connection entering or leaving a room.
type Presence struct {
	Type         string            `json:"type"`
	RoomID       domain.RoomID     `json:"roomId"`
	ConnectionID core.ConnID       `json:"connectionId"`
	User         domain.PublicUser `json:"user"`
}

type ChatNew struct {
	Type        string             `json:"type"`
	RoomID      domain.RoomID      `json:"roomId"`
	MessageID   string             `json:"messageId"`
	From        core.ConnID        `json:"from"`
	User        domain.PublicUser  `json:"user"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	SentAt      time.Time          `json:"sentAt"`
}

type ChatSent struct {
	Type      string        `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	MessageID string        `json:"messageId"`
	Persisted bool          `json:"persisted"`
}

type Typing struct {
	Type   string            `json:"type"`
	RoomID domain.RoomID     `json:"roomId"`
	User   domain.PublicUser `json:"user"`
}

type StreamChatNew struct {
	Type    string            `json:"type"`
	RoomID  domain.RoomID     `json:"roomId"`
	User    domain.PublicUser `json:"user"`
	Content string            `json:"content"`
	SentAt  time.Time         `json:"sentAt"`
}

type StreamReactionNew struct {
	Type     string            `json:"type"`
	RoomID   domain.RoomID     `json:"roomId"`
	User     domain.PublicUser `json:"user"`
	Reaction string            `json:"reaction"`
}

type ViewerCount struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Count  int           `json:"count"`
}

type StreamEnded struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// Signal is a relayed negotiation envelope; Payload is passed through untouched.
type Signal struct {
	Type    string            `json:"type"`
	RoomID  domain.RoomID     `json:"roomId,omitempty"`
	From    core.ConnID       `json:"from"`
	User    domain.PublicUser `json:"user"`
	Payload json.RawMessage   `json:"payload"`
}

type Notification struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (Connected) outbound()         {}
func (Pong) outbound()              {}
func (Error) outbound()             {}
func (RoomJoined) outbound()        {}
func (RoomLeft) outbound()          {}
func (Presence) outbound()          {}
func (ChatNew) outbound()           {}
func (ChatSent) outbound()          {}
func (Typing) outbound()            {}
func (StreamChatNew) outbound()     {}
func (StreamReactionNew) outbound() {}
func (ViewerCount) outbound()       {}
func (StreamEnded) outbound()       {}
func (Signal) outbound()            {}
func (Notification) outbound()      {}

// Encode serialises an outbound event once so it can be fanned out as-is.
func Encode(ev Outbound) (core.Frame, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// ErrorFor builds the error event reported for a failed operation.
func ErrorFor(op string, err error) Error {
	return Error{Type: EvError, Op: op, Code: domain.Code(err), Message: err.Error()}
}
