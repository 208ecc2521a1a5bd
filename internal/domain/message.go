package domain

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

const MaxMessageLen = 4000

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Message is a chat message recorded against a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       UserID      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	CreatedAt      time.Time   `json:"created_at"`
}
