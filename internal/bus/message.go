package bus

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is a message received from a chat channel.
type InboundMessage struct {
	ID        string
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Media     []string // local paths of attached media, if any
	Metadata  map[string]string
	Timestamp time.Time
}

// NewInbound returns an InboundMessage with a fresh ID and the current time.
func NewInbound(channel, senderID, chatID, content string) InboundMessage {
	return InboundMessage{
		ID:        uuid.NewString(),
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// SessionKey identifies the conversation the message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply to be delivered to a chat channel.
type OutboundMessage struct {
	ID        string
	Channel   string
	ChatID    string
	Content   string
	ReplyTo   string // ID of the inbound message this answers
	Timestamp time.Time
}

// Reply builds the outbound answer to m.
func (m InboundMessage) Reply(content string) OutboundMessage {
	return OutboundMessage{
		ID:        uuid.NewString(),
		Channel:   m.Channel,
		ChatID:    m.ChatID,
		Content:   content,
		ReplyTo:   m.ID,
		Timestamp: time.Now(),
	}
}
