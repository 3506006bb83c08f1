// Package chat defines the message model shared by the router, the store,
// and the transport layer.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// MessageType tags every message with its kind. The set is closed: consumers
// must switch on the tag, never infer the kind from which fields are set.
type MessageType string

const (
	TypeConnected    MessageType = "connected"
	TypeDisconnected MessageType = "disconnected"
	TypeBroadcast    MessageType = "broadcast"
	TypeWhisper      MessageType = "whisper"
)

// Message is the durable and wire-visible unit of communication. The router
// creates it once at acceptance time; it is immutable afterwards. Persistence
// and delivery are two independent effects of the same accepted message.
type Message struct {
	ID           uuid.UUID   `gorm:"primaryKey;type:uuid" json:"id"`
	Content      string      `gorm:"type:text" json:"content"`
	SenderID     uuid.UUID   `gorm:"type:uuid;not null" json:"senderId"`
	SenderName   string      `gorm:"size:255;not null" json:"senderName"`
	ReceiverID   *uuid.UUID  `gorm:"type:uuid;index:idx_receiver_sent,priority:1" json:"receiverId,omitempty"`
	ReceiverName *string     `gorm:"size:255" json:"receiverName,omitempty"`
	SentAt       time.Time   `gorm:"index;index:idx_receiver_sent,priority:2" json:"sentAt"`
	Type         MessageType `gorm:"size:16;not null" json:"type"`
}

func (Message) TableName() string {
	return "messages"
}

// NewConnected synthesizes the system message announcing that an identity
// opened a connection. Content is intentionally empty.
func NewConnected(senderID uuid.UUID, senderName string) *Message {
	return newMessage(TypeConnected, senderID, senderName, "")
}

// NewDisconnected synthesizes the system message announcing that an identity
// closed a connection.
func NewDisconnected(senderID uuid.UUID, senderName string) *Message {
	return newMessage(TypeDisconnected, senderID, senderName, "")
}

// NewBroadcast creates a room-wide message from validated content.
func NewBroadcast(senderID uuid.UUID, senderName, content string) *Message {
	return newMessage(TypeBroadcast, senderID, senderName, content)
}

// NewWhisper creates a directed message carrying both the sender and the
// resolved receiver.
func NewWhisper(senderID uuid.UUID, senderName string, receiverID uuid.UUID, receiverName, content string) *Message {
	m := newMessage(TypeWhisper, senderID, senderName, content)
	m.ReceiverID = &receiverID
	m.ReceiverName = &receiverName
	return m
}

func newMessage(t MessageType, senderID uuid.UUID, senderName, content string) *Message {
	return &Message{
		ID:         uuid.New(),
		Content:    content,
		SenderID:   senderID,
		SenderName: senderName,
		SentAt:     time.Now().UTC(),
		Type:       t,
	}
}
