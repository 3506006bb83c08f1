// Package store is the durable append-only log of messages, backed by GORM.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
)

// MessageStore appends accepted messages and answers history queries. Writes
// are serialized by the database; the router never coordinates ordering
// across concurrent appends beyond appending each message exactly once.
type MessageStore struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates the messages
// table. Use ":memory:" for tests.
func Open(dsn string) (*MessageStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&chat.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate messages: %w", err)
	}
	return &MessageStore{db: db}, nil
}

// NewMessageStore wraps an already-open database handle.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append writes one message to the log.
func (s *MessageStore) Append(ctx context.Context, m *chat.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Recent returns the newest messages visible to userID, newest first, capped
// at limit. Visibility is enforced by the query itself: a message is either
// receiver-agnostic (broadcast and system messages carry no receiver) or
// addressed to the requesting identity as sender or receiver. Whispers
// between two other identities never leave the database.
func (s *MessageStore) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.db.WithContext(ctx).
		Where("receiver_id IS NULL OR sender_id = ? OR receiver_id = ?", userID, userID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return messages, nil
}
