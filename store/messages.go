package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateMessage appends a message to a conversation
func (s *Store) CreateMessage(conversationID uint, role, content string) (*Message, error) {
	return s.CreateImageMessage(conversationID, role, content, "")
}

// CreateImageMessage appends a message that references an uploaded image
func (s *Store) CreateImageMessage(conversationID uint, role, content, imageURL string) (*Message, error) {
	msg := Message{
		Content:        content,
		Role:           role,
		ImageURL:       imageURL,
		ConversationID: conversationID,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a conversation's messages oldest-first. An unknown
// conversation yields an empty slice.
func (s *Store) ListMessages(conversationID uint) ([]Message, error) {
	var msgs []Message
	err := s.db.Where("conversation_id = ?", conversationID).Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// LatestMessage returns the most recent message in a conversation
func (s *Store) LatestMessage(conversationID uint) (*Message, error) {
	var msg Message
	err := s.db.Where("conversation_id = ?", conversationID).Order("created_at DESC, id DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest message: %w", err)
	}
	return &msg, nil
}
