package store

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Title word pools used when the opening message is too short to slice a
// title from.
var (
	titleAdjectives = []string{
		"Curious", "Insightful", "Thoughtful", "Engaging", "Interesting",
		"Creative", "Dynamic", "Exploratory", "Innovative", "Intriguing",
	}
	titleTopics = []string{
		"Discussion", "Conversation", "Dialogue", "Chat", "Exchange",
		"Brainstorm", "Discovery", "Exploration", "Analysis", "Investigation",
	}
)

// GenerateTitle derives a conversation title from its opening message:
// the first three words elided, or a random pairing for short messages.
func GenerateTitle(message string) string {
	words := strings.Fields(message)
	if len(words) >= 3 {
		return strings.Join(words[:3], " ") + "..."
	}
	return titleAdjectives[rand.Intn(len(titleAdjectives))] + " " + titleTopics[rand.Intn(len(titleTopics))]
}

// ConversationSummary is a conversation row decorated with a preview of
// its latest message, for the sidebar listing.
type ConversationSummary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"preview,omitempty"`
}

// CreateConversation creates a conversation owned by userID, titled from
// the opening message.
func (s *Store) CreateConversation(userID uint, initialMessage string) (*Conversation, error) {
	conv := Conversation{
		Title:  GenerateTitle(initialMessage),
		UserID: userID,
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conv, nil
}

// CreateTitledConversation creates a conversation with an explicit title
func (s *Store) CreateTitledConversation(userID uint, title string) (*Conversation, error) {
	conv := Conversation{
		Title:  title,
		UserID: userID,
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation returns the conversation with the given ID
func (s *Store) GetConversation(id uint) (*Conversation, error) {
	var conv Conversation
	err := s.db.First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations newest-first, each
// with the content of its latest message as a preview.
func (s *Store) ListConversations(userID uint) ([]ConversationSummary, error) {
	var convs []Conversation
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
		}

		latest, err := s.LatestMessage(conv.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if latest != nil {
			summary.Preview = latest.Content
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// DeleteConversation removes a conversation and its messages. Returns
// ErrNotFound if the conversation does not exist.
func (s *Store) DeleteConversation(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Conversation{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversation messages: %w", err)
		}
		return nil
	})
}
