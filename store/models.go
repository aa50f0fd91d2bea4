package store

import "time"

// User owns conversations. The app runs single-user today but the schema
// keeps the ownership edge.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:80;uniqueIndex;not null"`
	CreatedAt time.Time

	Conversations []Conversation
}

// Conversation groups the messages of one chat thread
type Conversation struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:200;not null"`
	CreatedAt time.Time
	UserID    uint `gorm:"index;not null"`

	Messages []Message `gorm:"constraint:OnDelete:CASCADE"`
}

// Message is one turn of a conversation. Role is "user" or "assistant".
// ImageURL is set on user messages that reference an uploaded image.
type Message struct {
	ID             uint   `gorm:"primaryKey"`
	Content        string `gorm:"type:text;not null"`
	Role           string `gorm:"size:50;not null"`
	ImageURL       string `gorm:"size:255"`
	CreatedAt      time.Time
	ConversationID uint `gorm:"index;not null"`
}
