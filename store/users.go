package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DefaultUsername is the single local user the app runs as
const DefaultUsername = "default"

// GetOrCreateDefaultUser returns the default local user, creating it on
// first call.
func (s *Store) GetOrCreateDefaultUser() (*User, error) {
	var user User
	err := s.db.Where(User{Username: DefaultUsername}).FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get or create default user: %w", err)
	}
	return &user, nil
}

// CreateUser creates a user with the given username
func (s *Store) CreateUser(username string) (*User, error) {
	user := User{Username: username}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername looks a user up by username
func (s *Store) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}
