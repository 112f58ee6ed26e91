package storage

import (
	"context"
	"time"
)

// Store keeps operator accounts
type Store interface {
	// GetUser returns cnst.ErrUserNotFound when the username is unknown
	GetUser(ctx context.Context, username string) (*User, error)
	// CreateUser assigns an ID; cnst.ErrDuplicateUser when the username exists
	CreateUser(ctx context.Context, user *User) error
	Close() error
}

// User is an operator allowed to drive the gateway
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
