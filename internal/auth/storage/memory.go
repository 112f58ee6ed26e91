package storage

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/msgate/internal/common/cnst"
)

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	nextID uint
	users  map[string]*User
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		users:  make(map[string]*User),
	}
}

func (s *MemoryStore) GetUser(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, cnst.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return cnst.ErrDuplicateUser
	}
	now := time.Now()
	user.ID = s.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.nextID++

	cp := *user
	s.users[user.Username] = &cp
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
