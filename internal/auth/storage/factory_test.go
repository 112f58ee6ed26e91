package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/msgate/internal/common/config"
)

func TestNewStore(t *testing.T) {
	lg := zap.NewNop()

	s, err := NewStore(lg, &config.UsersConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(lg, &config.UsersConfig{Type: "database", Database: config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"}})
	require.NoError(t, err)
	assert.IsType(t, &DBStore{}, s)
	_ = s.Close()

	_, err = NewStore(lg, &config.UsersConfig{Type: "ldap"})
	assert.Error(t, err)
}

func TestSeedSuperAdmin_FromPassword(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cfg := &config.SuperAdminConfig{Username: "admin", Password: "devpassword123"}

	require.NoError(t, SeedSuperAdmin(ctx, zap.NewNop(), s, cfg))
	u, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("devpassword123")))

	// second run keeps the existing account
	cfg.Password = "changed"
	require.NoError(t, SeedSuperAdmin(ctx, zap.NewNop(), s, cfg))
	again, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, u.PasswordHash, again.PasswordHash)
}

func TestSeedSuperAdmin_FromHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.SuperAdminConfig{Username: "root", Password: "ignored", PasswordHash: string(hash)}
	require.NoError(t, SeedSuperAdmin(ctx, zap.NewNop(), s, cfg))

	u, err := s.GetUser(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, string(hash), u.PasswordHash)
}
