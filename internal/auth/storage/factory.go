package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
)

// NewStore creates a user store based on configuration
func NewStore(logger *zap.Logger, cfg *config.UsersConfig) (Store, error) {
	logger.Info("Initializing user storage", zap.String("type", cfg.Type))
	switch cfg.Type {
	case cnst.UserStoreMemory:
		return NewMemoryStore(), nil
	case cnst.UserStoreDatabase:
		return NewDBStore(&cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported user storage type: %s", cfg.Type)
	}
}

// SeedSuperAdmin makes sure the configured operator account exists.
// An existing account is left untouched.
func SeedSuperAdmin(ctx context.Context, logger *zap.Logger, store Store, cfg *config.SuperAdminConfig) error {
	if _, err := store.GetUser(ctx, cfg.Username); err == nil {
		logger.Debug("super admin already present", zap.String("username", cfg.Username))
		return nil
	} else if !errors.Is(err, cnst.ErrUserNotFound) {
		return fmt.Errorf("looking up super admin: %w", err)
	}

	hash := cfg.PasswordHash
	if hash == "" {
		b, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing super admin password: %w", err)
		}
		hash = string(b)
	}

	err := store.CreateUser(ctx, &User{Username: cfg.Username, PasswordHash: hash})
	if err != nil && !errors.Is(err, cnst.ErrDuplicateUser) {
		return fmt.Errorf("creating super admin: %w", err)
	}
	logger.Info("super admin seeded", zap.String("username", cfg.Username))
	return nil
}
