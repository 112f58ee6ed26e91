package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBStore implements Store on top of gorm
type DBStore struct {
	db *gorm.DB
}

// NewDBStore opens the configured database and migrates the users table
func NewDBStore(cfg *config.DatabaseConfig) (*DBStore, error) {
	dsn, err := cfg.GetDSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case cnst.DatabaseSQLite:
		dialector = sqlite.Open(dsn)
	case cnst.DatabaseMySQL:
		dialector = mysql.Open(dsn)
	case cnst.DatabasePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newDBStore(db)
}

func newDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DBStore{db: db}, nil
}

func (s *DBStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cnst.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *DBStore) CreateUser(ctx context.Context, user *User) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return cnst.ErrDuplicateUser
	}
	return s.db.WithContext(ctx).Create(user).Error
}

// Close closes the database connection
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
