package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/amoylab/msgate/internal/common/cnst"
)

// GetDSN returns the connection string for the configured database type.
// For sqlite the parent directory of the file is created on demand.
func (c *DatabaseConfig) GetDSN() (string, error) {
	switch c.Type {
	case cnst.DatabasePostgres:
		return c.getPostgresDSN(), nil
	case cnst.DatabaseMySQL:
		return c.getMySQLDSN(), nil
	case cnst.DatabaseSQLite:
		if c.DBName == ":memory:" || c.DBName == "file::memory:?cache=shared" {
			return c.DBName, nil
		}
		if err := os.MkdirAll(filepath.Dir(c.DBName), 0o755); err != nil {
			return "", fmt.Errorf("creating sqlite directory: %w", err)
		}
		return c.DBName, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func (c *DatabaseConfig) getPostgresDSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

func (c *DatabaseConfig) getMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}
