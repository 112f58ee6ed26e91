package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/pkg/helper"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadConfig loads the gateway configuration from a YAML or TOML file.
// ${VAR} and ${VAR:default} placeholders are resolved from the environment
// (after loading .env when present) before decoding.
func LoadConfig(filename string) (*GatewayConfig, string, error) {
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}
	data = resolveEnv(data)

	var cfg GatewayConfig
	switch strings.ToLower(filepath.Ext(cfgPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parsing toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parsing yaml config: %w", err)
		}
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, cfgPath, nil
}

// resolveEnv replaces environment variable placeholders in the raw content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(matches[1])); ok {
			return []byte(value)
		}
		if len(matches) > 2 {
			return matches[2]
		}
		return nil
	})
}

// SetDefaults fills zero values with the gateway defaults
func SetDefaults(cfg *GatewayConfig) {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if len(cfg.CORS.AllowMethods) == 0 {
		cfg.CORS.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.CORS.AllowHeaders) == 0 {
		cfg.CORS.AllowHeaders = []string{"Authorization", "Content-Type"}
	}
	if cfg.JWT.Duration == 0 {
		cfg.JWT.Duration = 24 * time.Hour
	}
	if cfg.SuperAdmin.Username == "" {
		cfg.SuperAdmin.Username = "admin"
	}
	if cfg.Users.Type == "" {
		cfg.Users.Type = cnst.UserStoreMemory
	}
	if cfg.Users.Type == cnst.UserStoreDatabase && cfg.Users.Database.Type == "" {
		cfg.Users.Database.Type = cnst.DatabaseSQLite
	}
	if cfg.Users.Database.Type == cnst.DatabaseSQLite && cfg.Users.Database.DBName == "" {
		cfg.Users.Database.DBName = "data/msgate.db"
	}
	if cfg.Session.StateTimeout == 0 {
		cfg.Session.StateTimeout = 10 * time.Second
	}
	if cfg.Session.DestroyTimeout == 0 {
		cfg.Session.DestroyTimeout = 15 * time.Second
	}
	if cfg.Session.Backend.Type == "" {
		cfg.Session.Backend.Type = cnst.BackendSimulator
	}
	if cfg.Realtime.Path == "" {
		cfg.Realtime.Path = "/ws"
	}
	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = 64
	}
	if cfg.Realtime.PingInterval == 0 {
		cfg.Realtime.PingInterval = 30 * time.Second
	}
	if cfg.Realtime.PongWait == 0 {
		cfg.Realtime.PongWait = 60 * time.Second
	}
	if cfg.Realtime.WriteTimeout == 0 {
		cfg.Realtime.WriteTimeout = 10 * time.Second
	}
	if cfg.Realtime.HandshakeTimeout == 0 {
		cfg.Realtime.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Relay.Buffer <= 0 {
		cfg.Relay.Buffer = 256
	}
	if cfg.Relay.Redis.ClusterType == "" {
		cfg.Relay.Redis.ClusterType = cnst.RedisClusterTypeSingle
	}
	if cfg.Relay.Redis.Channel == "" {
		cfg.Relay.Redis.Channel = cnst.AppName + ":events"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cnst.AppName
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cnst.AppName
	}
	if cfg.Media.MaxBytes <= 0 {
		cfg.Media.MaxBytes = 16 << 20
	}
	if cfg.Media.FetchTimeout == 0 {
		cfg.Media.FetchTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for values the gateway cannot run with
func (c *GatewayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if len(c.JWT.SecretKey) < cnst.MinJWTSecretLength {
		return fmt.Errorf("jwt.secret_key must be at least %d characters", cnst.MinJWTSecretLength)
	}
	if c.JWT.Duration < 0 {
		return fmt.Errorf("jwt.duration must be positive")
	}
	if c.SuperAdmin.Password == "" && c.SuperAdmin.PasswordHash == "" {
		return fmt.Errorf("super_admin.password or super_admin.password_hash is required")
	}
	switch c.Users.Type {
	case cnst.UserStoreMemory:
	case cnst.UserStoreDatabase:
		switch c.Users.Database.Type {
		case cnst.DatabaseSQLite, cnst.DatabaseMySQL, cnst.DatabasePostgres:
		default:
			return fmt.Errorf("unsupported users.database.type: %s", c.Users.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported users.type: %s", c.Users.Type)
	}
	if c.Session.Backend.Type != cnst.BackendSimulator {
		return fmt.Errorf("unsupported session.backend.type: %s", c.Session.Backend.Type)
	}
	if c.Relay.Enabled && c.Relay.Redis.Addr == "" {
		return fmt.Errorf("relay.redis.addr is required when relay is enabled")
	}
	switch c.Relay.Redis.ClusterType {
	case cnst.RedisClusterTypeSingle, cnst.RedisClusterTypeSentinel, cnst.RedisClusterTypeCluster:
	default:
		return fmt.Errorf("unsupported relay.redis.cluster_type: %s", c.Relay.Redis.ClusterType)
	}
	return nil
}
