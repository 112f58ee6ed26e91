package config

import (
	"time"

	"github.com/amoylab/msgate/pkg/trace"
)

type (
	// GatewayConfig is the root configuration of the msgate server
	GatewayConfig struct {
		Port       int              `yaml:"port" toml:"port"`
		CORS       CORSConfig       `yaml:"cors" toml:"cors"`
		Logger     LoggerConfig     `yaml:"logger" toml:"logger"`
		JWT        JWTConfig        `yaml:"jwt" toml:"jwt"`
		SuperAdmin SuperAdminConfig `yaml:"super_admin" toml:"super_admin"`
		Users      UsersConfig      `yaml:"users" toml:"users"`
		Session    SessionConfig    `yaml:"session" toml:"session"`
		Realtime   RealtimeConfig   `yaml:"realtime" toml:"realtime"`
		Relay      RelayConfig      `yaml:"relay" toml:"relay"`
		Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
		Tracing    trace.Config     `yaml:"tracing" toml:"tracing"`
		Media      MediaConfig      `yaml:"media" toml:"media"`
	}

	// CORSConfig controls cross-origin access for the browser frontend
	CORSConfig struct {
		AllowOrigins     []string `yaml:"allow_origins" toml:"allow_origins"`
		AllowMethods     []string `yaml:"allow_methods" toml:"allow_methods"`
		AllowHeaders     []string `yaml:"allow_headers" toml:"allow_headers"`
		ExposeHeaders    []string `yaml:"expose_headers" toml:"expose_headers"`
		AllowCredentials bool     `yaml:"allow_credentials" toml:"allow_credentials"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`
		Color      bool   `yaml:"color" toml:"color"` // console format only
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`
		TimeFormat string `yaml:"time_format" toml:"time_format"`
	}

	// JWTConfig configures bearer token signing
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key" toml:"secret_key"`
		Duration  time.Duration `yaml:"duration" toml:"duration"`
	}

	// SuperAdminConfig is the operator account seeded on start.
	// PasswordHash wins over Password when both are set.
	SuperAdminConfig struct {
		Username     string `yaml:"username" toml:"username"`
		Password     string `yaml:"password" toml:"password"`
		PasswordHash string `yaml:"password_hash" toml:"password_hash"`
	}

	// UsersConfig selects where operator accounts live
	UsersConfig struct {
		Type     string         `yaml:"type" toml:"type"` // memory or database
		Database DatabaseConfig `yaml:"database" toml:"database"`
	}

	DatabaseConfig struct {
		Type     string `yaml:"type" toml:"type"`     // sqlite, mysql, postgres
		Host     string `yaml:"host" toml:"host"`
		Port     int    `yaml:"port" toml:"port"`
		User     string `yaml:"user" toml:"user"`
		Password string `yaml:"password" toml:"password"`
		DBName   string `yaml:"dbname" toml:"dbname"` // file path for sqlite
		SSLMode  string `yaml:"sslmode" toml:"sslmode"`
	}

	// SessionConfig bounds the registry's waits on the backend
	SessionConfig struct {
		StateTimeout   time.Duration `yaml:"state_timeout" toml:"state_timeout"`
		DestroyTimeout time.Duration `yaml:"destroy_timeout" toml:"destroy_timeout"`
		Backend        BackendConfig `yaml:"backend" toml:"backend"`
	}

	BackendConfig struct {
		Type      string          `yaml:"type" toml:"type"`
		Simulator SimulatorConfig `yaml:"simulator" toml:"simulator"`
	}

	// SimulatorConfig drives the in-process simulated messaging backend
	SimulatorConfig struct {
		PairingDelay      time.Duration `yaml:"pairing_delay" toml:"pairing_delay"`
		AutoPairAfter     time.Duration `yaml:"auto_pair_after" toml:"auto_pair_after"` // 0 waits forever
		ReadyDelay        time.Duration `yaml:"ready_delay" toml:"ready_delay"`
		RegisteredNumbers []string      `yaml:"registered_numbers" toml:"registered_numbers"`
		RegisterAll       bool          `yaml:"register_all" toml:"register_all"`
		FailInit          bool          `yaml:"fail_init" toml:"fail_init"`
		Echo              bool          `yaml:"echo" toml:"echo"`
	}

	// RealtimeConfig tunes the websocket push channel
	RealtimeConfig struct {
		Path             string        `yaml:"path" toml:"path"`
		SendBuffer       int           `yaml:"send_buffer" toml:"send_buffer"`
		PingInterval     time.Duration `yaml:"ping_interval" toml:"ping_interval"`
		PongWait         time.Duration `yaml:"pong_wait" toml:"pong_wait"`
		WriteTimeout     time.Duration `yaml:"write_timeout" toml:"write_timeout"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	}

	// RelayConfig mirrors every published event to a Redis channel
	RelayConfig struct {
		Enabled bool        `yaml:"enabled" toml:"enabled"`
		Buffer  int         `yaml:"buffer" toml:"buffer"`
		Redis   RedisConfig `yaml:"redis" toml:"redis"`
	}

	RedisConfig struct {
		ClusterType string `yaml:"cluster_type" toml:"cluster_type"` // single, sentinel, cluster
		Addr        string `yaml:"addr" toml:"addr"`                 // ";" or "," separated for sentinel/cluster
		MasterName  string `yaml:"master_name" toml:"master_name"`
		Username    string `yaml:"username" toml:"username"`
		Password    string `yaml:"password" toml:"password"`
		DB          int    `yaml:"db" toml:"db"`
		Channel     string `yaml:"channel" toml:"channel"`
	}

	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Path      string    `yaml:"path" toml:"path"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}

	// MediaConfig bounds remote image fetches and uploads
	MediaConfig struct {
		MaxBytes     int64         `yaml:"max_bytes" toml:"max_bytes"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`
	}
)
