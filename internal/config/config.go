package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverNATS      = "nats"
	DriverJetStream = "jetstream"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	NATSURL  string `mapstructure:"nats_url" yaml:"nats_url"`

	// Backplane is redis, nats or memory.
	Backplane string `mapstructure:"backplane" yaml:"backplane"`
	// PresenceStore is redis or memory.
	PresenceStore string `mapstructure:"presence_store" yaml:"presence_store"`
	// Queue is jetstream or memory.
	Queue string `mapstructure:"queue" yaml:"queue"`

	Partitions       int           `mapstructure:"partitions" yaml:"partitions"`
	WorkerPartitions []int         `mapstructure:"worker_partitions" yaml:"worker_partitions"`
	WorkerRetryDelay time.Duration `mapstructure:"worker_retry_delay" yaml:"worker_retry_delay"`
	EmbedWorker      bool          `mapstructure:"embed_worker" yaml:"embed_worker"`

	PresenceTTL     time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
	SendTimeout     time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	OutboundBuffer  int           `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	ConnectRetries  int           `mapstructure:"connect_retries" yaml:"connect_retries"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff" yaml:"connect_backoff"`
	MembershipCheck bool          `mapstructure:"membership_check" yaml:"membership_check"`

	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "ltchat.db",
		JWTSecret:          "change-me",
		JWTIssuer:          "ltchat",
		JWTAudience:        "ltchat",
		JWTTTL:             24 * time.Hour,
		RedisURL:           "redis://localhost:6379/0",
		NATSURL:            "nats://localhost:4222",
		Backplane:          DriverRedis,
		PresenceStore:      DriverRedis,
		Queue:              DriverJetStream,
		Partitions:         10,
		WorkerRetryDelay:   2 * time.Second,
		EmbedWorker:        true,
		PresenceTTL:        30 * time.Second,
		SendTimeout:        2 * time.Second,
		OutboundBuffer:     32,
		ConnectRetries:     10,
		ConnectBackoff:     2 * time.Second,
		MembershipCheck:    false,
		MaxMessageBytes:    64 << 10,
		RateLimitPerMinute: 120,
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Backplane {
	case DriverRedis, DriverNATS, DriverMemory:
	default:
		return fmt.Errorf("backplane %q: want redis, nats or memory", c.Backplane)
	}
	switch c.PresenceStore {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("presence_store %q: want redis or memory", c.PresenceStore)
	}
	switch c.Queue {
	case DriverJetStream, DriverMemory:
	default:
		return fmt.Errorf("queue %q: want jetstream or memory", c.Queue)
	}
	if c.Partitions <= 0 {
		return errors.New("partitions must be positive")
	}
	for _, p := range c.WorkerPartitions {
		if p < 0 || p >= c.Partitions {
			return fmt.Errorf("worker partition %d out of range [0,%d)", p, c.Partitions)
		}
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.PresenceTTL <= 0 || c.SendTimeout <= 0 {
		return errors.New("presence_ttl and send_timeout must be positive")
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Backplane != "" {
		c.Backplane = other.Backplane
	}
	if other.Queue != "" {
		c.Queue = other.Queue
	}
	if len(other.WorkerPartitions) > 0 {
		c.WorkerPartitions = other.WorkerPartitions
	}
}
