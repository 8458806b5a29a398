// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images
)

// ErrInvalid marks configuration that cannot be activated.
var ErrInvalid = errors.New("invalid configuration")

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port       string
	DBPath     string
	PolicyFile string
	Timezone   string
	Location   *time.Location
	SelfID     string // the agent's own sender ID on the chat platform
	AdminToken string

	DispatchTimeout       time.Duration
	MaxConcurrentDispatch int
	SweepInterval         time.Duration

	Transport TransportConfig
	Recall    RecallConfig
	Policy    Policy
}

// TransportConfig selects and configures the chat transport.
type TransportConfig struct {
	Kind           string
	GatewayURL     string
	GatewayToken   string
	RedisURL       string
	InboundStream  string
	OutboundStream string
	ConsumerGroup  string
	ConsumerName   string
}

// RecallConfig configures the gRPC memory/context/generation collaborator.
type RecallConfig struct {
	Address         string
	ConnectTimeout  time.Duration
	MemoryTimeout   time.Duration
	ContextTimeout  time.Duration
	GenerateTimeout time.Duration
}

// Load reads configuration from environment variables and the policy file.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "nudge"
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                getEnv("DB_PATH", "./data/nudge.db"),
		PolicyFile:            getEnv("POLICY_FILE", "./config/policy.yaml"),
		Timezone:              getEnv("TIMEZONE", "Local"),
		SelfID:                getEnv("SELF_ID", ""),
		AdminToken:            getEnv("ADMIN_TOKEN", ""),
		DispatchTimeout:       getEnvDuration("DISPATCH_TIMEOUT", 60*time.Second),
		MaxConcurrentDispatch: getEnvInt("MAX_CONCURRENT_DISPATCH", 4),
		SweepInterval:         getEnvDuration("SWEEP_INTERVAL", time.Hour),
		Transport: TransportConfig{
			Kind:           strings.ToLower(getEnv("TRANSPORT", TransportWebSocket)),
			GatewayURL:     getEnv("CHAT_GATEWAY_URL", "ws://localhost:8090/ws/bot"),
			GatewayToken:   getEnv("CHAT_GATEWAY_TOKEN", ""),
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			InboundStream:  getEnv("REDIS_INBOUND_STREAM", "chat_inbound"),
			OutboundStream: getEnv("REDIS_OUTBOUND_STREAM", "chat_outbound"),
			ConsumerGroup:  getEnv("REDIS_CONSUMER_GROUP", "nudge"),
			ConsumerName:   getEnv("REDIS_CONSUMER_NAME", hostname),
		},
		Recall: RecallConfig{
			Address:         getEnv("RECALL_ADDR", "localhost:50051"),
			ConnectTimeout:  getEnvDuration("RECALL_CONNECT_TIMEOUT", 5*time.Second),
			MemoryTimeout:   getEnvDuration("RECALL_MEMORY_TIMEOUT", 15*time.Second),
			ContextTimeout:  getEnvDuration("RECALL_CONTEXT_TIMEOUT", 5*time.Second),
			GenerateTimeout: getEnvDuration("RECALL_GENERATE_TIMEOUT", 45*time.Second),
		},
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE %q: %v", ErrInvalid, cfg.Timezone, err)
	}
	cfg.Location = loc

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	policy.Enabled = getEnvBool("NUDGE_ENABLED", policy.Enabled)
	cfg.Policy = policy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: PORT cannot be empty", ErrInvalid)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: DB_PATH cannot be empty", ErrInvalid)
	}
	switch c.Transport.Kind {
	case TransportWebSocket:
		if c.Transport.GatewayURL == "" {
			return fmt.Errorf("%w: CHAT_GATEWAY_URL cannot be empty", ErrInvalid)
		}
	case TransportRedis:
		if c.Transport.RedisURL == "" || c.Transport.InboundStream == "" || c.Transport.OutboundStream == "" {
			return fmt.Errorf("%w: REDIS_URL and stream names are required for the redis transport", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown TRANSPORT %q", ErrInvalid, c.Transport.Kind)
	}
	if c.Recall.Address == "" {
		return fmt.Errorf("%w: RECALL_ADDR cannot be empty", ErrInvalid)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("%w: DISPATCH_TIMEOUT must be > 0", ErrInvalid)
	}
	if c.MaxConcurrentDispatch <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENT_DISPATCH must be > 0", ErrInvalid)
	}
	return c.Policy.Validate()
}

// Now returns the current time in the configured location.
func (c *Config) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
