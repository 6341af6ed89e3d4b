package config

import (
	"fmt"
	"time"

	"vozconnect/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Signaling SignalingConfig
	JWT       JWTConfig
	Log       LogConfig
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// Enabled reports whether a Redis host is configured
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns the host:port address for the Redis client
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SignalingConfig holds call signaling configuration
type SignalingConfig struct {
	RelayURL       string        // ws:// or wss:// URL of the signaling relay
	StunServers    []string      // STUN server URLs for ICE
	RingTimeout    time.Duration // unanswered calls are treated as missed after this
	MaxConnections int           // relay-side cap on concurrent WebSocket connections
}

// JWTConfig holds JWT configuration for relay connection auth
type JWTConfig struct {
	Secret string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "vozconnect"),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", ""),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Signaling: SignalingConfig{
			RelayURL:       env.GetString("SIGNALING_RELAY_URL", "ws://localhost:8080/ws"),
			StunServers:    getEnvAsSlice("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			RingTimeout:    time.Duration(env.GetInt("RING_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxConnections: env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000),
		},
		JWT: JWTConfig{
			Secret: env.GetStringFromFile("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Signaling.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := env.GetString(key, "")
	if valueStr == "" {
		return defaultValue
	}
	// Simple comma-separated string parsing
	var result []string
	for i := 0; i < len(valueStr); {
		j := i
		for j < len(valueStr) && valueStr[j] != ',' {
			j++
		}
		if i < j {
			result = append(result, valueStr[i:j])
		}
		i = j + 1
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
