// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the collaboration server.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Hub         HubConfig
	Document    DocumentConfig
	Logging     LoggingConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int
	AllowOrigins    []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig configures the SQLite document store.
type DatabaseConfig struct {
	Path string
}

// RedisConfig configures the cross-instance bus. An empty Addr disables it.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// AuthConfig configures identity extraction at connection time.
type AuthConfig struct {
	JWTSecret      string
	AllowAnonymous bool
}

// HubConfig holds the keepalive, buffering and policy knobs of the hub.
type HubConfig struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	CommandQueueSize int
	MaxRoomMembers   int
	MessageRate      float64
	MessageBurst     int
}

// DocumentConfig configures the document persistence worker.
type DocumentConfig struct {
	SaveDebounce time.Duration
	SaveQueue    int
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from .env (when present) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			AllowOrigins:    splitCSV(getEnv("CORS_ALLOW_ORIGINS", "*")),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "data/documents.db"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "collab"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AllowAnonymous: getEnvAsBool("AUTH_ALLOW_ANONYMOUS", false),
		},
		Hub: HubConfig{
			WriteWait:        getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:         getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
			PingPeriod:       getEnvAsDuration("WS_PING_PERIOD", 54*time.Second),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 512)),
			SendBufferSize:   getEnvAsInt("WS_SEND_BUFFER", 256),
			CommandQueueSize: getEnvAsInt("WS_COMMAND_QUEUE", 256),
			MaxRoomMembers:   getEnvAsInt("WS_MAX_ROOM_MEMBERS", 0),
			MessageRate:      getEnvAsFloat("WS_MESSAGE_RATE", 0),
			MessageBurst:     getEnvAsInt("WS_MESSAGE_BURST", 20),
		},
		Document: DocumentConfig{
			SaveDebounce: getEnvAsDuration("DOC_SAVE_DEBOUNCE", 250*time.Millisecond),
			SaveQueue:    getEnvAsInt("DOC_SAVE_QUEUE", 256),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
