package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

type Config struct {
	Port          string
	UploadDir     string
	MaxUploadSize int64

	Database       DatabaseConfig
	MigrationsPath string

	AI        AIConfig
	Tickets   TicketConfig
	Monitor   MonitorConfig
	NatsURL   string
	Redis     RedisConfig
	LogLevel  string
	LogFormat string
}

type DatabaseConfig struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

type AIConfig struct {
	APIURL          string
	APIKey          string
	VisionModel     string
	MappingModel    string
	FrameSize       int
	AnalysisTimeout time.Duration
}

type TicketConfig struct {
	URL            string
	APIKey         string
	Timeout        time.Duration
	SimulatedDelay time.Duration
}

type MonitorConfig struct {
	PlaybackRate     float64
	EvidenceTimeout  time.Duration
	SubscriberBuffer int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment, after merging the first .env found.
func Load() (*Config, error) {
	for _, path := range []string{".env", "../.env", "/app/.env"} {
		if err := godotenv.Load(path); err == nil {
			logging.Info().Str("path", path).Msg("loaded config file")
			break
		}
	}

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		UploadDir:     getEnvOrDefault("UPLOAD_DIR", "./uploads"),
		MaxUploadSize: int64(parseIntOrDefault("MAX_UPLOAD_SIZE", 500<<20)),

		Database: DatabaseConfig{
			Type:       getEnvOrDefault("DB_TYPE", "sqlite"),
			Host:       getEnvOrDefault("DB_HOST", "localhost"),
			Port:       parseIntOrDefault("DB_PORT", 5432),
			User:       getEnvOrDefault("DB_USER", "sitewatch"),
			Password:   getEnvOrDefault("DB_PASSWORD", "sitewatch_dev"),
			Name:       getEnvOrDefault("DB_NAME", "sitewatch"),
			SQLitePath: getEnvOrDefault("DB_PATH", "./sitewatch.db"),
		},
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),

		AI: AIConfig{
			APIURL:          getEnvOrDefault("VISION_API_URL", "https://api.openai.com/v1"),
			APIKey:          os.Getenv("VISION_API_KEY"),
			VisionModel:     getEnvOrDefault("VISION_MODEL", "gpt-4o"),
			MappingModel:    getEnvOrDefault("MAPPING_MODEL", "gpt-4o-mini"),
			FrameSize:       parseIntOrDefault("FRAME_SIZE", 1024),
			AnalysisTimeout: parseDurationOrDefault("ANALYSIS_TIMEOUT", 45*time.Second),
		},

		Tickets: TicketConfig{
			URL:            os.Getenv("TICKET_URL"),
			APIKey:         os.Getenv("TICKET_API_KEY"),
			Timeout:        parseDurationOrDefault("TICKET_TIMEOUT", 10*time.Second),
			SimulatedDelay: parseDurationOrDefault("TICKET_SIMULATED_DELAY", 2*time.Second),
		},

		Monitor: MonitorConfig{
			PlaybackRate:     parseFloatOrDefault("PLAYBACK_RATE", 1.0),
			EvidenceTimeout:  parseDurationOrDefault("EVIDENCE_TIMEOUT", 20*time.Second),
			SubscriberBuffer: parseIntOrDefault("SUBSCRIBER_BUFFER", 64),
		},

		NatsURL: os.Getenv("NATS_URL"),

		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntOrDefault("REDIS_DB", 0),
		},

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported DB_TYPE: %s", c.Database.Type)
	}
	if c.Monitor.PlaybackRate <= 0 {
		return fmt.Errorf("PLAYBACK_RATE must be positive")
	}
	if c.Monitor.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive")
	}
	if c.AI.AnalysisTimeout <= 0 || c.Tickets.Timeout <= 0 || c.Monitor.EvidenceTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logging.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid integer")
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logging.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid number")
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logging.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}
