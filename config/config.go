package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string // empty disables the session registry
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration

	GeminiAPIKey string // optional; requests report its absence
	OpenAIAPIKey string // enables the relay
	TextModel    string
	LiveModel    string
	RelayModel   string
	VoiceName    string
	LogLevel     string
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		LogLevel:        "info",
	}
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a variable lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	config := Default()

	config.GeminiAPIKey = getenv("GEMINI_API_KEY")
	config.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	config.TextModel = getenv("TEXT_MODEL")
	config.LiveModel = getenv("LIVE_MODEL")
	config.RelayModel = getenv("RELAY_MODEL")
	config.VoiceName = getenv("VOICE_NAME")

	if level := getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	var err error
	if config.Port, err = intVar(getenv, "PORT", config.Port); err != nil {
		return nil, err
	}

	if redisURL, ok := lookup(getenv, "REDIS_URL"); ok {
		// "none" turns the registry off
		if redisURL == "none" {
			redisURL = ""
		}
		config.RedisURL = redisURL
	}
	config.RedisPassword = getenv("REDIS_PASSWORD")

	if config.MaxSessions, err = intVar(getenv, "MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}
	if config.MaxSessions < 1 {
		return nil, errors.New("invalid MAX_SESSIONS: must be at least 1")
	}

	// SESSION_TIMEOUT is in minutes
	minutes, err := intVar(getenv, "SESSION_TIMEOUT", int(config.SessionTimeout/time.Minute))
	if err != nil {
		return nil, err
	}
	config.SessionTimeout = time.Duration(minutes) * time.Minute

	// ALLOWED_ORIGINS (comma-separated)
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// KEEPALIVE_PERIOD is in seconds
	seconds, err := intVar(getenv, "KEEPALIVE_PERIOD", int(config.KeepAlivePeriod/time.Second))
	if err != nil {
		return nil, err
	}
	config.KeepAlivePeriod = time.Duration(seconds) * time.Second

	return config, nil
}

func lookup(getenv func(string) string, name string) (string, bool) {
	v := getenv(name)
	return v, v != ""
}

func intVar(getenv func(string) string, name string, def int) (int, error) {
	v, ok := lookup(getenv, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	return n, nil
}
