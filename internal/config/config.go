package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend modes.
const (
	BackendRemote = "remote"
	BackendMock   = "mock"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	BackendMode string

	// Hospital backends
	HospitalAPIBaseURL  string
	SchedulerAPIBaseURL string
	HospitalID          string
	HospitalAPIToken    string
	HTTPTimeout         time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RatePerSecond       float64

	// Workflow
	CalendarPollInterval time.Duration
	WizardSessionTTL     time.Duration
	Timezone             string

	// Persistence
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Events
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	BookingEventsQueueURL string

	// HTTP surface
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// LoadDotEnv loads a .env file into the process environment when present.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		BackendMode: strings.ToLower(strings.TrimSpace(getEnv("BACKEND_MODE", BackendMock))),

		HospitalAPIBaseURL:  getEnv("HOSPITAL_API_BASE_URL", ""),
		SchedulerAPIBaseURL: getEnv("SCHEDULER_API_BASE_URL", ""),
		HospitalID:          getEnv("HOSPITAL_ID", ""),
		HospitalAPIToken:    getEnv("HOSPITAL_API_TOKEN", ""),
		HTTPTimeout:         getEnvAsDuration("HOSPITAL_API_TIMEOUT", 10*time.Second),
		RetryMaxAttempts:    getEnvAsInt("HOSPITAL_API_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:      getEnvAsDuration("HOSPITAL_API_RETRY_BASE_DELAY", 200*time.Millisecond),
		RatePerSecond:       getEnvAsFloat("HOSPITAL_API_RATE_PER_SECOND", 20),

		CalendarPollInterval: getEnvAsDuration("CALENDAR_POLL_INTERVAL", 10*time.Second),
		WizardSessionTTL:     getEnvAsDuration("WIZARD_SESSION_TTL", 2*time.Hour),
		Timezone:             getEnv("SCHEDULER_TZ", "America/Sao_Paulo"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BookingEventsQueueURL: getEnv("BOOKING_EVENTS_QUEUE_URL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 300),
	}
}

// UseMockBackend reports whether the in-process backend should serve requests.
func (c *Config) UseMockBackend() bool {
	return c.BackendMode != BackendRemote
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
