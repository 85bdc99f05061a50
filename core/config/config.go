// Package config loads process configuration from the environment, with a
// .env file loaded first when present (local/dev convenience only).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// DataDir is the directory holding the six persisted JSON stores (tools,
	// facts, tasks, notifications, reflections, insights); no goals file is
	// kept.
	DataDir string

	// ProjectRootPath is the root of the Go source tree the Self-Modification
	// Engine is permitted to edit.
	ProjectRootPath string

	LLM           LLMConfig
	Critics       CriticsConfig
	TaskManager   TaskManagerConfig
	OTel          OTelConfig
	Notifications NotificationsConfig
}

// NotificationsConfig configures the Notification Bus's optional Redis
// stream mirror, used by external dashboards that want to tail notifications
// without polling the JSON store. The mirror is entirely optional: an empty
// RedisURL leaves the bus running in file-only mode.
type NotificationsConfig struct {
	RedisURL    string
	RedisStream string
}

// Enabled reports whether a Redis mirror was configured.
func (c NotificationsConfig) Enabled() bool {
	return c.RedisURL != ""
}

// OTelConfig configures the OTLP/HTTP exporters common/otel.Setup builds from.
// Tracing and log export are both disabled unless Endpoint is set.
type OTelConfig struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string

	// Headers is a comma-separated list of key=value pairs sent with every
	// OTLP export request (e.g. an ingest auth token).
	Headers string
}

// Enabled reports whether an OTLP endpoint was configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LLMConfig configures the OpenAI-backed provider clients.
type LLMConfig struct {
	APIKey string

	// AgentModel is the default model for tool-calling plan generation (Planner).
	AgentModel string

	// StructuredModel is the default model for strict-JSON single-shot calls
	// (Code Service, Critic Coordinator, fact assessment).
	StructuredModel string

	DefaultTemperature float64
	DefaultMaxTokens   int64
}

// CriticsConfig configures the Critic Coordinator's reviewer fan-out.
type CriticsConfig struct {
	// Count is the number of independent reviewers run per review. Bounded at 4.
	Count int

	// Model overrides LLM.StructuredModel for reviewer calls, if set.
	Model string
}

// TaskManagerConfig configures the task lifecycle manager.
type TaskManagerConfig struct {
	// ArchiveCapacity bounds the archived-task history (LRU eviction by
	// last_updated_at once exceeded).
	ArchiveCapacity int

	// MaxReplansPerGoal bounds how many times the Execution Agent may ask the
	// Planner to replan a single goal before recording it as a failure.
	MaxReplansPerGoal int
}

// Load loads configuration from environment variables, loading a local .env
// file first if one is present. It provides sensible defaults for development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:             getEnv("AGENT_ENV", "development"),
		DataDir:         getEnv("AGENT_DATA_DIR", "./data"),
		ProjectRootPath: getEnv("AGENT_PROJECT_ROOT", "."),
		LLM: LLMConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			AgentModel:         getEnv("AGENT_MODEL", "gpt-5-codex"),
			StructuredModel:    getEnv("STRUCTURED_MODEL", "gpt-4o-mini"),
			DefaultTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			DefaultMaxTokens:   int64(getEnvInt("LLM_MAX_TOKENS", 2048)),
		},
		Critics: CriticsConfig{
			Count: clampCriticCount(getEnvInt("CRITIC_COUNT", 2)),
			Model: getEnv("CRITIC_MODEL", ""),
		},
		TaskManager: TaskManagerConfig{
			ArchiveCapacity:   getEnvInt("TASK_ARCHIVE_CAPACITY", 100),
			MaxReplansPerGoal: getEnvInt("MAX_REPLANS_PER_GOAL", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "selfevolve-agent"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		},
		Notifications: NotificationsConfig{
			RedisURL:    getEnv("NOTIFICATIONS_REDIS_URL", ""),
			RedisStream: getEnv("NOTIFICATIONS_REDIS_STREAM", "agent-notifications"),
		},
	}
}

func clampCriticCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
