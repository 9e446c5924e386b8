// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `yaml:"port"`
	APIKey         string   `yaml:"api_key"`
	CORSOrigins    []string `yaml:"cors_origins"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	GRPCHealthAddr string   `yaml:"grpc_health_addr"`

	Store           StoreConfig           `yaml:"store"`
	Session         SessionConfig         `yaml:"session"`
	LLM             LLMConfig             `yaml:"llm"`
	Callback        CallbackConfig        `yaml:"callback"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// StoreConfig selects and tunes the session store.
type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	DBPath      string        `yaml:"db_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SessionConfig controls session lifecycle and persona behaviour.
type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	IdleFinalizeAfter time.Duration `yaml:"idle_finalize_after"`
	LifecycleSchedule string        `yaml:"lifecycle_schedule"`
	MaxTurns          int           `yaml:"max_turns"`
	IntelTurns        int           `yaml:"intel_turns"`
	IntelItems        int           `yaml:"intel_items"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	ContextTurns      int           `yaml:"context_turns"`
	ImperfectionRate  float64       `yaml:"imperfection_rate"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	APIKeys     []string      `yaml:"api_keys"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Cooldown    time.Duration `yaml:"cooldown"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	CacheSize   int           `yaml:"cache_size"`
}

// CallbackConfig configures delivery of finalized summaries.
type CallbackConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	QueueSize  int           `yaml:"queue_size"`
}

// RateLimitConfig bounds how many turns a single client may submit.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:        "8000",
		CORSOrigins: []string{"*"},
		Store: StoreConfig{
			Backend: StoreSQLite,
			DBPath:  "./data/honeypot.db",
			Timeout: 2 * time.Second,
		},
		Session: SessionConfig{
			TTL:               time.Hour,
			IdleFinalizeAfter: 15 * time.Minute,
			LifecycleSchedule: "@every 1m",
			MaxTurns:          8,
			IntelTurns:        5,
			IntelItems:        3,
			LockTimeout:       20 * time.Second,
			ContextTurns:      6,
			ImperfectionRate:  0.3,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			CallTimeout: 8 * time.Second,
			Cooldown:    30 * time.Second,
			CacheTTL:    10 * time.Minute,
			CacheSize:   1000,
		},
		Callback: CallbackConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			QueueSize:  256,
		},
		RateLimit: RateLimitConfig{
			Requests: 120,
			Window:   time.Minute,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       false,
			Dir:           "./data/logs/conversations",
			GlobalEnabled: false,
			GlobalPath:    "./data/logs/conversations/all.ndjson",
			QueueSize:     1000,
		},
	}
}

// Load reads configuration from the optional YAML file named by
// HONEYPOT_CONFIG_FILE and then from environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("HONEYPOT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)

	c.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", c.Store.Backend))
	c.Store.DBPath = getEnv("DB_PATH", c.Store.DBPath)
	c.Store.PostgresDSN = getEnv("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.Timeout = getEnvDuration("STORE_TIMEOUT", c.Store.Timeout)

	c.Session.TTL = getEnvDuration("SESSION_TTL", c.Session.TTL)
	c.Session.IdleFinalizeAfter = getEnvDuration("IDLE_FINALIZE_AFTER", c.Session.IdleFinalizeAfter)
	c.Session.LifecycleSchedule = getEnv("LIFECYCLE_SCHEDULE", c.Session.LifecycleSchedule)
	c.Session.MaxTurns = getEnvInt("MAX_CONVERSATION_TURNS", c.Session.MaxTurns)
	c.Session.IntelTurns = getEnvInt("INTEL_FINALIZE_TURNS", c.Session.IntelTurns)
	c.Session.IntelItems = getEnvInt("INTEL_FINALIZE_ITEMS", c.Session.IntelItems)
	c.Session.LockTimeout = getEnvDuration("TURN_LOCK_TIMEOUT", c.Session.LockTimeout)
	c.Session.ContextTurns = getEnvInt("CONTEXT_TURNS", c.Session.ContextTurns)
	c.Session.ImperfectionRate = getEnvFloat("IMPERFECTION_RATE", c.Session.ImperfectionRate)

	c.LLM.APIKeys = getEnvList("GROQ_API_KEYS", c.LLM.APIKeys)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.CallTimeout = getEnvDuration("LLM_CALL_TIMEOUT", c.LLM.CallTimeout)
	c.LLM.Cooldown = getEnvDuration("LLM_COOLDOWN", c.LLM.Cooldown)
	c.LLM.CacheTTL = getEnvDuration("LLM_CACHE_TTL", c.LLM.CacheTTL)
	c.LLM.CacheSize = getEnvInt("LLM_CACHE_SIZE", c.LLM.CacheSize)

	c.Callback.URL = getEnv("CALLBACK_URL", c.Callback.URL)
	c.Callback.Timeout = getEnvDuration("CALLBACK_TIMEOUT", c.Callback.Timeout)
	c.Callback.MaxRetries = getEnvInt("CALLBACK_MAX_RETRIES", c.Callback.MaxRetries)
	c.Callback.QueueSize = getEnvInt("CALLBACK_QUEUE_SIZE", c.Callback.QueueSize)

	c.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN cannot be empty when STORE_BACKEND=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.MaxTurns < 0 || c.Session.IntelTurns < 0 || c.Session.IntelItems < 0 {
		return fmt.Errorf("MAX_CONVERSATION_TURNS, INTEL_FINALIZE_TURNS and INTEL_FINALIZE_ITEMS must be >= 0")
	}
	if c.Session.LockTimeout <= 0 {
		return fmt.Errorf("TURN_LOCK_TIMEOUT must be > 0")
	}
	if c.Session.LifecycleSchedule == "" {
		return fmt.Errorf("LIFECYCLE_SCHEDULE cannot be empty")
	}
	if c.Session.ImperfectionRate < 0 || c.Session.ImperfectionRate > 1 {
		return fmt.Errorf("IMPERFECTION_RATE must be within [0,1]")
	}
	if c.LLM.CallTimeout <= 0 {
		return fmt.Errorf("LLM_CALL_TIMEOUT must be > 0")
	}
	if c.Callback.Timeout <= 0 {
		return fmt.Errorf("CALLBACK_TIMEOUT must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("3600").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
