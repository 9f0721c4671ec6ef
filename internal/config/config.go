// Package config loads the command plane's runtime configuration from a
// YAML file, then layers environment variable overrides on top, exactly as
// the teacher's config package does.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration tree for the command plane.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Presence  PresenceConfig  `yaml:"presence"`
	Auth      AuthConfig      `yaml:"auth"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	LLM       LLMConfig       `yaml:"llm"`
	Redaction RedactionConfig `yaml:"redaction"`
	Mock      MockConfig      `yaml:"mock"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"` // dev | staging | prod
	Interface       string `yaml:"interface"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// StorageConfig points at the Postgres instance backing sessions, commits,
// mandates, replay cache, rate limits, audit events, and tenants.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is optional cross-instance backing for rate limiting and the
// active-session map. Falls back to in-memory when Enabled is false.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PresenceConfig struct {
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`
	HeartbeatTimeoutSec  int `yaml:"heartbeat_timeout_sec"`
}

// AuthConfig carries both the legacy HMAC token secret and the SSO
// validator settings (spec §6 token formats).
type AuthConfig struct {
	JWTSecret            string `yaml:"jwt_secret"`
	JWTAlgorithm         string `yaml:"jwt_algorithm"`
	JWTExpirySeconds     int    `yaml:"jwt_expiry_seconds"`
	SSOHSSecret          string `yaml:"sso_hs_secret"`
	SSOValidationMode    string `yaml:"sso_validation_mode"` // HS256 | JWKS
	JWKSURL              string `yaml:"jwks_url"`
}

type DispatchConfig struct {
	AdapterIP string `yaml:"adapter_ip"`
	Token     string `yaml:"token"`
}

type LLMConfig struct {
	APIKey string `yaml:"api_key"`
}

type RedactionConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MockConfig lets integration tests run without live STT/TTS/LLM backends,
// matching the teacher's feature-flag style fallbacks in cmd/api/main.go.
type MockConfig struct {
	STT bool `yaml:"stt"`
	TTS bool `yaml:"tts"`
	LLM bool `yaml:"llm"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton configuration, loading it from
// disk and environment on first call.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ENV", c.Server.Env)
	c.Server.Interface = getEnv("INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitCSV(origins)
	}

	c.Storage.DSN = getEnv("POSTGRES_DSN", getEnv("MONGO_URL", c.Storage.DSN))

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	if v := getEnvInt("HEARTBEAT_INTERVAL_S", 0); v > 0 {
		c.Presence.HeartbeatIntervalSec = v
	}
	if v := getEnvInt("HEARTBEAT_TIMEOUT_S", 0); v > 0 {
		c.Presence.HeartbeatTimeoutSec = v
	}

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAlgorithm = getEnv("JWT_ALGORITHM", c.Auth.JWTAlgorithm)
	if v := getEnvInt("JWT_EXPIRY_SECONDS", 0); v > 0 {
		c.Auth.JWTExpirySeconds = v
	}
	c.Auth.SSOHSSecret = getEnv("SSO_HS_SECRET", c.Auth.SSOHSSecret)
	c.Auth.SSOValidationMode = getEnv("SSO_VALIDATION_MODE", c.Auth.SSOValidationMode)
	c.Auth.JWKSURL = getEnv("JWKS_URL", c.Auth.JWKSURL)

	c.Dispatch.AdapterIP = getEnv("DISPATCH_ADAPTER_IP", c.Dispatch.AdapterIP)
	c.Dispatch.Token = getEnv("DISPATCH_TOKEN", c.Dispatch.Token)

	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)

	c.Redaction.Enabled = getEnvBool("LOG_REDACTION_ENABLED", c.Redaction.Enabled)

	c.Mock.STT = getEnvBool("MOCK_STT", c.Mock.STT)
	c.Mock.TTS = getEnvBool("MOCK_TTS", c.Mock.TTS)
	c.Mock.LLM = getEnvBool("MOCK_LLM", c.Mock.LLM)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "dev"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Presence.HeartbeatIntervalSec == 0 {
		c.Presence.HeartbeatIntervalSec = 5
	}
	if c.Presence.HeartbeatTimeoutSec == 0 {
		c.Presence.HeartbeatTimeoutSec = 15
	}
	if c.Auth.JWTAlgorithm == "" {
		c.Auth.JWTAlgorithm = "HS256"
	}
	if c.Auth.JWTExpirySeconds == 0 {
		c.Auth.JWTExpirySeconds = 3600
	}
	if c.Auth.SSOValidationMode == "" {
		c.Auth.SSOValidationMode = "HS256"
	}
	if c.Redaction.Enabled == false && os.Getenv("LOG_REDACTION_ENABLED") == "" {
		c.Redaction.Enabled = true
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// IsProduction reports whether the server is configured for the prod
// environment. spec §6: ENV ∈ {dev, staging, prod}.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "prod"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
