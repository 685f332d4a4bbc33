package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qiuyan86/antigravity-gateway/internal/artifact"
)

const defaultSystemInstruction = "You are a helpful assistant."

// Config is the process configuration. Endpoint and timing settings come
// from flags with environment fallbacks; credentials, users, and object
// storage live in the YAML settings file so they can be rotated without a
// restart.
type Config struct {
	ListenAddr string

	GenerateURL string
	ModelsURL   string
	Host        string
	UserAgent   string

	// AdminKey authorizes requests served from the shared credential pool.
	AdminKey string

	// SettingsFile is the YAML file holding credentials, users, and R2
	// settings. The credential pool watches it for changes.
	SettingsFile string

	RequestTimeout time.Duration
	RetryCooldown  time.Duration
	WatchSettings  bool

	SystemInstruction string
	R2                artifact.R2Config
}

// fileSettings are the sections of the settings file owned by this package.
// The credential pool and user store parse their own sections from the same
// file.
type fileSettings struct {
	SystemInstruction string            `yaml:"system_instruction,omitempty"`
	R2                artifact.R2Config `yaml:"r2,omitempty"`
}

// Load parses flags and the settings file.
func Load() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Gateway listen address")
	flag.StringVar(&cfg.GenerateURL, "generate-url",
		getEnv("GENERATE_URL", "https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse"),
		"Backend streaming generate endpoint")
	flag.StringVar(&cfg.ModelsURL, "models-url",
		getEnv("MODELS_URL", "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"),
		"Backend models endpoint")
	flag.StringVar(&cfg.Host, "backend-host", getEnv("BACKEND_HOST", "cloudcode-pa.googleapis.com"), "Host header for backend requests")
	flag.StringVar(&cfg.UserAgent, "user-agent", getEnv("BACKEND_USER_AGENT", "antigravity/1.0.0 (linux)"), "User-Agent header for backend requests")
	flag.StringVar(&cfg.AdminKey, "admin-key", getEnv("ADMIN_KEY", ""), "API key granting access to the shared credential pool")
	flag.StringVar(&cfg.SettingsFile, "settings-file", getEnv("SETTINGS_FILE", "gateway.yaml"), "YAML settings file (credentials, users, r2)")

	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 120*time.Second), "Non-streaming backend round-trip timeout")
	flag.DurationVar(&cfg.RetryCooldown, "retry-cooldown", getEnvDuration("RETRY_COOLDOWN", 10*time.Second), "Fixed wait between credential-rotation retries")
	flag.BoolVar(&cfg.WatchSettings, "watch-settings", getEnvBool("WATCH_SETTINGS", true), "Reload the credential pool when the settings file changes")

	flag.Parse()

	if cfg.AdminKey == "" {
		return nil, fmt.Errorf("admin key is required (set ADMIN_KEY or -admin-key)")
	}

	raw, err := os.ReadFile(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var fs fileSettings
	if err := yaml.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	cfg.R2 = fs.R2
	cfg.SystemInstruction = fs.SystemInstruction
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = defaultSystemInstruction
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
