package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultSuggestTimeout = 60 * time.Second

type Config struct {
	ListenAddr      string `yaml:"listen_addr"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
	UploadDir       string `yaml:"upload_dir"`
	DBPath          string `yaml:"db_path"`
	ReportOutputDir string `yaml:"report_output_dir"`
	RetentionHours  int    `yaml:"retention_hours"`

	LLMProvider           string `yaml:"llm_provider"`
	LLMModel              string `yaml:"llm_model"`
	LLMMaxTokens          int    `yaml:"llm_max_tokens"`
	SuggestTimeoutSeconds int    `yaml:"suggest_timeout_seconds"`
	AnthropicAPIKey       string `yaml:"anthropic_api_key"`
	OpenAIAPIKey          string `yaml:"openai_api_key"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
}

// LoadConfig reads config.yaml (or CONFIG_PATH) when present, applies env
// overrides on top, then defaults and validation. Missing LLM keys are not
// an error: they only disable the suggestion gateway.
func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverrideInt(&cfg.MaxUploadMB, "MAX_UPLOAD_MB")
	envOverride(&cfg.UploadDir, "UPLOAD_DIR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverrideInt(&cfg.RetentionHours, "RETENTION_HOURS")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideInt(&cfg.SuggestTimeoutSeconds, "SUGGEST_TIMEOUT_SECONDS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8000"
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 500
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./turnoutd.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.RetentionHours == 0 {
		cfg.RetentionHours = 24
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 1200
	}
	if cfg.SuggestTimeoutSeconds == 0 {
		cfg.SuggestTimeoutSeconds = int(defaultSuggestTimeout / time.Second)
	}

	// Validate
	if cfg.MaxUploadMB < 1 {
		log.Fatalf("invalid max_upload_mb '%d': must be >= 1", cfg.MaxUploadMB)
	}
	if cfg.RetentionHours < 1 {
		log.Fatalf("invalid retention_hours '%d': must be >= 1", cfg.RetentionHours)
	}
	if cfg.SuggestTimeoutSeconds < 1 {
		log.Fatalf("invalid suggest_timeout_seconds '%d': must be >= 1", cfg.SuggestTimeoutSeconds)
	}
	if cfg.LLMMaxTokens < 1 {
		log.Fatalf("invalid llm_max_tokens '%d': must be >= 1", cfg.LLMMaxTokens)
	}
	switch cfg.LLMProvider {
	case "anthropic", "openai":
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	return cfg
}

// MaxUploadBytes is the upload size limit in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Retention is how long finished analyses are kept before the cleanup
// sweep removes them.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// SuggestTimeout bounds a single upstream LLM call.
func (c Config) SuggestTimeout() time.Duration {
	return time.Duration(c.SuggestTimeoutSeconds) * time.Second
}

// SuggestionsConfigured reports whether at least one provider credential
// is present.
func (c Config) SuggestionsConfigured() bool {
	return strings.TrimSpace(c.AnthropicAPIKey) != "" || strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// SlackConfigured reports whether completion notifications are enabled.
func (c Config) SlackConfigured() bool {
	return strings.TrimSpace(c.SlackBotToken) != "" && strings.TrimSpace(c.SlackChannelID) != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
