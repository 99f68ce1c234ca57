package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Storage   StorageConfig
	STT       STTConfig
	Workflow  WorkflowConfig
	Trigger   TriggerConfig
	Notify    NotifyConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	FallbackModel    string
	MaxRetries       int
	MaxTokens        int
	StagePrompts     bool
}

type StorageConfig struct {
	Backend     string // "supabase" or "memory"
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type STTConfig struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	LanguageCode  string
}

type WorkflowConfig struct {
	Driver           string // "asynq" or "local"
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
	CallTimeout      time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	LeaseTTL         time.Duration
	Concurrency      int
	OutputBucket     string
}

type TriggerConfig struct {
	Prefix   string
	Token    string
	DedupTTL time.Duration
}

type NotifyConfig struct {
	RedisChannel  string
	WebhookURL    string
	WebhookSecret string
}

type TelemetryConfig struct {
	ServiceName string
	MetricsAddr string
}

// Load reads configuration from the environment. When CONFIG_FILE points at a
// YAML file of KEY: value pairs, those values act as defaults that the
// environment overrides.
func Load() (*Config, error) {
	l := &loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = file
	}
	return l.load()
}

type loader struct {
	file map[string]string
	errs []string
}

func (l *loader) load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           l.str("SERVER_HOST", "0.0.0.0"),
			Port:           l.int("SERVER_PORT", 8080),
			AllowedOrigins: splitList(l.str("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			URL:            l.str("DATABASE_URL", ""),
			MaxConns:       l.int("DB_MAX_CONNS", 20),
			MinConns:       l.int("DB_MIN_CONNS", 2),
			MigrationsPath: l.str("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     l.str("REDIS_ADDR", "localhost:6379"),
			Password: l.str("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: l.str("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        l.str("OPENAI_API_KEY", ""),
			AnthropicKey:     l.str("ANTHROPIC_API_KEY", ""),
			DefaultProvider:  l.str("LLM_DEFAULT_PROVIDER", "anthropic"),
			DefaultModel:     l.str("LLM_DEFAULT_MODEL", "claude-3-5-sonnet-20240620"),
			FallbackProvider: l.str("LLM_FALLBACK_PROVIDER", ""),
			FallbackModel:    l.str("LLM_FALLBACK_MODEL", "gpt-4o"),
			MaxRetries:       l.int("LLM_MAX_RETRIES", 2),
			MaxTokens:        l.int("LLM_MAX_TOKENS", 4000),
			StagePrompts:     l.bool("LLM_STAGE_PROMPTS", false),
		},
		Storage: StorageConfig{
			Backend:     l.str("STORAGE_BACKEND", "supabase"),
			SupabaseURL: l.str("SUPABASE_URL", ""),
			SupabaseKey: l.str("SUPABASE_SERVICE_KEY", ""),
			Bucket:      l.str("STORAGE_BUCKET", "speech-mentor"),
		},
		STT: STTConfig{
			OpenAIKey:     l.str("OPENAI_API_KEY", ""),
			OpenAIBaseURL: l.str("STT_OPENAI_BASE_URL", ""),
			OpenAIModel:   l.str("STT_OPENAI_MODEL", "whisper-1"),
			LanguageCode:  l.str("TRANSCRIPTION_LANGUAGE", "en-US"),
		},
		Workflow: WorkflowConfig{
			Driver:           l.str("WORKFLOW_DRIVER", "asynq"),
			PollInterval:     l.duration("WORKFLOW_POLL_INTERVAL", 10*time.Second),
			ExecutionTimeout: l.duration("WORKFLOW_EXECUTION_TIMEOUT", 2*time.Hour),
			CallTimeout:      l.duration("WORKFLOW_CALL_TIMEOUT", 2*time.Minute),
			RetryAttempts:    l.int("WORKFLOW_RETRY_ATTEMPTS", 4),
			RetryBaseDelay:   l.duration("WORKFLOW_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:    l.duration("WORKFLOW_RETRY_MAX_DELAY", 30*time.Second),
			LeaseTTL:         l.duration("WORKFLOW_LEASE_TTL", time.Minute),
			Concurrency:      l.int("WORKFLOW_CONCURRENCY", 10),
			OutputBucket:     l.str("WORKFLOW_OUTPUT_BUCKET", ""),
		},
		Trigger: TriggerConfig{
			Prefix:   l.str("TRIGGER_PREFIX", "raw-audio-files/"),
			Token:    l.str("TRIGGER_TOKEN", ""),
			DedupTTL: l.duration("TRIGGER_DEDUP_TTL", 24*time.Hour),
		},
		Notify: NotifyConfig{
			RedisChannel:  l.str("NOTIFY_REDIS_CHANNEL", "speechmentor:notifications"),
			WebhookURL:    l.str("NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret: l.str("NOTIFY_WEBHOOK_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName: l.str("TELEMETRY_SERVICE_NAME", "speechmentor"),
			MetricsAddr: l.str("METRICS_ADDR", ":9090"),
		},
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(l.errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Storage.Backend == "supabase" && (c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "") {
		missing = append(missing, "SUPABASE_URL/SUPABASE_SERVICE_KEY")
	}
	if c.LLM.AnthropicKey == "" && c.LLM.OpenAIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Workflow.Driver != "asynq" && c.Workflow.Driver != "local" {
		return fmt.Errorf("WORKFLOW_DRIVER must be asynq or local, got %q", c.Workflow.Driver)
	}
	return nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[k] = strings.Join(parts, ",")
		default:
			values[k] = fmt.Sprint(vv)
		}
	}
	return values, nil
}

func (l *loader) str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := l.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (l *loader) int(key string, fallback int) int {
	v := l.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return n
}

func (l *loader) bool(key string, fallback bool) bool {
	v := l.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v := l.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
