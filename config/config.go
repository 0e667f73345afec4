package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the planner service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	ServiceName  string   `mapstructure:"service_name"`
	Version      string   `mapstructure:"version"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Supported reasoning providers.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderAnthropic   = "anthropic"
)

// AIConfig selects the LLM provider backing chat and the reasoning capability.
type AIConfig struct {
	Provider    string        `mapstructure:"provider"`
	ModelID     string        `mapstructure:"model_id"`
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIVersion  string        `mapstructure:"api_version"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Configured reports whether enough settings exist to build a model client.
func (a AIConfig) Configured() bool {
	return strings.TrimSpace(a.APIKey) != ""
}

// Normalize applies defaults for unset AI values.
func (a AIConfig) Normalize() AIConfig {
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	if a.Provider == "" {
		a.Provider = ProviderOpenAI
	}
	if strings.TrimSpace(a.ModelID) == "" {
		a.ModelID = "gpt-4o-mini"
	}
	if a.MaxTokens <= 0 {
		a.MaxTokens = 2000
	}
	if a.TopP <= 0 {
		a.TopP = 0.9
	}
	if a.Timeout <= 0 {
		a.Timeout = 60 * time.Second
	}
	if a.Provider == ProviderAzureOpenAI && strings.TrimSpace(a.APIVersion) == "" {
		a.APIVersion = "2024-02-01"
	}
	return a
}

func (a AIConfig) Validate() error {
	switch a.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderAzureOpenAI:
		if a.Configured() && strings.TrimSpace(a.Endpoint) == "" {
			return fmt.Errorf("ai.endpoint required for azure_openai")
		}
	default:
		return fmt.Errorf("ai.provider %q not supported", a.Provider)
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be within [0,2]")
	}
	if a.TopP > 1 {
		return fmt.Errorf("ai.top_p must be <= 1")
	}
	return nil
}

// PlannerConfig bounds planner execution.
type PlannerConfig struct {
	DefaultType       string        `mapstructure:"default_type"`
	MaxSteps          int           `mapstructure:"max_steps"`
	MaxIterations     int           `mapstructure:"max_iterations"`
	MaxStepsLimit     int           `mapstructure:"max_steps_limit"`
	ReasoningTimeout  time.Duration `mapstructure:"reasoning_timeout"`
	StepTimeout       time.Duration `mapstructure:"step_timeout"`
	StopOnError       bool          `mapstructure:"stop_on_error"`
	HistoryWindow     int           `mapstructure:"history_window"`
	ValidatePlanJSON  bool          `mapstructure:"validate_plan_json"`
	ChatMaxToolRounds int           `mapstructure:"chat_max_tool_rounds"`
}

// Normalize applies defaults for unset planner values.
func (p PlannerConfig) Normalize() PlannerConfig {
	p.DefaultType = strings.ToLower(strings.TrimSpace(p.DefaultType))
	if p.DefaultType == "" {
		p.DefaultType = "stepwise"
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = 10
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 5
	}
	if p.MaxStepsLimit <= 0 {
		p.MaxStepsLimit = 50
	}
	p.MaxSteps = min(p.MaxSteps, p.MaxStepsLimit)
	p.MaxIterations = min(p.MaxIterations, p.MaxStepsLimit)
	if p.ReasoningTimeout <= 0 {
		p.ReasoningTimeout = 60 * time.Second
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = 30 * time.Second
	}
	if p.HistoryWindow <= 0 {
		p.HistoryWindow = 3
	}
	if p.ChatMaxToolRounds <= 0 {
		p.ChatMaxToolRounds = 5
	}
	return p
}

func (p PlannerConfig) Validate() error {
	if p.DefaultType != "sequential" && p.DefaultType != "stepwise" {
		return fmt.Errorf("planner.default_type must be sequential or stepwise")
	}
	return nil
}

// PluginsConfig toggles optional built-in plugins.
type PluginsConfig struct {
	Weather WeatherPluginConfig `mapstructure:"weather"`
	Web     WebPluginConfig     `mapstructure:"web"`
}

// WeatherPluginConfig controls the mock weather generator.
type WeatherPluginConfig struct {
	Seed int64 `mapstructure:"seed"`
}

// WebPluginConfig controls the article reader plugin.
type WebPluginConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	RenderJS  bool            `mapstructure:"render_js"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	MaxChars  int             `mapstructure:"max_chars"`
	UserAgent string          `mapstructure:"user_agent"`
	Policy    WebPolicyConfig `mapstructure:"policy"`
}

// Normalize applies defaults for the web plugin.
func (w WebPluginConfig) Normalize() WebPluginConfig {
	if w.Timeout <= 0 {
		w.Timeout = 20 * time.Second
	}
	if w.MaxChars <= 0 {
		w.MaxChars = 4000
	}
	if strings.TrimSpace(w.UserAgent) == "" {
		w.UserAgent = "kernelplanner/1.0"
	}
	w.Policy = w.Policy.Normalize()
	return w
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendPostgres:
		return s.Postgres.Validate()
	case BackendSQLite:
		if strings.TrimSpace(s.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path required")
		}
	default:
		return fmt.Errorf("storage.backend %q not supported", s.Backend)
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string, preferring an explicit url.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// SQLiteConfig points at a local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Enabled reports whether a redis host is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr joins host and port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// MemoryConfig controls semantic and volatile memory behaviour.
type MemoryConfig struct {
	Semantic  SemanticMemoryConfig `mapstructure:"semantic"`
	Volatile  VolatileMemoryConfig `mapstructure:"volatile"`
	Retention RetentionConfig      `mapstructure:"retention"`
}

// SemanticMemoryConfig selects where semantic entries live and whether they are searchable.
type SemanticMemoryConfig struct {
	Backend       string `mapstructure:"backend"` // store or redis
	SearchEnabled bool   `mapstructure:"search_enabled"`
	SearchLimit   int    `mapstructure:"search_limit"`
}

// VolatileMemoryConfig controls scratch memory.
type VolatileMemoryConfig struct {
	Backend    string        `mapstructure:"backend"` // memory or redis
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RetentionConfig schedules pruning of stale conversations.
type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

func (m MemoryConfig) Validate(storage StorageConfig) error {
	switch m.Semantic.Backend {
	case "store":
	case BackendRedis:
		if err := storage.Redis.Validate(); err != nil {
			return fmt.Errorf("memory.semantic.backend=redis: %w", err)
		}
	default:
		return fmt.Errorf("memory.semantic.backend %q not supported", m.Semantic.Backend)
	}
	switch m.Volatile.Backend {
	case BackendMemory:
	case BackendRedis:
		if err := storage.Redis.Validate(); err != nil {
			return fmt.Errorf("memory.volatile.backend=redis: %w", err)
		}
	default:
		return fmt.Errorf("memory.volatile.backend %q not supported", m.Volatile.Backend)
	}
	if m.Retention.Enabled {
		if strings.TrimSpace(m.Retention.Cron) == "" {
			return fmt.Errorf("memory.retention.cron required when retention is enabled")
		}
		if m.Retention.MaxAge <= 0 {
			return fmt.Errorf("memory.retention.max_age must be > 0 when retention is enabled")
		}
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && !strings.HasPrefix(t.MetricsPath, "/") {
		return fmt.Errorf("telemetry.metrics_path must start with /")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.service_name", "kernelplanner")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("ai.provider", ProviderOpenAI)
	v.SetDefault("ai.model_id", "gpt-4o-mini")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.top_p", 0.9)
	v.SetDefault("planner.default_type", "stepwise")
	v.SetDefault("planner.max_steps", 10)
	v.SetDefault("planner.max_iterations", 5)
	v.SetDefault("planner.max_steps_limit", 50)
	v.SetDefault("planner.reasoning_timeout", 60*time.Second)
	v.SetDefault("planner.step_timeout", 30*time.Second)
	v.SetDefault("planner.history_window", 3)
	v.SetDefault("planner.validate_plan_json", true)
	v.SetDefault("planner.chat_max_tool_rounds", 5)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite.path", "kernelplanner.db")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.key_prefix", "kp:")
	v.SetDefault("memory.semantic.backend", "store")
	v.SetDefault("memory.semantic.search_enabled", true)
	v.SetDefault("memory.semantic.search_limit", 10)
	v.SetDefault("memory.volatile.backend", BackendMemory)
	v.SetDefault("memory.volatile.default_ttl", time.Hour)
	v.SetDefault("memory.retention.cron", "0 3 * * *")
	v.SetDefault("memory.retention.max_age", 30*24*time.Hour)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_path", "/metrics")
}

// legacyAIEnv maps the flat AI_* variables onto config keys.
var legacyAIEnv = map[string]string{
	"ai.provider":    "AI_PROVIDER",
	"ai.model_id":    "AI_MODEL_ID",
	"ai.api_key":     "AI_API_KEY",
	"ai.endpoint":    "AI_ENDPOINT",
	"ai.temperature": "AI_TEMPERATURE",
	"ai.max_tokens":  "AI_MAX_TOKENS",
	"ai.top_p":       "AI_TOP_P",
}

// Load reads configuration from path (or the default search paths) and the environment.
// A missing config file is not an error; defaults and env vars still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("KERNELPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyAIEnv {
		if err := v.BindEnv(key, "KERNELPLANNER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AI = cfg.AI.Normalize()
	cfg.Planner = cfg.Planner.Normalize()
	cfg.Plugins.Web = cfg.Plugins.Web.Normalize()
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	if err := c.AI.Validate(); err != nil {
		return err
	}
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	if err := c.Plugins.Web.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(c.Storage); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}

// LoadConfig loads config and panics on failure.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
