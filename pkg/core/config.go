package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/llm"
)

// Config contains the complete configuration for an impression client.
//
// It includes settings for:
//   - LLM provider (for scoring, impression and sentiment classification)
//   - Storage (for profiles, processed messages and counters)
//   - Weight filter, impression and affection behaviour
//   - Logging and metrics
//
// Example:
//
//	config := core.DefaultConfig()
//	config.LLM.APIKey = "sk-..."
//	config.Storage.SQLite.Path = "./impression.db"
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Storage contains database configuration.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// WeightFilter controls which messages may update the profile.
	WeightFilter WeightFilterConfig `json:"weight_filter" yaml:"weight_filter"`

	// Impression controls profile merging.
	Impression ImpressionConfig `json:"impression" yaml:"impression"`

	// Affection controls sentiment increments and level bands.
	Affection AffectionConfig `json:"affection" yaml:"affection"`

	// Prompts overrides the built-in prompt templates (empty keeps the default).
	Prompts PromptsConfig `json:"prompts" yaml:"prompts"`

	Features FeaturesConfig `json:"features" yaml:"features"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai (any OpenAI-compatible API through BaseURL),
// custom (a full chat completion endpoint URL).
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=openai custom"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`

	// BaseURL is used by the openai provider (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Endpoint is the full URL used by the custom provider.
	Endpoint string `json:"api_endpoint,omitempty" yaml:"api_endpoint,omitempty" validate:"required_if=Provider custom"`

	// TimeoutSeconds bounds every call (default: 30).
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`

	// SystemPrompt is sent ahead of every classification prompt (optional).
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// TopP and Stop tune sampling; zero values keep the provider defaults.
	TopP float64  `json:"top_p,omitempty" yaml:"top_p,omitempty" validate:"gte=0,lte=1"`
	Stop []string `json:"stop,omitempty" yaml:"stop,omitempty"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// Timeout returns the per-call timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BreakerConfig configures the circuit breaker around the provider.
type BreakerConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	MinRequests        uint32  `json:"min_requests" yaml:"min_requests"`
	FailureRatio       float64 `json:"failure_ratio" yaml:"failure_ratio" validate:"gte=0,lte=1"`
	OpenTimeoutSeconds int     `json:"open_timeout_seconds" yaml:"open_timeout_seconds" validate:"gte=0"`
}

// StorageConfig contains configuration for the database.
//
// Supported providers: sqlite, postgres, oceanbase
type StorageConfig struct {
	Provider  string       `json:"provider" yaml:"provider" validate:"required,oneof=sqlite postgres oceanbase"`
	SQLite    SQLiteConfig `json:"sqlite" yaml:"sqlite"`
	Postgres  ServerConfig `json:"postgres" yaml:"postgres"`
	OceanBase ServerConfig `json:"oceanbase" yaml:"oceanbase"`
}

// SQLiteConfig contains the SQLite database file settings.
type SQLiteConfig struct {
	Path          string `json:"path" yaml:"path"`
	BusyTimeoutMS int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// ServerConfig contains the connection settings of a database server.
type ServerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// WeightFilterConfig controls message admission.
type WeightFilterConfig struct {
	Mode            string  `json:"mode" yaml:"mode" validate:"oneof=disabled selective balanced"`
	HighThreshold   float64 `json:"high_threshold" yaml:"high_threshold" validate:"gte=0,lte=100"`
	MediumThreshold float64 `json:"medium_threshold" yaml:"medium_threshold" validate:"gte=0,lte=100,ltefield=HighThreshold"`

	// FallbackLengthThreshold is the rune count above which an unscored
	// message is treated as medium.
	FallbackLengthThreshold int `json:"fallback_length_threshold" yaml:"fallback_length_threshold" validate:"gte=0"`

	// HistoryCapacity bounds the per-user score history (default: 100).
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity" validate:"gte=0"`
}

// ImpressionConfig controls profile merging.
type ImpressionConfig struct {
	// ContextLimit is the number of recent admissible messages sent with the prompt.
	ContextLimit int `json:"max_context_entries" yaml:"max_context_entries" validate:"gte=0"`
}

// AffectionConfig controls the affection score.
type AffectionConfig struct {
	FriendlyIncrement float64 `json:"friendly_increment" yaml:"friendly_increment"`
	NeutralIncrement  float64 `json:"neutral_increment" yaml:"neutral_increment"`
	NegativeIncrement float64 `json:"negative_increment" yaml:"negative_increment"`

	// Bands overrides the default level bands.
	Bands []BandConfig `json:"bands,omitempty" yaml:"bands,omitempty" validate:"dive"`
}

// BandConfig is one affection level band.
type BandConfig struct {
	Min   float64 `json:"min" yaml:"min" validate:"gte=0,lte=100"`
	Max   float64 `json:"max" yaml:"max" validate:"gte=0,lte=100,gtfield=Min"`
	Label string  `json:"label" yaml:"label" validate:"required"`
}

// PromptsConfig overrides prompt templates.
type PromptsConfig struct {
	Weight     string `json:"weight,omitempty" yaml:"weight,omitempty"`
	Impression string `json:"impression,omitempty" yaml:"impression,omitempty"`
	Affection  string `json:"affection,omitempty" yaml:"affection,omitempty"`
}

// FeaturesConfig toggles pipeline behaviour.
type FeaturesConfig struct {
	// AutoUpdate runs enrichment on incoming messages. When false messages
	// are only recorded.
	AutoUpdate bool `json:"auto_update" yaml:"auto_update"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `json:"development" yaml:"development"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	filter := intelligence.DefaultFilterConfig()
	inc := intelligence.DefaultIncrements()
	return &Config{
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-3.5-turbo",
			TimeoutSeconds: 30,
			Breaker: BreakerConfig{
				Enabled:            true,
				MinRequests:        5,
				FailureRatio:       0.8,
				OpenTimeoutSeconds: 60,
			},
		},
		Storage: StorageConfig{
			Provider: "sqlite",
			SQLite:   SQLiteConfig{Path: "./impression.db", BusyTimeoutMS: 5000},
			Postgres: ServerConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "impression",
				SSLMode:  "disable",
			},
			OceanBase: ServerConfig{
				Host:     "127.0.0.1",
				Port:     2881,
				User:     "root@sys",
				Database: "impression",
			},
		},
		WeightFilter: WeightFilterConfig{
			Mode:                    string(filter.Mode),
			HighThreshold:           filter.HighThreshold,
			MediumThreshold:         filter.MediumThreshold,
			FallbackLengthThreshold: filter.FallbackLengthThreshold,
			HistoryCapacity:         intelligence.DefaultHistoryCapacity,
		},
		Impression: ImpressionConfig{ContextLimit: filter.ContextLimit},
		Affection: AffectionConfig{
			FriendlyIncrement: inc.Friendly,
			NeutralIncrement:  inc.Neutral,
			NegativeIncrement: inc.Negative,
		},
		Features: FeaturesConfig{AutoUpdate: true},
		Logging:  LoggingConfig{Level: "info"},
		Metrics:  MetricsConfig{Addr: ":9090"},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overlays environment variables on DefaultConfig
//
// Supported environment variables:
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, LLM_ENDPOINT, LLM_TIMEOUT
//   - LLM_SYSTEM_PROMPT, LLM_TOP_P
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE
//   - WEIGHT_FILTER_MODE, WEIGHT_HIGH_THRESHOLD, WEIGHT_MEDIUM_THRESHOLD, WEIGHT_FALLBACK_LENGTH
//   - IMPRESSION_CONTEXT_LIMIT
//   - AFFECTION_FRIENDLY_INCREMENT, AFFECTION_NEUTRAL_INCREMENT, AFFECTION_NEGATIVE_INCREMENT
//   - AUTO_UPDATE, LOG_LEVEL, LOG_DEVELOPMENT, METRICS_ENABLED, METRICS_ADDR
//
// Returns a Config instance, or an error if a numeric or boolean value does not parse.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
	return configFromEnv()
}

func configFromEnv() (*Config, error) {
	config := DefaultConfig()
	env := envReader{}

	config.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", config.LLM.Provider)
	config.LLM.APIKey = os.Getenv("LLM_API_KEY")
	config.LLM.Model = getEnvOrDefault("LLM_MODEL", config.LLM.Model)
	config.LLM.BaseURL = os.Getenv("LLM_BASE_URL")
	config.LLM.Endpoint = os.Getenv("LLM_ENDPOINT")
	config.LLM.TimeoutSeconds = env.getInt("LLM_TIMEOUT", config.LLM.TimeoutSeconds)
	config.LLM.SystemPrompt = os.Getenv("LLM_SYSTEM_PROMPT")
	config.LLM.TopP = env.getFloat("LLM_TOP_P", config.LLM.TopP)

	config.Storage.Provider = getEnvOrDefault("DATABASE_PROVIDER", config.Storage.Provider)
	config.Storage.SQLite.Path = getEnvOrDefault("SQLITE_PATH", config.Storage.SQLite.Path)
	env.server("POSTGRES", &config.Storage.Postgres)
	config.Storage.Postgres.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", config.Storage.Postgres.SSLMode)
	env.server("OCEANBASE", &config.Storage.OceanBase)

	config.WeightFilter.Mode = getEnvOrDefault("WEIGHT_FILTER_MODE", config.WeightFilter.Mode)
	config.WeightFilter.HighThreshold = env.getFloat("WEIGHT_HIGH_THRESHOLD", config.WeightFilter.HighThreshold)
	config.WeightFilter.MediumThreshold = env.getFloat("WEIGHT_MEDIUM_THRESHOLD", config.WeightFilter.MediumThreshold)
	config.WeightFilter.FallbackLengthThreshold = env.getInt("WEIGHT_FALLBACK_LENGTH", config.WeightFilter.FallbackLengthThreshold)
	config.Impression.ContextLimit = env.getInt("IMPRESSION_CONTEXT_LIMIT", config.Impression.ContextLimit)

	config.Affection.FriendlyIncrement = env.getFloat("AFFECTION_FRIENDLY_INCREMENT", config.Affection.FriendlyIncrement)
	config.Affection.NeutralIncrement = env.getFloat("AFFECTION_NEUTRAL_INCREMENT", config.Affection.NeutralIncrement)
	config.Affection.NegativeIncrement = env.getFloat("AFFECTION_NEGATIVE_INCREMENT", config.Affection.NegativeIncrement)

	config.Features.AutoUpdate = env.getBool("AUTO_UPDATE", config.Features.AutoUpdate)
	config.Logging.Level = getEnvOrDefault("LOG_LEVEL", config.Logging.Level)
	config.Logging.Development = env.getBool("LOG_DEVELOPMENT", config.Logging.Development)
	config.Metrics.Enabled = env.getBool("METRICS_ENABLED", config.Metrics.Enabled)
	config.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", config.Metrics.Addr)

	if err := env.err(); err != nil {
		return nil, NewImpressionError("LoadConfigFromEnv", err)
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return configFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Fields missing from the file keep their DefaultConfig value.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewImpressionError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewImpressionError("LoadConfigFromJSON", err)
	}
	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
//
// Fields missing from the file keep their DefaultConfig value.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewImpressionError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewImpressionError("LoadConfigFromYAML", err)
	}
	return config, nil
}

// LoadConfigFromFile picks the JSON or YAML loader by file extension.
func LoadConfigFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadConfigFromJSON(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	default:
		return nil, NewImpressionError("LoadConfigFromFile",
			fmt.Errorf("%w: unsupported config file %q", ErrInvalidConfig, path))
	}
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// Report the json name of a field rather than its Go name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration.
//
// Checks provider names, threshold ranges and ordering, and affection band
// coverage. An LLM API key is not required here: an unconfigured model is
// reported at call time and every step degrades to its fallback.
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var details []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			details = append(details, err.Error())
		}
		return NewImpressionError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(details, "; ")))
	}
	if len(c.Affection.Bands) > 0 {
		if err := c.bands().Validate(); err != nil {
			return NewImpressionError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
	}
	return nil
}

func (c *Config) filterConfig() intelligence.FilterConfig {
	return intelligence.FilterConfig{
		Mode:                    intelligence.FilterMode(c.WeightFilter.Mode),
		HighThreshold:           c.WeightFilter.HighThreshold,
		MediumThreshold:         c.WeightFilter.MediumThreshold,
		FallbackLengthThreshold: c.WeightFilter.FallbackLengthThreshold,
		ContextLimit:            c.Impression.ContextLimit,
		Prompt:                  c.Prompts.Weight,
	}
}

func (c *Config) affectionConfig() intelligence.AffectionConfig {
	return intelligence.AffectionConfig{
		Increments: intelligence.Increments{
			Friendly: c.Affection.FriendlyIncrement,
			Neutral:  c.Affection.NeutralIncrement,
			Negative: c.Affection.NegativeIncrement,
		},
		Bands:  c.bands(),
		Prompt: c.Prompts.Affection,
	}
}

func (c *Config) bands() intelligence.Bands {
	if len(c.Affection.Bands) == 0 {
		return nil
	}
	bands := make(intelligence.Bands, len(c.Affection.Bands))
	for i, b := range c.Affection.Bands {
		bands[i] = intelligence.Band{Min: b.Min, Max: b.Max, Label: b.Label}
	}
	return bands
}

func (c *Config) classifierConfig() llm.ClassifierConfig {
	return llm.ClassifierConfig{
		APIKey:       c.LLM.APIKey,
		Model:        c.LLM.Model,
		Timeout:      c.LLM.Timeout(),
		SystemPrompt: c.LLM.SystemPrompt,
		TopP:         c.LLM.TopP,
		Stop:         c.LLM.Stop,
		Breaker: llm.BreakerConfig{
			Enabled:      c.LLM.Breaker.Enabled,
			MinRequests:  c.LLM.Breaker.MinRequests,
			FailureRatio: c.LLM.Breaker.FailureRatio,
			OpenTimeout:  time.Duration(c.LLM.Breaker.OpenTimeoutSeconds) * time.Second,
		},
	}
}

// envReader parses typed environment values and remembers the first failure.
type envReader struct {
	errs []error
}

func (r *envReader) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v))
		return def
	}
	return n
}

func (r *envReader) getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v))
		return def
	}
	return f
}

func (r *envReader) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v))
		return def
	}
	return b
}

func (r *envReader) server(prefix string, cfg *ServerConfig) {
	cfg.Host = getEnvOrDefault(prefix+"_HOST", cfg.Host)
	cfg.Port = r.getInt(prefix+"_PORT", cfg.Port)
	cfg.User = getEnvOrDefault(prefix+"_USER", cfg.User)
	cfg.Password = getEnvOrDefault(prefix+"_PASSWORD", cfg.Password)
	cfg.Database = getEnvOrDefault(prefix+"_DATABASE", cfg.Database)
}

func (r *envReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
