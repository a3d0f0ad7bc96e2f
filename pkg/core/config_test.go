package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impression "github.com/oceanbase/impression-go/pkg/core"
)

func TestDefaultConfig(t *testing.T) {
	config := impression.DefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "gpt-3.5-turbo", config.LLM.Model)
	assert.Equal(t, "sqlite", config.Storage.Provider)
	assert.Equal(t, "selective", config.WeightFilter.Mode)
	assert.Equal(t, 70.0, config.WeightFilter.HighThreshold)
	assert.Equal(t, 40.0, config.WeightFilter.MediumThreshold)
	assert.Equal(t, 20, config.WeightFilter.FallbackLengthThreshold)
	assert.Equal(t, 10, config.Impression.ContextLimit)
	assert.Equal(t, 2.0, config.Affection.FriendlyIncrement)
	assert.Equal(t, 0.5, config.Affection.NeutralIncrement)
	assert.Equal(t, -3.0, config.Affection.NegativeIncrement)
	assert.True(t, config.Features.AutoUpdate)
	assert.Equal(t, 30, int(config.LLM.Timeout().Seconds()))
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "LLM_PROVIDER=custom\n" +
		"LLM_API_KEY=test-key\n" +
		"LLM_MODEL=qwen-plus\n" +
		"LLM_ENDPOINT=http://localhost:8000/v1/chat/completions\n" +
		"DATABASE_PROVIDER=postgres\n" +
		"POSTGRES_HOST=db.internal\n" +
		"POSTGRES_PORT=6543\n" +
		"WEIGHT_FILTER_MODE=balanced\n" +
		"WEIGHT_MEDIUM_THRESHOLD=35\n" +
		"AFFECTION_NEGATIVE_INCREMENT=-5\n" +
		"AUTO_UPDATE=false\n" +
		"LLM_TOP_P=0.8\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	keys := []string{
		"LLM_PROVIDER", "LLM_API_KEY", "LLM_MODEL", "LLM_ENDPOINT", "DATABASE_PROVIDER",
		"POSTGRES_HOST", "POSTGRES_PORT", "WEIGHT_FILTER_MODE", "WEIGHT_MEDIUM_THRESHOLD",
		"AFFECTION_NEGATIVE_INCREMENT", "AUTO_UPDATE", "LLM_TOP_P",
	}
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
	defer func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	}()

	config, err := impression.LoadConfigFromEnvFile(envPath)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "custom", config.LLM.Provider)
	assert.Equal(t, "qwen-plus", config.LLM.Model)
	assert.Equal(t, "http://localhost:8000/v1/chat/completions", config.LLM.Endpoint)
	assert.Equal(t, "postgres", config.Storage.Provider)
	assert.Equal(t, "db.internal", config.Storage.Postgres.Host)
	assert.Equal(t, 6543, config.Storage.Postgres.Port)
	assert.Equal(t, "balanced", config.WeightFilter.Mode)
	assert.Equal(t, 35.0, config.WeightFilter.MediumThreshold)
	assert.Equal(t, 70.0, config.WeightFilter.HighThreshold)
	assert.Equal(t, -5.0, config.Affection.NegativeIncrement)
	assert.False(t, config.Features.AutoUpdate)
	assert.Equal(t, 0.8, config.LLM.TopP)
}

func TestLoadConfigFromEnvBadNumber(t *testing.T) {
	t.Setenv("WEIGHT_HIGH_THRESHOLD", "very high")

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LOG_LEVEL=debug\n"), 0o600))
	defer os.Unsetenv("LOG_LEVEL")

	_, err := impression.LoadConfigFromEnvFile(envPath)
	assert.ErrorIs(t, err, impression.ErrInvalidConfig)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
llm:
  provider: openai
  api_key: sk-test
  model: deepseek-chat
  base_url: https://api.deepseek.com
storage:
  provider: sqlite
  sqlite:
    path: /tmp/impression.db
weight_filter:
  mode: disabled
affection:
  bands:
    - {min: 0, max: 50, label: low}
    - {min: 50, max: 100, label: high}
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0o600))

	config, err := impression.LoadConfigFromFile(yamlPath)
	require.NoError(t, err)
	require.NoError(t, config.Validate())
	assert.Equal(t, "deepseek-chat", config.LLM.Model)
	assert.Equal(t, "https://api.deepseek.com", config.LLM.BaseURL)
	assert.Equal(t, "/tmp/impression.db", config.Storage.SQLite.Path)
	assert.Equal(t, "disabled", config.WeightFilter.Mode)
	assert.Equal(t, 70.0, config.WeightFilter.HighThreshold, "unset fields keep defaults")
	assert.Len(t, config.Affection.Bands, 2)

	jsonPath := filepath.Join(dir, "config.json")
	jsonContent := `{"llm": {"provider": "openai", "model": "gpt-4o"}, "features": {"auto_update": false}}`
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonContent), 0o600))

	config, err = impression.LoadConfigFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", config.LLM.Model)
	assert.False(t, config.Features.AutoUpdate)
	assert.Equal(t, "sqlite", config.Storage.Provider)

	_, err = impression.LoadConfigFromFile(filepath.Join(dir, "config.toml"))
	assert.ErrorIs(t, err, impression.ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*impression.Config)
	}{
		{name: "unknown llm provider", modify: func(c *impression.Config) { c.LLM.Provider = "anthropic" }},
		{name: "custom without endpoint", modify: func(c *impression.Config) { c.LLM.Provider = "custom" }},
		{name: "unknown storage", modify: func(c *impression.Config) { c.Storage.Provider = "mongo" }},
		{name: "unknown mode", modify: func(c *impression.Config) { c.WeightFilter.Mode = "strict" }},
		{name: "threshold above 100", modify: func(c *impression.Config) { c.WeightFilter.HighThreshold = 120 }},
		{name: "medium above high", modify: func(c *impression.Config) { c.WeightFilter.MediumThreshold = 80 }},
		{name: "bad log level", modify: func(c *impression.Config) { c.Logging.Level = "verbose" }},
		{
			name: "bands with a gap",
			modify: func(c *impression.Config) {
				c.Affection.Bands = []impression.BandConfig{
					{Min: 0, Max: 40, Label: "low"},
					{Min: 60, Max: 100, Label: "high"},
				}
			},
		},
		{
			name: "band without label",
			modify: func(c *impression.Config) {
				c.Affection.Bands = []impression.BandConfig{{Min: 0, Max: 100}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := impression.DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			assert.ErrorIs(t, err, impression.ErrInvalidConfig)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := impression.NewLogger(impression.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = impression.NewLogger(impression.LoggingConfig{Level: "loud"})
	assert.ErrorIs(t, err, impression.ErrInvalidConfig)
}
