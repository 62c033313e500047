package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poetry-tutor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaultsFromEnvironment(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.DefaultModel)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Providers.OpenAI.BaseURL)
	assert.Equal(t, []ModelConfig{{ID: "gpt-3.5-turbo", APIStyle: "openai"}}, cfg.Providers.OpenAI.Models)
	assert.Nil(t, cfg.Providers.Claude)
}

func TestLoadFile(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "ak-env")

	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://poetry.example"]
log:
  level: debug
  format: json
llm:
  default_model: gpt-4o-mini
  timeout: 15s
providers:
  openai:
    api_key: sk-file
    models:
      - id: gpt-4o-mini
        api_style: openai
      - id: gpt-3.5-turbo
        api_style: openai
    headers:
      OpenAI-Organization: org-1
  claude:
    models:
      - id: claude-3-haiku
        api_style: claude
    aliases:
      haiku: claude-3-haiku
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://poetry.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "sk-file", cfg.Providers.OpenAI.APIKey)
	assert.Len(t, cfg.Providers.OpenAI.Models, 2)

	require.NotNil(t, cfg.Providers.Claude)
	assert.Equal(t, "ak-env", cfg.Providers.Claude.APIKey)
	assert.Equal(t, "https://api.anthropic.com", cfg.Providers.Claude.BaseURL)
	assert.Equal(t, 1024, cfg.Providers.Claude.MaxTokens)
	assert.Equal(t, "claude-3-haiku", cfg.Providers.Claude.Aliases["haiku"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("POETRY_TUTOR_SERVER_PORT", "7070")
	t.Setenv("POETRY_TUTOR_PROVIDERS_OPENAI_API_KEY", "sk-prefixed")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-prefixed", cfg.Providers.OpenAI.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	clearProviderEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("OPENAI_API_KEY=sk-dotenv\n"), 0o600))
	// godotenv does not override variables that already exist, even empty ones.
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", cfg.Providers.OpenAI.APIKey)
}

func TestLoadErrors(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load("")
	assert.ErrorContains(t, err, "provider openai: api_key must be provided")

	t.Setenv("OPENAI", "sk")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "log:\n  level: loud\n"))
	assert.ErrorContains(t, err, "log.level")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Log:    LogConfig{Level: "info", Format: "console"},
			LLM:    LLMConfig{DefaultModel: "gpt-3.5-turbo", Timeout: time.Minute},
			Providers: ProvidersConfig{OpenAI: ProviderConfig{
				APIKey:  "sk",
				BaseURL: "https://api.openai.com/v1",
				Models:  []ModelConfig{{ID: "gpt-3.5-turbo", APIStyle: "openai"}},
			}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"default model", func(c *Config) { c.LLM.DefaultModel = " " }},
		{"timeout", func(c *Config) { c.LLM.Timeout = 0 }},
		{"base url", func(c *Config) { c.Providers.OpenAI.BaseURL = "" }},
		{"no models", func(c *Config) { c.Providers.OpenAI.Models = nil }},
		{"api style", func(c *Config) { c.Providers.OpenAI.Models[0].APIStyle = "claude" }},
		{"header", func(c *Config) { c.Providers.OpenAI.Headers = Headers{"Bad Header": "x"} }},
		{"alias", func(c *Config) { c.Providers.OpenAI.Aliases = map[string]string{"fast": ""} }},
		{"claude max tokens", func(c *Config) {
			c.Providers.Claude = &ProviderConfig{
				APIKey:  "ak",
				BaseURL: "https://api.anthropic.com",
				Models:  []ModelConfig{{ID: "claude-3-haiku", APIStyle: "claude"}},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnsureModels(t *testing.T) {
	cfg := Config{Providers: ProvidersConfig{
		OpenAI: ProviderConfig{
			Models:  []ModelConfig{{ID: "gpt-4o", APIStyle: "openai"}},
			Aliases: map[string]string{"fast": "gpt-4o"},
		},
		Claude: &ProviderConfig{
			Models: []ModelConfig{{ID: "claude-3-haiku", APIStyle: "claude"}},
		},
	}}
	original := cfg.Providers.OpenAI.Models

	cfg.EnsureModels("gpt-3.5-turbo", "gpt-4o", "fast", "claude-3-haiku", "", "gpt-3.5-turbo")

	assert.Equal(t, []ModelConfig{
		{ID: "gpt-4o", APIStyle: "openai"},
		{ID: "gpt-3.5-turbo", APIStyle: "openai"},
	}, cfg.Providers.OpenAI.Models)
	assert.Len(t, original, 1)
	assert.Len(t, cfg.Providers.Claude.Models, 1)
}

func TestLoadDefaultModelOverrideKeepsCatalogModelsRoutable(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI", "sk-env")
	t.Setenv("POETRY_TUTOR_LLM_DEFAULT_MODEL", "gpt-4o")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.DefaultModel)
	assert.Equal(t, []ModelConfig{{ID: "gpt-4o", APIStyle: "openai"}}, cfg.Providers.OpenAI.Models)

	cfg.EnsureModels("gpt-3.5-turbo")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []ModelConfig{
		{ID: "gpt-4o", APIStyle: "openai"},
		{ID: "gpt-3.5-turbo", APIStyle: "openai"},
	}, cfg.Providers.OpenAI.Models)
}
