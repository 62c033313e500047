package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	apiStyleOpenAI = "openai"
	apiStyleClaude = "claude"

	envPrefix = "POETRY_TUTOR"

	defaultPort          = 8080
	defaultModel         = "gpt-3.5-turbo"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultClaudeBaseURL = "https://api.anthropic.com"
	defaultClaudeTokens  = 1024
	defaultTimeout       = 60 * time.Second
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig selects the zap logger level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig holds settings shared by every generative operation.
type LLMConfig struct {
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	OpenAI ProviderConfig  `mapstructure:"openai"`
	Claude *ProviderConfig `mapstructure:"claude"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey    string            `mapstructure:"api_key"`
	BaseURL   string            `mapstructure:"base_url"`
	MaxTokens int               `mapstructure:"max_tokens"`
	Models    []ModelConfig     `mapstructure:"models"`
	Headers   Headers           `mapstructure:"headers"`
	Aliases   map[string]string `mapstructure:"aliases"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig describes a model exposed by a provider.
type ModelConfig struct {
	ID       string `mapstructure:"id"`
	APIStyle string `mapstructure:"api_style"`
}

// Load resolves configuration from an optional file, a .env file and the
// environment, then validates the result. An empty path searches the
// working directory and $HOME/.config/poetry-tutor for poetry-tutor.yaml.
func Load(path string) (Config, error) {
	loadEnvFile()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
	} else {
		v.SetConfigName("poetry-tutor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/poetry-tutor")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFile() {
	for _, candidate := range []string{".env", "../.env"} {
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
			return
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("llm.default_model", defaultModel)
	v.SetDefault("llm.timeout", defaultTimeout)
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", defaultOpenAIBaseURL)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		cfg.Providers.OpenAI.APIKey = firstEnv("OPENAI", "OPENAI_API_KEY")
	}
	if len(cfg.Providers.OpenAI.Models) == 0 && cfg.LLM.DefaultModel != "" {
		cfg.Providers.OpenAI.Models = []ModelConfig{{ID: cfg.LLM.DefaultModel, APIStyle: apiStyleOpenAI}}
	}

	if claude := cfg.Providers.Claude; claude != nil {
		if strings.TrimSpace(claude.APIKey) == "" {
			claude.APIKey = firstEnv("ANTHROPIC_API_KEY")
		}
		if strings.TrimSpace(claude.BaseURL) == "" {
			claude.BaseURL = defaultClaudeBaseURL
		}
		if claude.MaxTokens == 0 {
			claude.MaxTokens = defaultClaudeTokens
		}
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

// EnsureModels adds every id that no configured provider serves, as a model
// or an alias, to the OpenAI model list.
func (c *Config) EnsureModels(ids ...string) {
	served := make(map[string]struct{})
	collect := func(p ProviderConfig) {
		for _, m := range p.Models {
			served[m.ID] = struct{}{}
		}
		for alias := range p.Aliases {
			served[alias] = struct{}{}
		}
	}
	collect(c.Providers.OpenAI)
	if c.Providers.Claude != nil {
		collect(*c.Providers.Claude)
	}

	models := append([]ModelConfig(nil), c.Providers.OpenAI.Models...)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := served[id]; ok {
			continue
		}
		served[id] = struct{}{}
		models = append(models, ModelConfig{ID: id, APIStyle: apiStyleOpenAI})
	}
	c.Providers.OpenAI.Models = models
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}

	if strings.TrimSpace(c.LLM.DefaultModel) == "" {
		return errors.New("llm.default_model must be provided")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout)
	}

	if err := validateProvider("openai", apiStyleOpenAI, c.Providers.OpenAI); err != nil {
		return err
	}
	if c.Providers.Claude != nil {
		if err := validateProvider("claude", apiStyleClaude, *c.Providers.Claude); err != nil {
			return err
		}
		if c.Providers.Claude.MaxTokens <= 0 {
			return errors.New("provider claude: max_tokens must be positive")
		}
	}

	return nil
}

func validateProvider(name, style string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if len(provider.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model must be configured", name)
	}

	for _, model := range provider.Models {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
		if model.APIStyle != style {
			return fmt.Errorf("provider %s: model %s api_style %q must be %q", name, model.ID, model.APIStyle, style)
		}
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	for alias, target := range provider.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("provider %s: alias name must not be empty", name)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("provider %s: alias %q target must not be empty", name, alias)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
