package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// Supported LLM providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

const DefaultOllamaBaseURL = "http://localhost:11434"

// Config is the contents of config.json.
type Config struct {
	DataDir  string      `json:"data_dir"`
	LogLevel string      `json:"log_level"`
	LogFile  string      `json:"log_file"`
	LLM      LLMConfig   `json:"llm"`
	Trino    TrinoConfig `json:"trino"`
	HTTP     struct {
		Addr string `json:"addr"`
	} `json:"http"`
	Telegram struct {
		Token        string  `json:"token"`
		AllowedChats []int64 `json:"allowed_chats"`
	} `json:"telegram"`
}

// LLMConfig holds one block of settings per provider; Provider selects the
// active one. Models stay empty until configured or picked from a listing.
type LLMConfig struct {
	Provider         string `json:"provider"`
	GroqAPIKey       string `json:"groq_api_key"`
	GroqModel        string `json:"groq_model"`
	OpenAIAPIKey     string `json:"openai_api_key"`
	OpenAIModel      string `json:"openai_model"`
	OllamaBaseURL    string `json:"ollama_base_url"`
	OllamaModel      string `json:"ollama_model"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	GeminiModel      string `json:"gemini_model"`
	MaxContextTokens int    `json:"max_context_tokens"`
}

// IsConfigured reports whether the active provider has the credentials it
// needs. Ollama needs none; unknown providers are never configured.
func (c LLMConfig) IsConfigured() bool {
	switch c.Provider {
	case ProviderGroq:
		return c.GroqAPIKey != ""
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	case ProviderOllama:
		return true
	}
	return false
}

// ActiveModel returns the model configured for the active provider.
func (c LLMConfig) ActiveModel() string {
	switch c.Provider {
	case ProviderGroq:
		return c.GroqModel
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderGemini:
		return c.GeminiModel
	case ProviderOllama:
		return c.OllamaModel
	}
	return ""
}

// SetActiveModel stores model for the active provider.
func (c *LLMConfig) SetActiveModel(model string) {
	switch c.Provider {
	case ProviderGroq:
		c.GroqModel = model
	case ProviderOpenAI:
		c.OpenAIModel = model
	case ProviderGemini:
		c.GeminiModel = model
	case ProviderOllama:
		c.OllamaModel = model
	}
}

// TrinoConfig locates and authenticates against the OpenSky Trino coordinator.
type TrinoConfig struct {
	BaseURL        string `json:"base_url"`
	User           string `json:"user"`
	Token          string `json:"token"`
	Catalog        string `json:"catalog"`
	Schema         string `json:"schema"`
	PollIntervalMS int    `json:"poll_interval_ms"`
}

// DefaultPath returns ~/.skyq/config.json.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".skyq", "config.json"), nil
}

// LoadEnvFiles loads KEY=value pairs from the given .env files into the
// process environment. Missing files are skipped; variables already set
// are not overwritten.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		p, err := homedir.Expand(p)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  "~/.skyq",
		LogLevel: "info",
	}
	cfg.LLM.Provider = ProviderGroq
	cfg.LLM.OllamaBaseURL = DefaultOllamaBaseURL
	cfg.LLM.MaxContextTokens = 8192
	cfg.Trino.BaseURL = "https://trino.opensky-network.org"
	cfg.Trino.Catalog = "minio"
	cfg.Trino.Schema = "osky"
	cfg.Trino.PollIntervalMS = 500
	cfg.HTTP.Addr = "127.0.0.1:8740"
	return cfg
}

// Load reads the config at path, writing defaults there if it does not
// exist, then applies environment overrides and expands paths.
func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	overrides := []struct {
		env string
		dst *string
	}{
		{"GROQ_API_KEY", &cfg.LLM.GroqAPIKey},
		{"OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey},
		{"GEMINI_API_KEY", &cfg.LLM.GeminiAPIKey},
		{"SKYQ_TRINO_USER", &cfg.Trino.User},
		{"SKYQ_TRINO_TOKEN", &cfg.Trino.Token},
		{"TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	dataDir, err := homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("expand data_dir: %w", err)
	}
	cfg.DataDir = dataDir
	if cfg.LogFile != "" {
		if cfg.LogFile, err = homedir.Expand(cfg.LogFile); err != nil {
			return nil, fmt.Errorf("expand log_file: %w", err)
		}
	}
	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the raw value stored under key in the file at path.
// The file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, ok := schema[key]; !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	return flat[key], nil
}

// SetValue stores value under key in the file at path, keeping every other
// key. The value is converted to the key's type; unknown keys, values of
// the wrong type and edits that would leave the file unloadable are
// rejected without writing.
func SetValue(path, key, value string) error {
	v, err := ParseValue(key, value)
	if err != nil {
		return err
	}
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	flat[key] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, defaults()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return writeFile(path, data)
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}
