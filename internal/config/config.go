// Package config handles Marquee configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/marquee/config.yaml, /etc/marquee/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "marquee", "config.yaml"))
	}

	paths = append(paths, "/etc/marquee/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Marquee configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	LLM          LLMConfig          `yaml:"llm"`
	Plex         PlexConfig         `yaml:"plex"`
	TMDb         TMDbConfig         `yaml:"tmdb"`
	Radarr       ArrConfig          `yaml:"radarr"`
	Sonarr       ArrConfig          `yaml:"sonarr"`
	Conversation ConversationConfig `yaml:"conversation"`
	ResultCache  ResultCacheConfig  `yaml:"result_cache"`
	DataDir      string             `yaml:"data_dir"`
	TalentsDir   string             `yaml:"talents_dir"` // empty uses the built-in talents
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the OpenAI-compatible chat completion endpoint.
// BaseURL may point at OpenAI, OpenRouter, or a local Ollama server.
type LLMConfig struct {
	Provider      string        `yaml:"provider"` // label recorded in usage rows
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	QueryModel    string        `yaml:"query_model"` // answers preference questions; defaults to model
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"` // per tool call
}

// PlexConfig defines the Plex Media Server connection.
type PlexConfig struct {
	URL                   string `yaml:"url"`
	Token                 string `yaml:"token"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// Configured reports whether Plex has enough settings to connect.
func (c PlexConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// TMDbConfig defines The Movie Database API settings.
type TMDbConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
	Region   string `yaml:"region"`
}

// Configured reports whether TMDb has an API key.
func (c TMDbConfig) Configured() bool {
	return c.APIKey != ""
}

// ArrConfig is shared by Radarr and Sonarr. QualityProfileID and
// RootFolderPath are the defaults used when the model adds an item
// without naming them.
type ArrConfig struct {
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	QualityProfileID  int    `yaml:"quality_profile_id"`
	LanguageProfileID int    `yaml:"language_profile_id"` // Sonarr v3 only
	RootFolderPath    string `yaml:"root_folder_path"`
}

// Configured reports whether the service has a URL and API key.
func (c ArrConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// ConversationConfig bounds per-conversation history.
type ConversationConfig struct {
	MaxMessages int    `yaml:"max_messages"`
	MaxTokens   int    `yaml:"max_tokens"`
	Encoding    string `yaml:"encoding"` // tiktoken encoding; "none" disables token trimming
}

// ResultCacheConfig selects the Result Cache driver and offload policy.
type ResultCacheConfig struct {
	Driver      string        `yaml:"driver"` // memory or redis
	RedisURL    string        `yaml:"redis_url"`
	TTL         time.Duration `yaml:"ttl"`
	InlineLimit int           `yaml:"inline_limit"` // bytes of JSON before a tool result is offloaded
}

// Load reads configuration from a YAML file. A .env file next to the
// config (and one in the working directory) is loaded into the process
// environment first so ${VAR} references can resolve against it.
// Variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied and no
// backends configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-5-mini"
	}
	if c.LLM.QueryModel == "" {
		c.LLM.QueryModel = c.LLM.Model
	}
	if c.LLM.MaxIterations == 0 {
		c.LLM.MaxIterations = 4
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.ToolTimeout == 0 {
		c.LLM.ToolTimeout = 30 * time.Second
	}
	if c.TMDb.BaseURL == "" {
		c.TMDb.BaseURL = "https://api.themoviedb.org/3"
	}
	if c.TMDb.Language == "" {
		c.TMDb.Language = "en-US"
	}
	if c.TMDb.Region == "" {
		c.TMDb.Region = "US"
	}
	if c.Conversation.MaxMessages == 0 {
		c.Conversation.MaxMessages = 6
	}
	if c.Conversation.MaxTokens == 0 {
		c.Conversation.MaxTokens = 128000
	}
	if c.Conversation.Encoding == "" {
		c.Conversation.Encoding = "cl100k_base"
	}
	if c.ResultCache.Driver == "" {
		c.ResultCache.Driver = "memory"
	}
	if c.ResultCache.TTL == 0 {
		c.ResultCache.TTL = 15 * time.Minute
	}
	if c.ResultCache.InlineLimit == 0 {
		c.ResultCache.InlineLimit = 12000
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.DataDir = expandHome(c.DataDir)
	c.TalentsDir = expandHome(c.TalentsDir)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.Conversation.MaxMessages < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_messages must be at least 1"))
	}
	if c.LLM.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("llm.max_iterations must be at least 1"))
	}
	if c.ResultCache.TTL < time.Millisecond {
		errs = append(errs, fmt.Errorf("result_cache.ttl must be at least 1ms, got %s", c.ResultCache.TTL))
	}
	switch c.ResultCache.Driver {
	case "memory":
	case "redis":
		if c.ResultCache.RedisURL == "" {
			errs = append(errs, fmt.Errorf("result_cache.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("result_cache.driver must be memory or redis, got %q", c.ResultCache.Driver))
	}
	return errors.Join(errs...)
}
