// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// identifierPattern restricts table names and text search configs that end up spliced into SQL
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config represents the complete application configuration
type Config struct {
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	Search   SearchConfig   `mapstructure:"search"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Server   ServerConfig   `mapstructure:"server"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OpenAIConfig contains OpenAI-compatible API configuration
type OpenAIConfig struct {
	APIKey          string `mapstructure:"apikey"`
	BaseURL         string `mapstructure:"base_url"`
	ChatModel       string `mapstructure:"chat_model"`
	EmbedModel      string `mapstructure:"embed_model"`
	EmbedDimensions int    `mapstructure:"embed_dimensions"`
}

// DatabaseConfig contains the Postgres package catalog settings
type DatabaseConfig struct {
	URL                string `mapstructure:"url"`
	MaxConns           int32  `mapstructure:"max_conns"`
	PackageTable       string `mapstructure:"package_table"`
	TextSearchLanguage string `mapstructure:"text_search_language"`
}

// SearchConfig contains Google Custom Search and link settings
type SearchConfig struct {
	APIKey        string `mapstructure:"api_key"`
	EngineID      string `mapstructure:"engine_id"`
	Top           int    `mapstructure:"top"`
	SiteURL       string `mapstructure:"site_url"`
	SearchURLBase string `mapstructure:"search_url_base"`
}

// FeedConfig contains the promo/info feed endpoint settings
type FeedConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig contains the feed cache connection settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ChatConfig contains answer composition settings
type ChatConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	UTMSource   string  `mapstructure:"utm_source"`
	URLPattern  string  `mapstructure:"url_pattern"`
	PromptsDir  string  `mapstructure:"prompts_dir"`
}

// RetryConfig contains retry bounds for outbound calls
type RetryConfig struct {
	ChatAttempts  int           `mapstructure:"chat_attempts"`
	ChatMaxDelay  time.Duration `mapstructure:"chat_max_delay"`
	FeedAttempts  int           `mapstructure:"feed_attempts"`
	FeedMaxDelay  time.Duration `mapstructure:"feed_max_delay"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	EmbedAttempts int           `mapstructure:"embed_attempts"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuditConfig contains the local request audit store settings
type AuditConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	StorageType string `mapstructure:"storage_type"`
	DBPath      string `mapstructure:"db_path"`
	FilePath    string `mapstructure:"file_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnvFile          string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		EnvFile:          ".env",
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PKGCHAT")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.embed_model", "text-embedding-3-small")
	v.SetDefault("openai.embed_dimensions", 1536)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.package_table", "packages_all")
	v.SetDefault("database.text_search_language", "thai")

	v.SetDefault("search.top", 3)
	v.SetDefault("search.site_url", "https://hdmall.co.th")
	v.SetDefault("search.search_url_base", "https://hdmall.co.th/search")

	v.SetDefault("feed.cache_ttl", 10*time.Minute)
	v.SetDefault("feed.timeout", 15*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pkgchat:")

	v.SetDefault("chat.temperature", 0.0)
	v.SetDefault("chat.utm_source", "ai-chat")
	v.SetDefault("chat.url_pattern", `https://hdmall\.co\.th/[\p{L}\p{M}\p{N}_.,@?^=%&:/~+#-]+`)

	v.SetDefault("retry.chat_attempts", 6)
	v.SetDefault("retry.chat_max_delay", 60*time.Second)
	v.SetDefault("retry.feed_attempts", 3)
	v.SetDefault("retry.feed_max_delay", 10*time.Second)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.embed_attempts", 3)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 120*time.Second)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.storage_type", "sqlite")
	v.SetDefault("audit.db_path", "./audit.db")
	v.SetDefault("audit.file_path", "./audit.jsonl")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile sets the configuration file path with fallback logic
func setConfigFile(v *viper.Viper, configPath string) error {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	// Without an explicit path the file is optional; env vars can carry everything.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":          "openai.apikey",
		"OPENAI_BASE_URL":         "openai.base_url",
		"OPENAI_CHAT_MODEL":       "openai.chat_model",
		"OPENAI_EMBED_MODEL":      "openai.embed_model",
		"DATABASE_URL":            "database.url",
		"GOOGLE_SEARCH_API_KEY":   "search.api_key",
		"GOOGLE_SEARCH_ENGINE_ID": "search.engine_id",
		"FEED_URL":                "feed.url",
		"REDIS_ADDR":              "redis.addr",
		"REDIS_PASSWORD":          "redis.password",
		"LOG_LEVEL":               "logging.level",
		"LOG_FORMAT":              "logging.format",
		"LOG_OUTPUT":              "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.OpenAI.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "openai.apikey",
			Message: "OpenAI API key is required. Set via config file or OPENAI_API_KEY environment variable",
		})
	}

	if config.OpenAI.ChatModel == "" {
		errs = append(errs, ValidationError{Field: "openai.chat_model", Message: "chat model is required"})
	}

	if config.OpenAI.EmbedDimensions <= 0 {
		errs = append(errs, ValidationError{
			Field:   "openai.embed_dimensions",
			Message: "embed_dimensions must be greater than 0",
		})
	}

	if config.Database.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "database.url",
			Message: "database URL is required. Set via config file or DATABASE_URL environment variable",
		})
	}

	if !identifierPattern.MatchString(config.Database.PackageTable) {
		errs = append(errs, ValidationError{
			Field:   "database.package_table",
			Message: "package_table must be a lowercase SQL identifier",
		})
	}

	if !identifierPattern.MatchString(config.Database.TextSearchLanguage) {
		errs = append(errs, ValidationError{
			Field:   "database.text_search_language",
			Message: "text_search_language must be a lowercase text search configuration name",
		})
	}

	if config.Search.APIKey == "" || config.Search.EngineID == "" {
		errs = append(errs, ValidationError{
			Field:   "search",
			Message: "Google search api_key and engine_id are required",
		})
	}

	if config.Search.Top <= 0 {
		errs = append(errs, ValidationError{Field: "search.top", Message: "top must be greater than 0"})
	}

	if config.Feed.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "feed.url",
			Message: "feed URL is required. Set via config file or FEED_URL environment variable",
		})
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		errs = append(errs, ValidationError{Field: "redis.addr", Message: "redis address is required when redis is enabled"})
	}

	if config.Chat.Temperature < 0 || config.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if _, err := regexp.Compile(config.Chat.URLPattern); err != nil {
		errs = append(errs, ValidationError{
			Field:   "chat.url_pattern",
			Message: fmt.Sprintf("url_pattern does not compile: %v", err),
		})
	}

	if config.Retry.ChatAttempts <= 0 || config.Retry.FeedAttempts <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retry",
			Message: "chat_attempts and feed_attempts must be greater than 0",
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if config.Audit.Enabled && config.Audit.StorageType != "sqlite" && config.Audit.StorageType != "file" {
		errs = append(errs, ValidationError{
			Field:   "audit.storage_type",
			Message: "audit storage type must be one of: sqlite, file",
		})
	}

	if config.Audit.Enabled && config.Audit.StorageType == "sqlite" {
		if err := validateDirectoryExists(filepath.Dir(config.Audit.DBPath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "audit.db_path",
				Message: fmt.Sprintf("audit database directory does not exist: %s", filepath.Dir(config.Audit.DBPath)),
			})
		}
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	if masked.Search.APIKey != "" {
		masked.Search.APIKey = maskValue(masked.Search.APIKey)
	}
	if masked.Redis.Password != "" {
		masked.Redis.Password = maskValue(masked.Redis.Password)
	}
	if masked.Database.URL != "" {
		masked.Database.URL = maskValue(masked.Database.URL)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// WatchConfig enables configuration hot-reloading; only a file given explicitly is watched
func WatchConfig(configPath string, callback func(*Config), onError func(error)) error {
	if configPath == "" {
		return fmt.Errorf("%w: config path is required for watching", ErrMissingRequiredField)
	}

	v := viper.New()
	if err := setConfigFile(v, configPath); err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()

	return nil
}
