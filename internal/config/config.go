// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Book       BookConfig       `mapstructure:"book"`
	Source     SourceConfig     `mapstructure:"source"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BookConfig identifies the single book this instance ingests and where its
// documents live. The ID becomes a path segment under the data directory.
type BookConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

// SourceConfig governs how chapter pages are fetched and parsed. The
// selectors and charset are fixed per site, never autodetected.
type SourceConfig struct {
	UserAgent       string   `mapstructure:"user_agent"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	Charset         string   `mapstructure:"charset"`
	ContentSelector string   `mapstructure:"content_selector"`
	HeadingSelector string   `mapstructure:"heading_selector"`
	NavSelector     string   `mapstructure:"nav_selector"`
	DenyLines       []string `mapstructure:"deny_lines"`
	DelaySeconds    int      `mapstructure:"delay_seconds"`
	SeedURL         string   `mapstructure:"seed_url"`
}

// TranslatorConfig configures the language-model call. There is deliberately
// no timeout knob: the translation call runs unbounded.
type TranslatorConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	BaseURL         string `mapstructure:"base_url"`
	SystemPrompt    string `mapstructure:"system_prompt"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
}

// StorageConfig selects the chapter-body backend.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Local       LocalStorageConfig `mapstructure:"local"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
}

// LocalStorageConfig sets the filesystem backend root. An empty base dir
// falls back to the book's data directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls the optional run-history store. An empty DSN
// disables it.
type DatabaseConfig struct {
	DSN                 string `mapstructure:"dsn"`
	RunsTable           string `mapstructure:"runs_table"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMins int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ProgressConfig tunes the progress event hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds how events are grouped before sink delivery.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig names the service for tracing resources.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

var validBookID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAPTERMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("book.id", "book")
	v.SetDefault("book.data_dir", "./data")
	v.SetDefault("source.user_agent", "Mozilla/5.0")
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.charset", "gbk")
	v.SetDefault("source.content_selector", "div#content")
	v.SetDefault("source.heading_selector", "h1")
	v.SetDefault("source.nav_selector", "div.bottem1, div.bottem2")
	v.SetDefault("source.delay_seconds", 2)
	v.SetDefault("translator.model", "gpt-4o-mini")
	v.SetDefault("translator.system_prompt",
		"Translate Chinese web novel text into fluent English. "+
			"Preserve paragraph structure and storytelling tone. "+
			"Do not summarize or add content.")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "chapters")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("database.runs_table", "crawl_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.batch.max_events", 16)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("telemetry.service_name", "chaptermill")
	v.SetDefault("telemetry.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Book.ID == "" || !validBookID.MatchString(c.Book.ID) {
		return fmt.Errorf("book.id must be a non-empty path-safe name, got %q", c.Book.ID)
	}
	if c.Book.DataDir == "" {
		return fmt.Errorf("book.data_dir must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Source.Charset == "" {
		return fmt.Errorf("source.charset must be set")
	}
	if c.Source.ContentSelector == "" {
		return fmt.Errorf("source.content_selector must be set")
	}
	if c.Source.DelaySeconds < 0 {
		return fmt.Errorf("source.delay_seconds must be >= 0")
	}
	if c.Translator.Model == "" {
		return fmt.Errorf("translator.model must be set")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory; got %q", c.Storage.Backend)
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0 when progress is enabled")
	}
	return nil
}

// FetchTimeout returns the source fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ChapterDelay returns the fixed politeness pause between chapters.
func (c Config) ChapterDelay() time.Duration {
	return time.Duration(c.Source.DelaySeconds) * time.Second
}

// ConnLifetime returns the database pool connection lifetime.
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMins) * time.Minute
}
