// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Memory writeback modes.
const (
	ModeLightweight  = "lightweight"
	ModeConsolidated = "consolidated"
)

// Config is the full process configuration.
type Config struct {
	DataDir string `env:"NOVEL_MEMORY_HOME"`

	ContextWindowTokens      int     `env:"NOVEL_MEMORY_CONTEXT_WINDOW" envDefault:"32768"`
	InputBudgetRatio         float64 `env:"NOVEL_MEMORY_INPUT_RATIO" envDefault:"0.6"`
	ReservedCompletionTokens int     `env:"NOVEL_MEMORY_RESERVED_COMPLETION" envDefault:"4096"`
	SafetyMarginTokens       int     `env:"NOVEL_MEMORY_SAFETY_MARGIN" envDefault:"512"`
	InputBudgetTokens        int     `env:"NOVEL_MEMORY_INPUT_BUDGET"` // overrides the derived budget when set
	TopKThreads              int     `env:"NOVEL_MEMORY_TOP_K_THREADS" envDefault:"10"`
	TargetWords              int     `env:"NOVEL_MEMORY_TARGET_WORDS" envDefault:"0"`

	CompactionInterval int    `env:"NOVEL_MEMORY_COMPACTION_INTERVAL" envDefault:"3"`
	RollingWindow      int    `env:"NOVEL_MEMORY_ROLLING_WINDOW" envDefault:"3"`
	LogRetentionDays   int    `env:"NOVEL_MEMORY_LOG_RETENTION_DAYS" envDefault:"30"`
	MemoryMode         string `env:"NOVEL_MEMORY_MODE" envDefault:"consolidated"`

	WorkerPoolSize    int           `env:"NOVEL_MEMORY_WORKERS" envDefault:"4"`
	StreamJoinTimeout time.Duration `env:"NOVEL_MEMORY_STREAM_JOIN_TIMEOUT" envDefault:"200ms"`

	LLM   LLMConfig   `envPrefix:"NOVEL_MEMORY_LLM_"`
	Embed EmbedConfig `envPrefix:"NOVEL_MEMORY_EMBED_"`
	Log   LogConfig   `envPrefix:"NOVEL_MEMORY_LOG_"`
}

// LLMConfig configures the chat collaborator.
type LLMConfig struct {
	Provider    string        `env:"PROVIDER" envDefault:"openai"`
	BaseURL     string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey      string        `env:"API_KEY"`
	Model       string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"60s"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"4096"`
}

// EmbedConfig configures the embedding collaborator. An empty provider means offline vectors.
type EmbedConfig struct {
	Provider  string `env:"PROVIDER"`
	Model     string `env:"MODEL"`
	BaseURL   string `env:"URL"`
	APIKey    string `env:"API_KEY"`
	Dimension int    `env:"DIMENSION" envDefault:"256"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and fills derived defaults.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, ".novel-memory")
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.ContextWindowTokens <= 0 {
		return fmt.Errorf("context window must be positive, got %d", c.ContextWindowTokens)
	}
	if c.InputBudgetRatio <= 0 || c.InputBudgetRatio > 1 {
		return fmt.Errorf("input budget ratio must be in (0,1], got %v", c.InputBudgetRatio)
	}
	if c.CompactionInterval <= 0 {
		return fmt.Errorf("compaction interval must be positive, got %d", c.CompactionInterval)
	}
	switch c.MemoryMode {
	case ModeLightweight, ModeConsolidated:
	default:
		return fmt.Errorf("unknown memory mode %q (use lightweight or consolidated)", c.MemoryMode)
	}
	return nil
}

// InputBudget is the token budget available to a context pack.
func (c Config) InputBudget() int {
	if c.InputBudgetTokens > 0 {
		return c.InputBudgetTokens
	}
	byRatio := int(float64(c.ContextWindowTokens) * c.InputBudgetRatio)
	byReserve := c.ContextWindowTokens - c.ReservedCompletionTokens - c.SafetyMarginTokens
	budget := min(byRatio, byReserve)
	if budget < 0 {
		return 0
	}
	return budget
}

// Logger builds the process logger.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
