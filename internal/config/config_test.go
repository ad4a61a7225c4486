package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"NOVEL_MEMORY_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("NOVEL_MEMORY_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NOVEL_MEMORY_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ContextWindowTokens != 32768 {
		t.Errorf("context window = %d, want 32768", cfg.ContextWindowTokens)
	}
	if cfg.MemoryMode != ModeConsolidated {
		t.Errorf("memory mode = %q, want consolidated", cfg.MemoryMode)
	}
	if cfg.LLM.Model == "" {
		t.Error("expected default llm model")
	}
	if cfg.Embed.Dimension != 256 {
		t.Errorf("embed dimension = %d, want 256", cfg.Embed.Dimension)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("NOVEL_MEMORY_HOME", t.TempDir())
	t.Setenv("NOVEL_MEMORY_MODE", "eager")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown memory mode")
	}
}

func TestInputBudget(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"ratio bound", Config{ContextWindowTokens: 32768, InputBudgetRatio: 0.6, ReservedCompletionTokens: 4096, SafetyMarginTokens: 512}, 19660},
		{"reserve bound", Config{ContextWindowTokens: 8000, InputBudgetRatio: 1, ReservedCompletionTokens: 4000, SafetyMarginTokens: 500}, 3500},
		{"never negative", Config{ContextWindowTokens: 1000, InputBudgetRatio: 0.5, ReservedCompletionTokens: 4000}, 0},
		{"explicit override", Config{ContextWindowTokens: 32768, InputBudgetRatio: 0.6, InputBudgetTokens: 6000}, 6000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.InputBudget(); got != tt.want {
				t.Errorf("InputBudget() = %d, want %d", got, tt.want)
			}
		})
	}
}
