// Package cli implements the novel-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/registry"
	"github.com/spf13/cobra"
)

var (
	homeDir     string
	projectFlag string
	formatFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "novel-memory",
	Short:        "Story memory for long-form fiction pipelines",
	Long:         "Layered memory, consistency checks and a plan-draft-approve pipeline for serialized novels. Markdown on disk, SQLite-indexed, single binary.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Data directory (default: $NOVEL_MEMORY_HOME or ~/.novel-memory)")
	RootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project id (default: $NOVEL_MEMORY_PROJECT or \"default\")")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if homeDir != "" {
		cfg.DataDir = homeDir
	}
	return cfg, nil
}

func projectID() string {
	if projectFlag != "" {
		return projectFlag
	}
	if env := os.Getenv("NOVEL_MEMORY_PROJECT"); env != "" {
		return env
	}
	return "default"
}

// openRegistry loads the config, applies overrides and returns a registry
// over it.
func openRegistry(overrides ...func(*config.Config)) (*registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return registry.New(cfg, cfg.Logger()), nil
}

// openProject opens the selected project. The returned func closes it.
func openProject(overrides ...func(*config.Config)) (*registry.Project, func(), error) {
	reg, err := openRegistry(overrides...)
	if err != nil {
		return nil, nil, err
	}
	p, err := reg.Open(projectID())
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	return p, func() { reg.Close() }, nil
}

// withBudget overrides the context pack budget when tokens is positive.
func withBudget(tokens int) func(*config.Config) {
	return func(c *config.Config) {
		if tokens > 0 {
			c.InputBudgetTokens = tokens
		}
	}
}

func chapterArg(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid chapter number %q", s)
	}
	return n, nil
}

// printResult writes v as indented JSON, or through text when --format text
// is set and the command has a text rendering.
func printResult(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if formatFlag == "text" && text != nil {
		text(w)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

func fail(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
