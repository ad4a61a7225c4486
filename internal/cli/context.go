package cli

import (
	"fmt"
	"io"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/threads"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context <chapter>",
		Short: "Assemble the context pack for a chapter",
		Long:  "Fill each context field from the memory layers within its share of the input token budget.",
		Args:  cobra.ExactArgs(1),
		RunE:  runContext,
	}

	cmd.Flags().IntP("budget", "b", 0, "Total input budget in tokens (default: derived from the context window)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")

	p, closeFn, err := openProject(withBudget(budget))
	if err != nil {
		return err
	}
	defer closeFn()

	pack, err := p.Studio.Context(cmd.Context(), n)
	if err != nil {
		return fail("context", err)
	}
	return printResult(cmd, pack, func(w io.Writer) { writePack(w, pack) })
}

func writePack(w io.Writer, pack *model.ContextPack) {
	fmt.Fprintf(w, "# Context for chapter %d (%d/%d tokens)\n", pack.Chapter, pack.BudgetStats.TotalUsed, pack.BudgetStats.TotalBudget)
	for _, f := range []struct{ name, body string }{
		{"Identity", pack.IdentityCore},
		{"Runtime state", pack.RuntimeState},
		{"Memory", pack.MemoryCompact},
		{"Previous chapter", pack.PreviousSynopsis},
		{"Open threads", threads.Render(pack.OpenThreads)},
	} {
		if f.body != "" {
			fmt.Fprintf(w, "\n## %s\n\n%s\n", f.name, f.body)
		}
	}
}
