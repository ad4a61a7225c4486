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
		Use:   "threads",
		Short: "Recompute open threads from chapter plans",
		Long:  "Recompute every foreshadowing thread, rewrite OPEN_THREADS.md and print the threads. With --chapter, only the top-K open threads for that chapter are shown.",
		Args:  cobra.NoArgs,
		RunE:  runThreads,
	}

	cmd.Flags().Bool("open", false, "Only unresolved threads")
	cmd.Flags().Int("chapter", 0, "Rank open threads for this chapter")
	cmd.Flags().IntP("top-k", "k", 10, "Threads kept with --chapter")

	RootCmd.AddCommand(cmd)
}

func runThreads(cmd *cobra.Command, args []string) error {
	openOnly, _ := cmd.Flags().GetBool("open")
	chapter, _ := cmd.Flags().GetInt("chapter")
	topK, _ := cmd.Flags().GetInt("top-k")

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	ts, err := p.Studio.Threads(cmd.Context(), openOnly || chapter > 0)
	if err != nil {
		return fail("threads", err)
	}
	if chapter > 0 {
		ts = threads.Select(ts, chapter, topK)
	}
	if ts == nil {
		ts = []model.OpenThread{}
	}
	return printResult(cmd, ts, func(w io.Writer) {
		fmt.Fprint(w, threads.Render(ts))
	})
}
