package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show project statistics",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := p.Store.Stats(cmd.Context())
	if err != nil {
		return fail("stats", err)
	}
	out := map[string]any{
		"project":        p.ID,
		"dir":            p.Dir,
		"vector_backend": p.Index.Backend(),
		"stats":          stats,
	}
	return printResult(cmd, out, func(w io.Writer) {
		fmt.Fprintf(w, "project %s (%s)\n", p.ID, p.Dir)
		fmt.Fprintf(w, "chapters %d, items %d, entities %d, events %d, profiles %d, open conflicts %d\n",
			stats.Chapters, stats.TotalItems, stats.Entities, stats.Events, stats.Profiles, stats.OpenConflicts)
	})
}
