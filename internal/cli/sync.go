package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the memory documents into the index",
		Long:  "Re-read every memory document into the SQLite mirror, purge expired daily logs and, with --vectors, rebuild the vector index when its signature changed.",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}

	cmd.Flags().Bool("vectors", false, "Also bring the vector index up to date")

	RootCmd.AddCommand(cmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	vectors, _ := cmd.Flags().GetBool("vectors")

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	rep, err := p.Store.Sync(ctx)
	if err != nil {
		return fail("sync", err)
	}
	out := map[string]any{"project": p.ID, "sync": rep}
	if vectors {
		rebuilt, err := p.Index.Ensure(ctx)
		if err != nil {
			return fail("index", err)
		}
		out["vector_backend"] = p.Index.Backend()
		out["vectors_rebuilt"] = rebuilt
	}
	return printResult(cmd, out, nil)
}
