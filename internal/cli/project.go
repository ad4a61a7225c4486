package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects under the data directory",
		Args:  cobra.NoArgs,
		RunE:  runProjectList,
	}

	rm := &cobra.Command{
		Use:   "rm <project>",
		Short: "Delete a project and all of its memory (irreversible)",
		Args:  cobra.ExactArgs(1),
		RunE:  runProjectRm,
	}

	cmd.AddCommand(list, rm)
	RootCmd.AddCommand(cmd)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ids, err := reg.Projects()
	if err != nil {
		return fail("list projects", err)
	}
	return printResult(cmd, map[string]any{"home": reg.Root(), "projects": ids}, func(w io.Writer) {
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
	})
}

func runProjectRm(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.Delete(args[0]); err != nil {
		return fail("rm project", err)
	}
	return printResult(cmd, map[string]any{"ok": true, "project": args[0]}, nil)
}
