package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/rcliao/novel-memory/internal/consistency"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "List, resolve or exempt consistency conflicts",
	}

	list := &cobra.Command{
		Use:   "list [chapter]",
		Short: "List stored conflicts, optionally for one chapter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConflictList,
	}
	list.Flags().Bool("open", false, "Only unresolved conflicts")
	list.Flags().Bool("blocking", false, "Only unresolved P0 conflicts")

	resolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a conflict fixed",
		Args:  cobra.ExactArgs(1),
		RunE:  runConflictResolve,
	}
	resolve.Flags().String("note", "", "Resolution note")

	exempt := &cobra.Command{
		Use:   "exempt <id>",
		Short: "Accept a P1 conflict as intentional",
		Args:  cobra.ExactArgs(1),
		RunE:  runConflictExempt,
	}
	exempt.Flags().String("reason", "", "Why the conflict is intentional (required)")
	exempt.MarkFlagRequired("reason")

	cmd.AddCommand(list, resolve, exempt)
	RootCmd.AddCommand(cmd)
}

func runConflictList(cmd *cobra.Command, args []string) error {
	chapter := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid chapter number %q", args[0])
		}
		chapter = n
	}
	openOnly, _ := cmd.Flags().GetBool("open")
	blockingOnly, _ := cmd.Flags().GetBool("blocking")

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	all, err := p.Store.Conflicts(cmd.Context(), chapter)
	if err != nil {
		return fail("list conflicts", err)
	}
	out := all[:0]
	for _, c := range all {
		if !openOnly || c.Open() {
			out = append(out, c)
		}
	}
	if blockingOnly {
		out = consistency.Blocking(out)
	}
	return printResult(cmd, out, func(w io.Writer) {
		for _, c := range out {
			state := "open"
			switch {
			case c.Exempted:
				state = "exempted"
			case c.Resolved:
				state = "resolved"
			}
			fmt.Fprintf(w, "ch%d [%s] %s %s %s: %s\n", c.Chapter, c.Severity, state, c.ID, c.RuleID, c.Reason)
		}
	})
}

func runConflictResolve(cmd *cobra.Command, args []string) error {
	note, _ := cmd.Flags().GetString("note")

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	c, err := p.Studio.ResolveConflict(cmd.Context(), args[0], note)
	if err != nil {
		return fail("resolve conflict", err)
	}
	return printResult(cmd, c, nil)
}

func runConflictExempt(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	c, err := p.Studio.ExemptConflict(cmd.Context(), args[0], reason)
	if err != nil {
		return fail("exempt conflict", err)
	}
	return printResult(cmd, c, nil)
}
