package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/consistency"
	"github.com/rcliao/novel-memory/internal/studio"
	"github.com/spf13/cobra"
)

func init() {
	plan := &cobra.Command{
		Use:   "plan <chapter>",
		Short: "Generate and store a chapter plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}

	draft := &cobra.Command{
		Use:   "draft <chapter>",
		Short: "Draft a chapter from its plan and memory",
		Long:  "Draft a chapter, planning it first when it has no plan. With --stream the text is echoed to stderr as it arrives.",
		Args:  cobra.ExactArgs(1),
		RunE:  runDraft,
	}
	draft.Flags().Bool("stream", false, "Echo deltas to stderr while drafting")
	draft.Flags().Int("words", 0, "Target length in words")

	check := &cobra.Command{
		Use:   "check <chapter>",
		Short: "Run the consistency rules over a chapter and store the conflicts",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	approve := &cobra.Command{
		Use:   "approve <chapter>",
		Short: "Approve a chapter and write it back to memory",
		Long:  "Re-check and approve a chapter. Unresolved P0 conflicts block approval and are printed.",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}

	writeback := &cobra.Command{
		Use:   "writeback <chapter>",
		Short: "Fold a chapter into memory without changing its status",
		Args:  cobra.ExactArgs(1),
		RunE:  runWriteback,
	}

	RootCmd.AddCommand(plan, draft, check, approve, writeback)
}

func runPlan(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := p.Studio.Plan(cmd.Context(), n)
	if err != nil {
		return fail("plan", err)
	}
	return printResult(cmd, res, func(w io.Writer) {
		fmt.Fprintf(w, "chapter %d plan: %s, score %d (%s)\n", n, res.Source, res.Quality.Score, res.Quality.Status)
		for i, b := range res.Plan.Beats {
			fmt.Fprintf(w, "%d. %s\n", i+1, b)
		}
	})
}

func runDraft(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	stream, _ := cmd.Flags().GetBool("stream")
	words, _ := cmd.Flags().GetInt("words")

	p, closeFn, err := openProject(func(c *config.Config) {
		if words > 0 {
			c.TargetWords = words
		}
	})
	if err != nil {
		return err
	}
	defer closeFn()

	var onDelta func(string)
	if stream {
		errw := cmd.ErrOrStderr()
		onDelta = func(d string) { fmt.Fprint(errw, d) }
	}
	ch, err := p.Studio.Draft(cmd.Context(), n, onDelta)
	if stream {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return fail("draft", err)
	}
	return printResult(cmd, ch, func(w io.Writer) {
		fmt.Fprintln(w, ch.Draft)
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := p.Studio.Check(cmd.Context(), n)
	if err != nil {
		return fail("check", err)
	}
	return printResult(cmd, rep, func(w io.Writer) { writeReport(w, rep) })
}

func writeReport(w io.Writer, rep consistency.Report) {
	fmt.Fprintf(w, "can_submit=%t p0=%d p1=%d p2=%d\n", rep.CanSubmit, rep.P0Count, rep.P1Count, rep.P2Count)
	for _, c := range rep.Conflicts {
		fmt.Fprintf(w, "[%s] %s %s: %s\n", c.Severity, c.ID, c.RuleID, c.Reason)
	}
}

func runApprove(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := p.Studio.Approve(cmd.Context(), n)
	var blocked *studio.BlockedError
	if errors.As(err, &blocked) {
		if perr := printResult(cmd, map[string]any{"ok": false, "chapter": n, "blocking": blocked.Conflicts}, nil); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return fail("approve", err)
	}
	return printResult(cmd, rep, nil)
}

func runWriteback(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := p.Studio.Writeback(cmd.Context(), n)
	if err != nil {
		return fail("writeback", err)
	}
	return printResult(cmd, rep, nil)
}
