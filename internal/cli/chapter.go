package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chapter",
		Short: "Manage chapters",
	}

	add := &cobra.Command{
		Use:   "add <number>",
		Short: "Create a chapter or update its title, goal and text",
		Long:  "Create a chapter or update an existing one. Only the flags given are changed. With --file or --stdin the text becomes the draft, or the final text with --final.",
		Args:  cobra.ExactArgs(1),
		RunE:  runChapterAdd,
	}
	add.Flags().String("title", "", "Chapter title")
	add.Flags().String("goal", "", "Chapter goal")
	add.Flags().String("file", "", "Read chapter text from file")
	add.Flags().Bool("stdin", false, "Read chapter text from stdin")
	add.Flags().Bool("final", false, "Store the text as the final version")

	list := &cobra.Command{
		Use:   "list",
		Short: "List chapters",
		Args:  cobra.NoArgs,
		RunE:  runChapterList,
	}

	show := &cobra.Command{
		Use:   "show <number>",
		Short: "Show a chapter with its plan and text",
		Args:  cobra.ExactArgs(1),
		RunE:  runChapterShow,
	}

	rm := &cobra.Command{
		Use:   "rm <number>",
		Short: "Delete a chapter with its conflicts, events, episodes and memory entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runChapterRm,
	}

	cmd.AddCommand(add, list, show, rm)
	RootCmd.AddCommand(cmd)
}

func runChapterAdd(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	final, _ := cmd.Flags().GetBool("final")
	fromStdin, _ := cmd.Flags().GetBool("stdin")
	file, _ := cmd.Flags().GetString("file")

	var text string
	if fromStdin || file != "" {
		if text, err = readInput(cmd); err != nil {
			return err
		}
	}

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	ch, err := p.Store.Chapter(ctx, n)
	created := errors.Is(err, store.ErrNotFound)
	if err != nil && !created {
		return fail("load chapter", err)
	}
	ch.Number = n
	if cmd.Flags().Changed("title") {
		ch.Title, _ = cmd.Flags().GetString("title")
	}
	if cmd.Flags().Changed("goal") {
		ch.Goal, _ = cmd.Flags().GetString("goal")
	}
	if text != "" {
		if final {
			ch.Final = text
		} else {
			ch.Draft = text
		}
	}
	if err := p.Store.SaveChapter(ctx, &ch); err != nil {
		return fail("save chapter", err)
	}
	return printResult(cmd, map[string]any{
		"ok": true, "chapter": ch.Number, "created": created, "status": ch.Status, "word_count": ch.WordCount,
	}, nil)
}

func runChapterList(cmd *cobra.Command, args []string) error {
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	chapters, err := p.Store.Chapters(cmd.Context())
	if err != nil {
		return fail("list chapters", err)
	}
	out := make([]model.ChapterCompact, 0, len(chapters))
	for _, c := range chapters {
		out = append(out, model.ChapterCompact{Number: c.Number, Title: c.Title, Status: c.Status, WordCount: c.WordCount})
	}
	return printResult(cmd, out, func(w io.Writer) {
		for _, c := range out {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", c.Number, c.Status, c.Title, c.WordCount)
		}
	})
}

func runChapterShow(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	ch, err := p.Store.Chapter(cmd.Context(), n)
	if err != nil {
		return fail("show chapter", err)
	}
	return printResult(cmd, ch, func(w io.Writer) {
		fmt.Fprintf(w, "# Chapter %d %s\n\n%s\n", ch.Number, ch.Title, ch.Text())
	})
}

func runChapterRm(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := p.Studio.DeleteChapter(cmd.Context(), n); err != nil {
		return fail("rm chapter", err)
	}
	return printResult(cmd, map[string]any{"ok": true, "chapter": n}, nil)
}
