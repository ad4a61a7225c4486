package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show or replace IDENTITY.md (premise, world rules, taboos)",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the identity document",
		Args:  cobra.NoArgs,
		RunE:  runIdentityShow,
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the identity document from a file or stdin",
		Args:  cobra.NoArgs,
		RunE:  runIdentitySet,
	}
	set.Flags().String("file", "", "Read from file instead of stdin")

	cmd.AddCommand(show, set)
	RootCmd.AddCommand(cmd)
}

// readInput reads the --file flag's file, or stdin when it is empty.
func readInput(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("file")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func runIdentityShow(cmd *cobra.Command, args []string) error {
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	text, err := p.Store.Identity()
	if err != nil {
		return fail("read identity", err)
	}
	return printResult(cmd, map[string]any{"project": p.ID, "identity": text}, func(w io.Writer) {
		fmt.Fprint(w, text)
	})
}

func runIdentitySet(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd)
	if err != nil {
		return err
	}

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := p.Store.SetIdentity(text); err != nil {
		return fail("write identity", err)
	}
	if _, err := p.Store.Sync(cmd.Context()); err != nil {
		return fail("sync", err)
	}
	return printResult(cmd, map[string]any{"ok": true, "project": p.ID, "bytes": len(text)}, nil)
}
