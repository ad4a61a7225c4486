package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage L4 character profiles",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List character profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfileList,
	}

	merge := &cobra.Command{
		Use:   "merge",
		Short: "Merge a hand-written profile (JSON) into the stored one",
		Long:  "Read one profile as JSON from a file or stdin and merge it. Profiles without an override_source are treated as user edits, whose text fields later extractions will not overwrite.",
		Args:  cobra.NoArgs,
		RunE:  runProfileMerge,
	}
	merge.Flags().String("file", "", "Read from file instead of stdin")

	extract := &cobra.Command{
		Use:   "extract <chapter>",
		Short: "Extract profiles from a chapter with the model and merge them",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileExtract,
	}

	cmd.AddCommand(list, merge, extract)
	RootCmd.AddCommand(cmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	profiles, err := p.Store.Profiles(cmd.Context())
	if err != nil {
		return fail("list profiles", err)
	}
	if profiles == nil {
		profiles = []model.CharacterProfile{}
	}
	return printResult(cmd, profiles, func(w io.Writer) {
		for _, pr := range profiles {
			fmt.Fprintln(w, store.RenderProfile(pr))
		}
	})
}

func runProfileMerge(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd)
	if err != nil {
		return err
	}
	var incoming model.CharacterProfile
	if err := json.Unmarshal([]byte(raw), &incoming); err != nil {
		return fail("parse profile", err)
	}
	if incoming.OverrideSource == "" {
		incoming.OverrideSource = model.OverrideUser
	}

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	merged, err := p.Studio.MergeProfile(cmd.Context(), incoming)
	if err != nil {
		return fail("merge profile", err)
	}
	return printResult(cmd, merged, nil)
}

func runProfileExtract(cmd *cobra.Command, args []string) error {
	n, err := chapterArg(args[0])
	if err != nil {
		return err
	}
	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	profiles, err := p.Studio.ExtractProfiles(cmd.Context(), n)
	if err != nil {
		return fail("extract profiles", err)
	}
	return printResult(cmd, profiles, nil)
}
