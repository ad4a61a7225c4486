package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/search"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search project memory",
		Long:  "Hybrid search over the memory tiers: FTS5 ranking merged with vector similarity. Use --lexical to skip the vector side.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringSliceP("tier", "t", nil, "Restrict to tiers (L1, L2, L3, L4)")
	cmd.Flags().IntP("limit", "l", search.DefaultTopK, "Max results")
	cmd.Flags().Bool("lexical", false, "Lexical search only")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	rawTiers, _ := cmd.Flags().GetStringSlice("tier")
	limit, _ := cmd.Flags().GetInt("limit")
	lexical, _ := cmd.Flags().GetBool("lexical")
	query := strings.Join(args, " ")

	var tiers []model.Tier
	for _, t := range rawTiers {
		tier := model.Tier(strings.ToUpper(strings.TrimSpace(t)))
		switch tier {
		case model.TierIdentity, model.TierRolling, model.TierEpisodic, model.TierProfile:
			tiers = append(tiers, tier)
		default:
			return fmt.Errorf("unknown tier %q (use L1, L2, L3 or L4)", t)
		}
	}

	p, closeFn, err := openProject()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	q := search.Query{Text: query, Tiers: tiers, TopK: limit}
	if !lexical {
		q.Embedding = p.LLM.Embed(ctx, query)
	}
	results, err := p.Search.Search(ctx, q)
	if err != nil {
		return fail("search", err)
	}
	if results == nil {
		results = []search.Result{}
	}
	return printResult(cmd, results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Score, r.Tier, r.SourcePath, r.Summary)
		}
	})
}
