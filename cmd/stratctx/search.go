package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/stratctx/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search decisions, stakeholders, initiatives and meetings",
	Long: `Search the strategic tables by meaning.

Examples:
  stratctx search "platform migration budget"
  stratctx search --type stakeholder_intelligence --stakeholder cfo "cost concerns"
  stratctx search --type meeting_intelligence --days 30 "hiring plan"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		minRel, _ := cmd.Flags().GetFloat64("min-relevance")
		stakeholder, _ := cmd.Flags().GetString("stakeholder")
		days, _ := cmd.Flags().GetInt("days")

		if _, err := search.ParseSearchType(typ); err != nil {
			return err
		}

		req := map[string]any{
			"query":            strings.Join(args, " "),
			"search_type":      typ,
			"max_results":      limit,
			"min_relevance":    minRel,
			"include_metadata": true,
			"filters": search.Filters{
				StakeholderKey: stakeholder,
				TimeRangeDays:  days,
			},
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			SearchType string          `json:"search_type"`
			Results    []search.Result `json:"results"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/search", req, &resp); err != nil {
			return err
		}
		if ok, err := emit(resp); ok {
			return err
		}
		printResults(resp.Results)
		return nil
	},
}

func printResults(results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(stdout, "No results.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(stdout, "%d. %s %s\n", i+1,
			styled(labelStyle, fmt.Sprintf("[%.2f]", r.RelevanceScore)),
			styled(dimStyle, r.SourceTable+"#"+r.SourceID))
		snippets := r.HighlightedSnippets
		if len(snippets) == 0 {
			snippets = []string{r.Content}
		}
		for _, s := range snippets {
			fmt.Fprintf(stdout, "   %s\n", s)
		}
	}
}

func init() {
	searchCmd.Flags().String("type", search.DecisionContext.String(), "search type: decision_context, stakeholder_intelligence, initiative_similarity, strategic_themes, meeting_intelligence")
	searchCmd.Flags().Int("limit", 10, "maximum results")
	searchCmd.Flags().Float64("min-relevance", 0, "relevance floor between 0 and 1")
	searchCmd.Flags().String("stakeholder", "", "restrict to one stakeholder key")
	searchCmd.Flags().Int("days", 0, "only rows from the last N days")
}
