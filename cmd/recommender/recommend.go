package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/knowledge-engine/recommender/internal/index"
)

var (
	recommendK       int
	recommendID      int
	recommendPosters bool
	recommendJSON    bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [title]",
	Short: "Print the items most similar to a title or id",
	Long: `Print the items most similar to a title or id.

Examples:
  recommender recommend Avatar
  recommender recommend -k 10 "The Dark Knight"
  recommender recommend --id 19995 --posters --json`,
	RunE: runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().IntVarP(&recommendK, "k", "k", 0, "Number of recommendations (default from RECOMMEND_DEFAULT_K)")
	recommendCmd.Flags().IntVar(&recommendID, "id", 0, "Query by item id instead of title")
	recommendCmd.Flags().BoolVar(&recommendPosters, "posters", false, "Resolve poster URLs")
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "Output results as JSON")
}

type recommendOutput struct {
	Rank   int     `json:"rank"`
	ID     int     `json:"id"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
	Padded bool    `json:"padded"`
	Poster string  `json:"poster,omitempty"`
}

func runRecommend(cmd *cobra.Command, args []string) error {
	var q index.Query
	switch {
	case recommendID != 0:
		q = index.ByID(recommendID)
	case len(args) > 0:
		q = index.ByTitle(strings.Join(args, " "))
	default:
		return fmt.Errorf("a title or --id is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.engine.Load(ctx); err != nil {
		return err
	}
	res, err := a.engine.Recommend(ctx, q, recommendK)
	if err != nil {
		return err
	}

	rows := make([]recommendOutput, len(res.Items))
	ids := make([]int, len(res.Items))
	for i, it := range res.Items {
		rows[i] = recommendOutput{Rank: it.Rank, ID: it.ID, Title: it.Title, Score: it.Score, Padded: it.Padded}
		ids[i] = it.ID
	}
	if recommendPosters {
		for i, p := range a.engine.Posters(ctx, ids) {
			rows[i].Poster = p.URL
		}
	}

	out := cmd.OutOrStdout()
	if recommendJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintf(out, "Because you picked %q (id %d):\n", res.Query.Title, res.Query.ID)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		mark := ""
		if r.Padded {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d.\t%s%s\t%.4f\t%d\t%s\n", r.Rank, r.Title, mark, r.Score, r.ID, r.Poster)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return nil
}
