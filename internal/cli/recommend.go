package cli

import (
	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var (
	recommendBid       string
	recommendLanes     []string
	recommendMaxRoutes int
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Match lanes with their best active carrier",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := getApp().Recommend(cmd.Context(), app.RecommendOptions{
			BidID:     recommendBid,
			LaneIDs:   recommendLanes,
			MaxRoutes: recommendMaxRoutes,
		})
		if err != nil {
			return err
		}
		getApp().PrintRecommendation(rec)
		return nil
	},
}

func init() {
	recommendCmd.Flags().StringVar(&recommendBid, "bid", "", "Match the lanes of this bid")
	recommendCmd.Flags().StringSliceVar(&recommendLanes, "lane", nil, "Lane ids to match (defaults to every active lane)")
	recommendCmd.Flags().IntVar(&recommendMaxRoutes, "max-routes", 0, "Keep at most this many matches")
	recommendCmd.MarkFlagsMutuallyExclusive("bid", "lane")
}
