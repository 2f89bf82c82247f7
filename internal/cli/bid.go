package cli

import (
	"context"

	"github.com/spf13/cobra"

	"freight-procurement/internal/lifecycle"
)

var bidCmd = &cobra.Command{
	Use:   "bid",
	Short: "Move bids through their lifecycle",
}

func bidTransitionCmd(use, short string, fn func(ctx context.Context, bidID, actor string) (lifecycle.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " BID_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := fn(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			getApp().PrintOutcome(out)
			return nil
		},
	}
}

var bidRankCmd = &cobra.Command{
	Use:   "rank BID_ID",
	Short: "Rank the pending responses of a bid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ranked, err := getApp().RankBid(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		getApp().PrintRanking(ranked)
		return nil
	},
}

var bidShowCmd = &cobra.Command{
	Use:   "show BID_ID",
	Short: "Show a bid with its lanes, responses and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := getApp().GetBid(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		getApp().PrintBid(details)
		return nil
	},
}

func init() {
	// getApp is resolved at run time, after PersistentPreRunE.
	bidCmd.AddCommand(
		bidTransitionCmd("publish", "Publish a draft bid", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().PublishBid(ctx, id, who)
		}),
		bidTransitionCmd("open", "Open a published bid for responses", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().OpenBid(ctx, id, who)
		}),
		bidTransitionCmd("close", "Stop accepting responses", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().CloseBid(ctx, id, who)
		}),
		bidTransitionCmd("cancel", "Cancel a bid and withdraw its pending responses", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().CancelBid(ctx, id, who)
		}),
		bidRankCmd,
		bidShowCmd,
	)
}
