package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
	"freight-procurement/internal/lifecycle"
)

var responseCmd = &cobra.Command{
	Use:   "response",
	Short: "Submit and decide carrier responses",
}

var (
	submitRate      string
	submitRateType  string
	submitCurrency  string
	submitTransit   int
	submitEquipment []string
	submitNotes     string
)

var responseSubmitCmd = &cobra.Command{
	Use:   "submit BID_ID CARRIER_ID",
	Short: "Submit a carrier proposal on an open bid",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := getApp().SubmitResponse(cmd.Context(), app.SubmitInput{
			BidID:            args[0],
			CarrierID:        args[1],
			Rate:             submitRate,
			RateType:         submitRateType,
			Currency:         submitCurrency,
			TransitTimeHours: submitTransit,
			Equipment:        submitEquipment,
			Notes:            submitNotes,
			Actor:            actor,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "response %s: %s\n", resp.ID, resp.Status)
		return nil
	},
}

var (
	acceptPrice        bool
	acceptFuelPrice    string
	acceptBaseFreight  string
	acceptRegion       string
	acceptCurrency     string
	acceptAsOf         string
	acceptEquipment    string
	acceptAccessorials []string
	acceptFallback     string
)

var responseAcceptCmd = &cobra.Command{
	Use:   "accept RESPONSE_ID",
	Short: "Award the bid to a response and reject the others",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := app.AcceptInput{
			ResponseID:   args[0],
			Actor:        actor,
			Price:        acceptPrice,
			FuelPrice:    acceptFuelPrice,
			BaseFreight:  acceptBaseFreight,
			Region:       acceptRegion,
			Currency:     acceptCurrency,
			Equipment:    acceptEquipment,
			Accessorials: acceptAccessorials,
			Fallback:     acceptFallback,
		}
		if acceptAsOf != "" {
			asOf, err := parseTime("as-of", acceptAsOf)
			if err != nil {
				return err
			}
			in.AsOf = asOf
		}

		out, err := getApp().AcceptResponse(cmd.Context(), in)
		if err != nil {
			return err
		}
		getApp().PrintOutcome(out)
		return nil
	},
}

func responseTransitionCmd(use, short string, fn func(ctx context.Context, responseID, actor string) (lifecycle.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " RESPONSE_ID",
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

func init() {
	responseSubmitCmd.Flags().StringVar(&submitRate, "rate", "", "Proposed rate")
	responseSubmitCmd.Flags().StringVar(&submitRateType, "rate-type", "per_load", "per_mile, per_load, per_pound, per_ton or flat_rate")
	responseSubmitCmd.Flags().StringVar(&submitCurrency, "currency", "", "Rate currency (defaults to the bid currency)")
	responseSubmitCmd.Flags().IntVar(&submitTransit, "transit-hours", 0, "Committed transit time in hours")
	responseSubmitCmd.Flags().StringSliceVar(&submitEquipment, "equipment", nil, "Available equipment types")
	responseSubmitCmd.Flags().StringVar(&submitNotes, "notes", "", "Free-form notes")
	_ = responseSubmitCmd.MarkFlagRequired("rate")

	responseAcceptCmd.Flags().BoolVar(&acceptPrice, "price", false, "Price the award with the fuel surcharge before committing it")
	responseAcceptCmd.Flags().StringVar(&acceptFuelPrice, "fuel-price", "", "Fuel price used for the surcharge")
	responseAcceptCmd.Flags().StringVar(&acceptBaseFreight, "base-freight", "", "Base freight (defaults to the rate for per-load and flat rates)")
	responseAcceptCmd.Flags().StringVar(&acceptRegion, "region", "", "Rate card region (defaults to config)")
	responseAcceptCmd.Flags().StringVar(&acceptCurrency, "currency", "", "Rate card currency (defaults to the response currency)")
	responseAcceptCmd.Flags().StringVar(&acceptAsOf, "as-of", "", "Pricing date (defaults to now)")
	responseAcceptCmd.Flags().StringVar(&acceptEquipment, "equipment", "", "Equipment type for accessorial eligibility")
	responseAcceptCmd.Flags().StringSliceVar(&acceptAccessorials, "accessorial", nil, "Accessorial usage as CODE=QTY or CODE=QTY@RATE (repeatable)")
	responseAcceptCmd.Flags().StringVar(&acceptFallback, "fallback", "", "none, zero or nearest when the fuel price is outside every slab")

	responseCmd.AddCommand(
		responseSubmitCmd,
		responseTransitionCmd("review", "Mark a submitted response as under review", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().ReviewResponse(ctx, id, who)
		}),
		responseAcceptCmd,
		responseTransitionCmd("reject", "Reject a pending response", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().RejectResponse(ctx, id, who)
		}),
		responseTransitionCmd("withdraw", "Withdraw a pending response while the bid is open", func(ctx context.Context, id, who string) (lifecycle.Outcome, error) {
			return getApp().WithdrawResponse(ctx, id, who)
		}),
	)
}
