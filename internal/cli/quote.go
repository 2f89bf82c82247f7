package cli

import (
	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var (
	quoteBase         string
	quoteFuelPrice    string
	quoteRegion       string
	quoteCurrency     string
	quoteAsOf         string
	quoteEquipment    string
	quoteAccessorials []string
	quoteFallback     string
	quoteBidID        string
	quoteLaneID       string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a freight amount with the fuel surcharge and accessorials",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := app.QuoteInput{
			BaseFreight:  quoteBase,
			FuelPrice:    quoteFuelPrice,
			Region:       quoteRegion,
			Currency:     quoteCurrency,
			Equipment:    quoteEquipment,
			Accessorials: quoteAccessorials,
			Fallback:     quoteFallback,
			BidID:        quoteBidID,
			LaneID:       quoteLaneID,
		}
		if quoteAsOf != "" {
			asOf, err := parseTime("as-of", quoteAsOf)
			if err != nil {
				return err
			}
			in.AsOf = asOf
		}

		quote, err := getApp().Quote(cmd.Context(), in)
		if err != nil {
			return err
		}
		getApp().PrintQuote(quote)
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteBase, "base", "", "Base freight amount")
	quoteCmd.Flags().StringVar(&quoteFuelPrice, "fuel-price", "", "Fuel price (defaults to the latest recorded sample)")
	quoteCmd.Flags().StringVar(&quoteRegion, "region", "", "Rate card region (defaults to config)")
	quoteCmd.Flags().StringVar(&quoteCurrency, "currency", "", "Rate card currency (defaults to config)")
	quoteCmd.Flags().StringVar(&quoteAsOf, "as-of", "", "Pricing date (defaults to now)")
	quoteCmd.Flags().StringVar(&quoteEquipment, "equipment", "", "Equipment type for accessorial eligibility")
	quoteCmd.Flags().StringSliceVar(&quoteAccessorials, "accessorial", nil, "Accessorial usage as CODE=QTY or CODE=QTY@RATE (repeatable)")
	quoteCmd.Flags().StringVar(&quoteFallback, "fallback", "", "none, zero or nearest when the fuel price is outside every slab")
	quoteCmd.Flags().StringVar(&quoteBidID, "bid", "", "Bid recorded on the calculation")
	quoteCmd.Flags().StringVar(&quoteLaneID, "lane", "", "Lane recorded on the calculation")
	_ = quoteCmd.MarkFlagRequired("base")
}
