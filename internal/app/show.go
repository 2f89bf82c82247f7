package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/scoring"
	"freight-procurement/internal/storage"
)

// Show prints recent fuel samples, calculations, slab alerts, bids or one bid in detail.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	switch {
	case opts.BidID != "":
		details, err := loadBidDetails(ctx, store, opts.BidID)
		if err != nil {
			return err
		}
		a.PrintBid(details)
		return nil
	case opts.Bids:
		bids, err := store.ListBids(ctx, nil, opts.Limit)
		if err != nil {
			return err
		}
		a.printBids(bids)
		return nil
	case opts.Calculations:
		calcs, err := store.ListCalculations(ctx, storage.CalculationFilter{Limit: opts.Limit})
		if err != nil {
			return err
		}
		a.printCalculations(calcs)
		return nil
	case opts.Alerts:
		alerts, err := store.ListRecentSlabAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		a.printAlerts(alerts)
		return nil
	}

	samples, err := store.ListRecentFuelSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tRegion\tCurrency\tPrice\tSource\tOfficial")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%t\n",
			sample.Date.UTC().Format(time.DateOnly),
			sample.Region,
			sample.Currency,
			formatDecimal(sample.Price, 2),
			sanitizeInline(sample.Source),
			sample.Official,
		)
	}
	return writer.Flush()
}

func (a *App) printBids(bids []procurement.Bid) {
	if len(bids) == 0 {
		fmt.Fprintln(a.out, "no bids found")
		return
	}
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tStatus\tLanes\tDeadline (UTC)\tVersion")
	for _, bid := range bids {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%d\n",
			bid.ID,
			sanitizeInline(bid.Name),
			bid.Status,
			len(bid.LaneIDs),
			bid.SubmissionDeadline.UTC().Format(time.RFC3339),
			bid.Version,
		)
	}
	writer.Flush()
}

// PrintBid writes a bid, its responses and its audit trail.
func (a *App) PrintBid(d BidDetails) {
	bid := d.Bid
	fmt.Fprintf(a.out, "Bid %s (%s)\n", bid.ID, sanitizeInline(bid.Name))
	fmt.Fprintf(a.out, "Status: %s  Version: %d  Deadline: %s\n", bid.Status, bid.Version, bid.SubmissionDeadline.UTC().Format(time.RFC3339))
	if bid.Budget.Valid {
		fmt.Fprintf(a.out, "Budget: %s %s\n", formatDecimal(bid.Budget.Decimal, 2), bid.Currency)
	}
	if bid.AwardedResponseID != nil {
		fmt.Fprintf(a.out, "Awarded to response %s by %s\n", *bid.AwardedResponseID, deref(bid.AwardedBy))
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	if len(d.Lanes) > 0 {
		fmt.Fprintln(writer, "\nLane\tOrigin\tDestination\tType\tStatus")
		for _, lane := range d.Lanes {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", lane.ID, lane.Origin, lane.Destination, lane.LaneType, lane.Status)
		}
	}
	if len(d.Responses) > 0 {
		fmt.Fprintln(writer, "\nResponse\tCarrier\tRate\tType\tStatus\tVersion")
		for _, r := range d.Responses {
			fmt.Fprintf(writer, "%s\t%s\t%s %s\t%s\t%s\t%d\n", r.ID, r.CarrierID, formatDecimal(r.Rate, 2), r.Currency, r.RateType, r.Status, r.Version)
		}
	}
	if len(d.Events) > 0 {
		fmt.Fprintln(writer, "\nAt (UTC)\tEvent\tFrom\tTo\tActor")
		for _, e := range d.Events {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", e.At.UTC().Format(time.RFC3339), e.Kind, e.From, e.To, e.Actor)
		}
	}
	writer.Flush()
}

// PrintOutcome writes the state left by a transition.
func (a *App) PrintOutcome(out lifecycle.Outcome) {
	fmt.Fprintf(a.out, "bid %s: %s (version %d)\n", out.Bid.ID, out.Bid.Status, out.Bid.Version)
	for _, r := range out.Responses {
		fmt.Fprintf(a.out, "  response %s (%s): %s\n", r.ID, r.CarrierID, r.Status)
	}
	if out.Quote != nil {
		a.PrintQuote(*out.Quote)
	}
}

// PrintQuote writes a priced quote.
func (a *App) PrintQuote(q pricing.Quote) {
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Base freight\t%s %s\n", formatDecimal(q.BaseFreight, 2), q.Currency)
	fmt.Fprintf(writer, "Fuel price\t%s (%s)\n", formatDecimal(q.FuelPrice, 2), q.Region)
	fmt.Fprintf(writer, "Slab\t%s (%s)\n", slabLabel(q.SlabID), q.Method)
	fmt.Fprintf(writer, "Surcharge\t%s%% = %s\n", formatDecimal(q.SurchargePercent, 4), formatDecimal(q.SurchargeAmount, 2))
	for _, c := range q.Charges {
		fmt.Fprintf(writer, "  %s\t%s x %s = %s\n", c.Code, c.Quantity, formatDecimal(c.Rate, 2), formatDecimal(c.Amount, 2))
	}
	fmt.Fprintf(writer, "Accessorials\t%s\n", formatDecimal(q.AccessorialTotal, 2))
	fmt.Fprintf(writer, "Total\t%s %s\n", formatDecimal(q.Total, 2), q.Currency)
	if q.Recorded {
		fmt.Fprintf(writer, "Calculation\t#%d\n", q.CalculationID)
	}
	writer.Flush()
}

// PrintRanking writes ranked responses, best first.
func (a *App) PrintRanking(ranked []scoring.RankedResponse) {
	if len(ranked) == 0 {
		fmt.Fprintln(a.out, "no pending responses")
		return
	}
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tResponse\tCarrier\tScore\tRate\tEligible")
	for i, r := range ranked {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%t\n", i+1, r.ResponseID, r.CarrierID, formatDecimal(r.Score, 2), formatDecimal(r.Rate, 2), r.Eligible)
	}
	writer.Flush()
}

// PrintRecommendation writes lane-carrier matches.
func (a *App) PrintRecommendation(rec scoring.Recommendation) {
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Lane\tCarrier\tScore")
	for _, m := range rec.Matches {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", m.LaneID, m.CarrierID, formatDecimal(m.Score, 2))
	}
	writer.Flush()
	if len(rec.Unmatched) > 0 {
		fmt.Fprintf(a.out, "unmatched: %s\n", strings.Join(rec.Unmatched, ", "))
	}
}

func (a *App) printCalculations(calcs []pricing.Calculation) {
	if len(calcs) == 0 {
		fmt.Fprintln(a.out, "no calculations found")
		return
	}
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCalculated (UTC)\tRegion\tBase\tFuel\tSlab\tSurcharge%\tTotal\tBid")
	for _, c := range calcs {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s %s\t%s\n",
			c.ID,
			c.CalculatedAt.UTC().Format(time.RFC3339),
			c.Region,
			formatDecimal(c.BaseFreight, 2),
			formatDecimal(c.FuelPrice, 2),
			slabLabel(c.SlabID),
			formatDecimal(c.SurchargePercent, 4),
			formatDecimal(c.Total, 2),
			c.Currency,
			c.Reference.BidID,
		)
	}
	writer.Flush()
}

func (a *App) printAlerts(alerts []storage.SlabAlert) {
	if len(alerts) == 0 {
		fmt.Fprintln(a.out, "no slab alerts found")
		return
	}
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tRegion\tFuel\tSlab\tSurcharge%\tChannels")
	for _, al := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s -> %s\t%s -> %s\t%s\n",
			al.SampleDate.UTC().Format(time.DateOnly),
			al.Region,
			formatDecimal(al.FuelPrice, 2),
			slabLabel(al.PreviousSlabID),
			slabLabel(al.SlabID),
			percentCell(al.PreviousPercent),
			percentCell(al.Percent),
			strings.Join(al.Channels, ","),
		)
	}
	writer.Flush()
}

func slabLabel(id *int64) string {
	if id == nil {
		return "none"
	}
	return fmt.Sprintf("#%d", *id)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
