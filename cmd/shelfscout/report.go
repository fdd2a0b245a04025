package main

import (
	"fmt"
	"io"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) string {
	return "£" + d.StringFixed(2)
}

// printReport writes a human-readable run summary
func printReport(w io.Writer, report *domain.RunReport) {
	s := report.Summary

	fmt.Fprintf(w, "Run %s: %d evaluated, %d failed, %d batch(es)", report.ID, s.Evaluated, s.Failed, report.Batches)
	if report.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total potential savings: %s\n", money(s.TotalSavings))

	if s.TopSwitch != nil {
		fmt.Fprintf(w, "Top switch: %s from %s to %s saves %s\n",
			s.TopSwitch.Product, s.TopSwitch.CurrentRetailer, s.TopSwitch.BestRetailer, money(s.TopSwitch.Savings))
	}

	if len(s.Opportunities) > 0 {
		fmt.Fprintln(w, "\nOpportunities:")
		for _, r := range s.Opportunities {
			fmt.Fprintf(w, "  %s: %s -> %s at %s (%s), saves %s\n",
				r.Product, r.CurrentRetailer, r.BestRetailer, money(r.BestPrice), r.BestPriceType, money(r.Savings))
			if r.Warning != nil {
				fmt.Fprintf(w, "    lowest ever was %s at %s on %s\n", money(r.Warning.Price), r.Warning.Retailer, r.Warning.Date)
			}
		}
	}

	if s.Failed > 0 {
		fmt.Fprintln(w, "\nCould not evaluate:")
		for _, r := range report.Results {
			if r.Failed() {
				fmt.Fprintf(w, "  %s: %s\n", r.Product, r.FailureReason)
			}
		}
	}
}

func printLowest(w io.Writer, product string, priceType domain.PriceType, low domain.HistoricalPrice, found bool) {
	if !found {
		fmt.Fprintf(w, "No %s price recorded for %s\n", priceType, product)
		return
	}
	fmt.Fprintf(w, "%s: lowest %s price %s at %s on %s\n", product, priceType, money(low.Price), low.Retailer, low.Date)
}
