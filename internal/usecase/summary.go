package usecase

import (
	"sort"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// Summarize aggregates a run: total savings over recommended switches, the largest switch,
// and how many products failed
func Summarize(results []domain.OptimizationResult) domain.Summary {
	summary := domain.Summary{
		TotalSavings:  decimal.Zero,
		Opportunities: []domain.OptimizationResult{},
	}

	for _, r := range results {
		if r.Failed() {
			summary.Failed++
			continue
		}
		summary.Evaluated++
		if r.SwitchRecommended {
			summary.Opportunities = append(summary.Opportunities, r)
			summary.TotalSavings = summary.TotalSavings.Add(r.Savings)
		}
	}

	sort.SliceStable(summary.Opportunities, func(i, j int) bool {
		return summary.Opportunities[i].Savings.GreaterThan(summary.Opportunities[j].Savings)
	})

	if len(summary.Opportunities) > 0 {
		top := summary.Opportunities[0]
		summary.TopSwitch = &top
	}

	return summary
}
