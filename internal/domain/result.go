package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoricalPrice is one archived observation
type HistoricalPrice struct {
	Retailer  string          `json:"retailer"`
	Product   string          `json:"product"`
	PriceType PriceType       `json:"priceType"`
	Date      string          `json:"date"`
	Price     decimal.Decimal `json:"price"`
}

// HistoricalLowWarning signals that a cheaper price than today's best was seen before
type HistoricalLowWarning struct {
	Price    decimal.Decimal `json:"price"`
	Retailer string          `json:"retailer"`
	Date     string          `json:"date"`
}

// OptimizationResult is the terminal outcome for one product in a run.
// A non-empty FailureReason marks a product that could not be evaluated.
type OptimizationResult struct {
	Product            string                `json:"product"`
	CurrentRetailer    string                `json:"currentRetailer"`
	BestRetailer       string                `json:"bestRetailer,omitempty"`
	BestPrice          decimal.Decimal       `json:"bestPrice"`
	BestPriceType      PriceType             `json:"bestPriceType,omitempty"`
	ReferencePrice     decimal.Decimal       `json:"referencePrice"`
	ReferencePriceType PriceType             `json:"referencePriceType,omitempty"`
	Savings            decimal.Decimal       `json:"savings"`
	SwitchRecommended  bool                  `json:"switchRecommended"`
	Warning            *HistoricalLowWarning `json:"warning,omitempty"`
	Quotes             QuoteSet              `json:"quotes"`
	FailureReason      string                `json:"failureReason,omitempty"`
	Err                error                 `json:"-"`
}

// Failed reports whether the product could not be evaluated
func (r OptimizationResult) Failed() bool {
	return r.Err != nil
}

// FailedResult builds the "could not evaluate" marker for a product
func FailedResult(p Product, quotes QuoteSet, err error) OptimizationResult {
	return OptimizationResult{
		Product:         p.Name,
		CurrentRetailer: p.CurrentRetailer,
		Quotes:          quotes,
		FailureReason:   err.Error(),
		Err:             err,
	}
}

// Summary aggregates a run's results
type Summary struct {
	TotalSavings  decimal.Decimal      `json:"totalSavings"`
	TopSwitch     *OptimizationResult  `json:"topSwitch,omitempty"`
	Opportunities []OptimizationResult `json:"opportunities"`
	Evaluated     int                  `json:"evaluated"`
	Failed        int                  `json:"failed"`
}

// RunReport is the outcome of one full basket run
type RunReport struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Batches    int                  `json:"batches"`
	Results    []OptimizationResult `json:"results"`
	Summary    Summary              `json:"summary"`
	Cancelled  bool                 `json:"cancelled"`
}
