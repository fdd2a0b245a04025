package usecase

import (
	"context"
	"strings"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

// QuoteSource collects one product's quotes from every retailer
type QuoteSource interface {
	Collect(ctx context.Context, product domain.Product) domain.QuoteSet
}

// PricingService runs one product's full pipeline: collect quotes, optimize, record history
type PricingService struct {
	quotes    QuoteSource
	optimizer *Optimizer
}

// NewPricingService creates a new pricing service with dependencies
func NewPricingService(quotes QuoteSource, optimizer *Optimizer) *PricingService {
	return &PricingService{
		quotes:    quotes,
		optimizer: optimizer,
	}
}

// Evaluate prices a product across all retailers. A product whose collection is cut short by
// cancellation fails with domain.ErrCancelled and writes no history.
// Flow: validate -> collect quotes -> optimize (reads and writes history) -> return
func (s *PricingService) Evaluate(ctx context.Context, product domain.Product) domain.OptimizationResult {
	if strings.TrimSpace(product.Name) == "" {
		return domain.FailedResult(product, domain.QuoteSet{}, domain.ErrInvalidRequest)
	}

	logger := logging.From(ctx).With("product", product.Name)

	quotes := s.quotes.Collect(ctx, product)
	if err := ctx.Err(); err != nil {
		// retailers denied a slot by cancellation carry no answer; the product is abandoned, not priced
		logger.Warn("[PRICE] cancelled while collecting quotes", "found", quotes.Found(), "retailers", quotes.Len())
		return domain.FailedResult(product, quotes, domain.ErrCancelled)
	}
	logger.Info("[PRICE] quotes collected", "found", quotes.Found(), "retailers", quotes.Len())

	result := s.optimizer.Optimize(ctx, product, quotes)
	switch {
	case result.Failed():
		logger.Warn("[PRICE] could not evaluate", "reason", result.FailureReason)
	case result.SwitchRecommended:
		logger.Info("[PRICE] switch recommended",
			"from", result.CurrentRetailer, "to", result.BestRetailer,
			"best", result.BestPrice.StringFixed(2), "savings", result.Savings.StringFixed(2))
	default:
		logger.Info("[PRICE] no cheaper retailer", "best", result.BestRetailer)
	}
	if result.Warning != nil {
		logger.Warn("[PRICE] cheaper price seen before",
			"price", result.Warning.Price.StringFixed(2), "retailer", result.Warning.Retailer, "date", result.Warning.Date)
	}

	return result
}
