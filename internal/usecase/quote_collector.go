package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

// Matcher resolves one product at one retailer
type Matcher interface {
	Match(ctx context.Context, product domain.Product, retailer string) domain.RetailerQuote
}

// Limiter hands out lookup slots
type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

// QuoteCollector fans one product out to every configured retailer
type QuoteCollector struct {
	matcher   Matcher
	limiter   Limiter
	retailers []string
	now       func() time.Time
}

// NewQuoteCollector creates a collector bound to the run's shared limiter
func NewQuoteCollector(matcher Matcher, limiter Limiter, retailers []string) *QuoteCollector {
	return &QuoteCollector{
		matcher:   matcher,
		limiter:   limiter,
		retailers: retailers,
		now:       time.Now,
	}
}

// Collect matches the product at every retailer concurrently, each call holding a limiter
// slot. The returned set has exactly one entry per retailer in configured order; a
// retailer that could not be matched, or whose slot was never granted, gets a price-less entry.
func (c *QuoteCollector) Collect(ctx context.Context, product domain.Product) domain.QuoteSet {
	quotes := make([]domain.RetailerQuote, len(c.retailers))

	var wg sync.WaitGroup
	for i, retailer := range c.retailers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quotes[i] = c.quoteOne(ctx, product, retailer)
		}()
	}
	wg.Wait()

	return domain.QuoteSet{Product: product.Name, Quotes: quotes}
}

func (c *QuoteCollector) quoteOne(ctx context.Context, product domain.Product, retailer string) domain.RetailerQuote {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		logging.From(ctx).Warn("[COLLECT] no lookup slot", "product", product.Name, "retailer", retailer, "error", err)
		return domain.NotFoundQuote(retailer, c.now())
	}
	defer release()

	q := c.matcher.Match(ctx, product, retailer)
	q.Retailer = retailer
	return q
}
