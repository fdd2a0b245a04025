package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shelfscout/backend/internal/domain"
)

// stubQuoteSource returns a canned quote set and counts calls
type stubQuoteSource struct {
	set   domain.QuoteSet
	calls int
}

func (s *stubQuoteSource) Collect(ctx context.Context, product domain.Product) domain.QuoteSet {
	s.calls++
	set := s.set
	set.Product = product.Name
	return set
}

func TestPricingService_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns error result for blank product name", func(t *testing.T) {
		source := &stubQuoteSource{}
		svc := NewPricingService(source, NewOptimizer(&memoryHistory{}, OptimizerConfig{Now: fixedClock}))

		r := svc.Evaluate(ctx, domain.Product{Name: "  "})
		if !errors.Is(r.Err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", r.Err)
		}
		if source.calls != 0 {
			t.Errorf("expected no quote collection, got %d calls", source.calls)
		}
	})

	t.Run("collects, optimizes and records history", func(t *testing.T) {
		history := &memoryHistory{}
		source := &stubQuoteSource{set: quoteSet("", notFound("A"), regular("B", "1.20"), notFound("C"))}
		svc := NewPricingService(source, NewOptimizer(history, OptimizerConfig{Now: fixedClock}))

		r := svc.Evaluate(ctx, coke)

		if r.Failed() || r.BestRetailer != "B" || !r.Savings.Equal(dec("0.30")) {
			t.Errorf("unexpected result: %+v", r)
		}
		if history.count() != 1 {
			t.Errorf("expected 1 history record, got %d", history.count())
		}
	})

	t.Run("end to end with the matcher and collector", func(t *testing.T) {
		fetcher := newFakeFetcher().
			add("Tesco", ferrero, domain.Listing{Label: "Raffaello 230g", RegularPrice: price("4.50")}).
			add("Aldi", ferrero, domain.Listing{Label: "Moser Roth pralines", RegularPrice: price("2.99")}).
			add("Lidl", "Ferrero Pralines", domain.Listing{Label: "Ferrero Raffaello", RegularPrice: price("3.80"), Image: "lidl.png"})
		matcher := NewMatchingService(MatchConfig{
			Fetcher:       fetcher,
			TextComparer:  &fakeTextComparer{accept: map[string]bool{"Raffaello 230g": true}},
			ImageComparer: &fakeImageComparer{accept: map[domain.ImageHandle]bool{"lidl.png": true}},
			Now:           fixedClock,
		})
		limiter, _ := NewRateLimiter(RateLimiterConfig{MaxConcurrent: 2})
		collector := NewQuoteCollector(matcher, limiter, []string{"Tesco", "Aldi", "Lidl"})
		svc := NewPricingService(collector, NewOptimizer(&memoryHistory{}, OptimizerConfig{Now: fixedClock}))
		product := domain.Product{Name: ferrero, CurrentRetailer: "Tesco", CurrentRegularPrice: price("4.75"), ReferenceImage: "ref.png"}

		r := svc.Evaluate(ctx, product)

		if r.Quotes.Len() != 3 {
			t.Fatalf("expected 3 quotes, got %d", r.Quotes.Len())
		}
		lidl, _ := r.Quotes.Get("Lidl")
		if lidl.Method != domain.MatchVisualFallback {
			t.Errorf("expected Lidl visual fallback, got %s", lidl.Method)
		}
		aldi, _ := r.Quotes.Get("Aldi")
		if aldi.Found() {
			t.Errorf("expected Aldi not found, got %+v", aldi)
		}
		if r.BestRetailer != "Lidl" || !r.ReferencePrice.Equal(dec("4.50")) || !r.Savings.Equal(dec("0.70")) {
			t.Errorf("expected Lidl saving 0.70 against 4.50, got %s saving %s against %s",
				r.BestRetailer, r.Savings, r.ReferencePrice)
		}
	})
}
