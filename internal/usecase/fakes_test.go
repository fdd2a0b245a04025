package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shopspring/decimal"
)

var errFakeLookup = errors.New("fake lookup failure")

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeFetcher serves canned listings keyed by retailer and query
type fakeFetcher struct {
	mu       sync.Mutex
	listings map[string][]domain.Listing
	errs     map[string]error // keyed by retailer
	delay    time.Duration
	queries  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{listings: map[string][]domain.Listing{}, errs: map[string]error{}}
}

func (f *fakeFetcher) add(retailer, query string, listings ...domain.Listing) *fakeFetcher {
	f.listings[retailer+"|"+query] = append(f.listings[retailer+"|"+query], listings...)
	return f
}

func (f *fakeFetcher) Search(ctx context.Context, retailer, query string) ([]domain.Listing, error) {
	f.mu.Lock()
	f.queries = append(f.queries, retailer+"|"+query)
	err := f.errs[retailer]
	listings := f.listings[retailer+"|"+query]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func (f *fakeFetcher) searched(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queries {
		if q == key {
			return true
		}
	}
	return false
}

// fakeTextComparer accepts labels listed in accept and fails on labels listed in fail
type fakeTextComparer struct {
	accept map[string]bool
	fail   map[string]bool
}

func (f *fakeTextComparer) Matches(ctx context.Context, productName, listingLabel string) (bool, error) {
	if f.fail[listingLabel] {
		return false, errFakeLookup
	}
	return f.accept[listingLabel], nil
}

// fakeImageComparer accepts listing images listed in accept
type fakeImageComparer struct {
	accept map[domain.ImageHandle]bool
	fail   map[domain.ImageHandle]bool
}

func (f *fakeImageComparer) CropAndCompare(ctx context.Context, listingImage, referenceImage domain.ImageHandle) (bool, error) {
	if f.fail[listingImage] {
		return false, errFakeLookup
	}
	return f.accept[listingImage], nil
}

// memoryHistory is an in-memory HistoryStore
type memoryHistory struct {
	mu        sync.Mutex
	records   []domain.HistoricalPrice
	recordErr error
	lookupErr error
}

func (h *memoryHistory) Record(ctx context.Context, retailer, product string, priceType domain.PriceType, date string, p decimal.Decimal) error {
	if h.recordErr != nil {
		return h.recordErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.records {
		if r.Retailer == retailer && r.Product == product && r.PriceType == priceType && r.Date == date {
			h.records[i].Price = p
			return nil
		}
	}
	h.records = append(h.records, domain.HistoricalPrice{
		Retailer: retailer, Product: product, PriceType: priceType, Date: date, Price: p,
	})
	return nil
}

func (h *memoryHistory) LowestEver(ctx context.Context, retailer, product string, priceType domain.PriceType) (domain.HistoricalPrice, bool, error) {
	return h.lowest(func(r domain.HistoricalPrice) bool {
		return r.Retailer == retailer && r.Product == product && r.PriceType == priceType
	})
}

func (h *memoryHistory) LowestEverAcrossRetailers(ctx context.Context, product string, priceType domain.PriceType) (domain.HistoricalPrice, bool, error) {
	return h.lowest(func(r domain.HistoricalPrice) bool {
		return r.Product == product && r.PriceType == priceType
	})
}

func (h *memoryHistory) lowest(keep func(domain.HistoricalPrice) bool) (domain.HistoricalPrice, bool, error) {
	if h.lookupErr != nil {
		return domain.HistoricalPrice{}, false, h.lookupErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var best domain.HistoricalPrice
	found := false
	for _, r := range h.records {
		if keep(r) && (!found || r.Price.LessThan(best.Price)) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (h *memoryHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
