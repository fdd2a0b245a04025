package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// StorefrontFetcher searches a retailer's storefront. Failure means the fetch itself failed.
type StorefrontFetcher interface {
	Search(ctx context.Context, retailer, query string) ([]Listing, error)
}

// TextComparer decides whether a listing label names the same product (brand, type and quantity agree)
type TextComparer interface {
	Matches(ctx context.Context, productName, listingLabel string) (bool, error)
}

// ImageComparer decides whether a listing image shows the same product as the reference image
type ImageComparer interface {
	CropAndCompare(ctx context.Context, listingImage, referenceImage ImageHandle) (bool, error)
}

// HistoryReader answers lowest-ever queries against the price archive
type HistoryReader interface {
	LowestEver(ctx context.Context, retailer, product string, priceType PriceType) (HistoricalPrice, bool, error)
	LowestEverAcrossRetailers(ctx context.Context, product string, priceType PriceType) (HistoricalPrice, bool, error)
}

// HistoryStore is the append-friendly, date-indexed price archive
type HistoryStore interface {
	HistoryReader
	Record(ctx context.Context, retailer, product string, priceType PriceType, date string, price decimal.Decimal) error
}

// BasketSource loads the products for a run
type BasketSource interface {
	LoadProducts(ctx context.Context) ([]Product, error)
}
