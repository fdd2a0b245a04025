package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/shopspring/decimal"
)

// HistoryDateLayout is the date format of history columns
const HistoryDateLayout = "2006-01-02"

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	UseMembershipForCurrent bool
	Now                     func() time.Time
}

// Optimizer turns a product's quotes into a savings recommendation and is the only writer of price history
type Optimizer struct {
	history                 domain.HistoryStore
	useMembershipForCurrent bool
	now                     func() time.Time
}

// NewOptimizer creates a new optimizer
func NewOptimizer(history domain.HistoryStore, config OptimizerConfig) *Optimizer {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Optimizer{
		history:                 history,
		useMembershipForCurrent: config.UseMembershipForCurrent,
		now:                     now,
	}
}

// Optimize compares the quotes against the product's reference price and price history,
// then records every quoted price. A product without any reference price yields a failed result.
func (o *Optimizer) Optimize(ctx context.Context, product domain.Product, quotes domain.QuoteSet) domain.OptimizationResult {
	result := o.evaluate(ctx, product, quotes)
	o.record(ctx, product.Name, quotes)
	return result
}

func (o *Optimizer) evaluate(ctx context.Context, product domain.Product, quotes domain.QuoteSet) domain.OptimizationResult {
	refPrice, refType, ok := o.referencePrice(product, quotes)
	if !ok {
		return domain.FailedResult(product, quotes, domain.ErrNoReferencePrice)
	}

	result := domain.OptimizationResult{
		Product:            product.Name,
		CurrentRetailer:    product.CurrentRetailer,
		ReferencePrice:     refPrice,
		ReferencePriceType: refType,
		Quotes:             quotes,
	}

	bestRetailer, bestPrice, bestType, found := globalBest(quotes)
	if !found {
		// nothing priced anywhere: stay put
		result.BestRetailer = product.CurrentRetailer
		result.BestPrice = refPrice
		result.BestPriceType = refType
		result.Savings = decimal.Zero
		return result
	}

	result.BestRetailer = bestRetailer
	result.BestPrice = bestPrice
	result.BestPriceType = bestType

	result.Savings = decimal.Max(decimal.Zero, refPrice.Sub(bestPrice))
	result.SwitchRecommended = result.Savings.IsPositive() && !strings.EqualFold(bestRetailer, product.CurrentRetailer)

	low, ok, err := o.history.LowestEverAcrossRetailers(ctx, product.Name, refType)
	if err != nil {
		logging.From(ctx).Warn("[OPTIMIZE] history lookup failed", "product", product.Name, "error", err)
	} else if ok && low.Price.LessThan(bestPrice) {
		result.Warning = &domain.HistoricalLowWarning{
			Price:    low.Price,
			Retailer: low.Retailer,
			Date:     low.Date,
		}
	}

	return result
}

// referencePrice picks the price savings are measured against: the current retailer's fresh
// quote when it has one, else the stored current price. Membership is preferred only when configured.
func (o *Optimizer) referencePrice(product domain.Product, quotes domain.QuoteSet) (decimal.Decimal, domain.PriceType, bool) {
	for _, q := range quotes.Quotes {
		if !strings.EqualFold(q.Retailer, product.CurrentRetailer) || !q.Found() {
			continue
		}
		if p, t, ok := o.pick(q.RegularPrice, q.MembershipPrice); ok {
			return p, t, true
		}
	}
	return o.pick(product.CurrentRegularPrice, product.CurrentMembershipPrice)
}

func (o *Optimizer) pick(regular, membership decimal.NullDecimal) (decimal.Decimal, domain.PriceType, bool) {
	if o.useMembershipForCurrent && membership.Valid {
		return membership.Decimal, domain.PriceMembership, true
	}
	if regular.Valid {
		return regular.Decimal, domain.PriceRegular, true
	}
	return decimal.Zero, "", false
}

// globalBest scans quotes in configured order; the first retailer with the lowest price wins ties
func globalBest(quotes domain.QuoteSet) (string, decimal.Decimal, domain.PriceType, bool) {
	var (
		retailer  string
		best      decimal.Decimal
		priceType domain.PriceType
		found     bool
	)
	for _, q := range quotes.Quotes {
		p, t, ok := q.Best()
		if !ok {
			continue
		}
		if !found || p.LessThan(best) {
			retailer, best, priceType, found = q.Retailer, p, t, true
		}
	}
	return retailer, best, priceType, found
}

// record writes every price present in the quote set under today's date. Failures are logged;
// they never change the result.
func (o *Optimizer) record(ctx context.Context, productName string, quotes domain.QuoteSet) {
	date := o.now().Format(HistoryDateLayout)
	for _, q := range quotes.Quotes {
		for _, t := range []domain.PriceType{domain.PriceRegular, domain.PriceMembership} {
			p, ok := q.Price(t)
			if !ok {
				continue
			}
			if err := o.history.Record(ctx, q.Retailer, productName, t, date, p); err != nil {
				logging.From(ctx).Error("[OPTIMIZE] history write failed",
					"retailer", q.Retailer, "product", productName, "price_type", t, "error", err)
			}
		}
	}
}
