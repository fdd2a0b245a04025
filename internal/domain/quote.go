package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchMethod records which matching stage produced a quote
type MatchMethod string

const (
	MatchExactText      MatchMethod = "exact-text"
	MatchVisualFallback MatchMethod = "visual-fallback"
	MatchNone           MatchMethod = "none"
)

// PriceType distinguishes the shelf price from the loyalty-card price
type PriceType string

const (
	PriceRegular    PriceType = "regular"
	PriceMembership PriceType = "membership"
)

// ParsePriceType accepts "regular" or "membership" in any case
func ParsePriceType(s string) (PriceType, bool) {
	switch PriceType(strings.ToLower(strings.TrimSpace(s))) {
	case PriceRegular:
		return PriceRegular, true
	case PriceMembership:
		return PriceMembership, true
	}
	return "", false
}

// RetailerQuote is one retailer's answer for a product. A quote without any price means "not found".
type RetailerQuote struct {
	Retailer        string              `json:"retailer"`
	RegularPrice    decimal.NullDecimal `json:"regularPrice"`
	MembershipPrice decimal.NullDecimal `json:"membershipPrice"`
	Method          MatchMethod         `json:"method"`
	Label           string              `json:"label,omitempty"`
	FetchedAt       time.Time           `json:"fetchedAt"`
}

// NotFoundQuote builds the price-less entry used when a retailer could not be matched
func NotFoundQuote(retailer string, at time.Time) RetailerQuote {
	return RetailerQuote{Retailer: retailer, Method: MatchNone, FetchedAt: at}
}

// Found reports whether the quote carries at least one price
func (q RetailerQuote) Found() bool {
	return q.RegularPrice.Valid || q.MembershipPrice.Valid
}

// Best returns min(regular, membership) over the prices present
func (q RetailerQuote) Best() (decimal.Decimal, PriceType, bool) {
	switch {
	case q.RegularPrice.Valid && q.MembershipPrice.Valid:
		if q.MembershipPrice.Decimal.LessThan(q.RegularPrice.Decimal) {
			return q.MembershipPrice.Decimal, PriceMembership, true
		}
		return q.RegularPrice.Decimal, PriceRegular, true
	case q.RegularPrice.Valid:
		return q.RegularPrice.Decimal, PriceRegular, true
	case q.MembershipPrice.Valid:
		return q.MembershipPrice.Decimal, PriceMembership, true
	}
	return decimal.Zero, "", false
}

// Price returns the price of the given type if present
func (q RetailerQuote) Price(t PriceType) (decimal.Decimal, bool) {
	if t == PriceMembership {
		return q.MembershipPrice.Decimal, q.MembershipPrice.Valid
	}
	return q.RegularPrice.Decimal, q.RegularPrice.Valid
}

// QuoteSet holds exactly one quote per configured retailer, in configured retailer order
type QuoteSet struct {
	Product string          `json:"product"`
	Quotes  []RetailerQuote `json:"quotes"`
}

// Get returns the quote for a retailer
func (s QuoteSet) Get(retailer string) (RetailerQuote, bool) {
	for _, q := range s.Quotes {
		if q.Retailer == retailer {
			return q, true
		}
	}
	return RetailerQuote{}, false
}

// Len returns the number of retailer entries
func (s QuoteSet) Len() int {
	return len(s.Quotes)
}

// Found returns how many retailers returned a price
func (s QuoteSet) Found() int {
	n := 0
	for _, q := range s.Quotes {
		if q.Found() {
			n++
		}
	}
	return n
}
