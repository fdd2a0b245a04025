package domain

import "github.com/shopspring/decimal"

// ImageHandle is an opaque reference to a stored product image.
// The core passes it through to the comparison capability without interpreting it.
type ImageHandle string

// Product is one basket line. It is immutable once loaded for a run.
type Product struct {
	Name                   string              `json:"name"`
	CurrentRetailer        string              `json:"currentRetailer"`
	CurrentRegularPrice    decimal.NullDecimal `json:"currentRegularPrice"`
	CurrentMembershipPrice decimal.NullDecimal `json:"currentMembershipPrice"`
	ReferenceImage         ImageHandle         `json:"referenceImage,omitempty"`
}

// Listing is a single storefront search result
type Listing struct {
	Label           string              `json:"label"`
	RegularPrice    decimal.NullDecimal `json:"regularPrice"`
	MembershipPrice decimal.NullDecimal `json:"membershipPrice"`
	Image           ImageHandle         `json:"image,omitempty"`
}

// HasPrice reports whether the listing carries at least one price
func (l Listing) HasPrice() bool {
	return l.RegularPrice.Valid || l.MembershipPrice.Valid
}
