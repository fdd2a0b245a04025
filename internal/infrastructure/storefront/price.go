package storefront

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	poundAmount = regexp.MustCompile(`£\s*(\d+(?:\.\d{1,2})?)`)
	penceAmount = regexp.MustCompile(`\b(\d{1,3})\s*p\b`)
	bareAmount  = regexp.MustCompile(`\b(\d+\.\d{2})\b`)
)

// ParsePrice extracts the first item price from storefront text such as "£1.20",
// "Clubcard Price £1.00" or "85p". Unit prices like "£1.50/kg" are skipped.
func ParsePrice(text string) (decimal.Decimal, bool) {
	text = strings.ReplaceAll(text, ",", "")

	for _, re := range []*regexp.Regexp{poundAmount, penceAmount, bareAmount} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if isUnitPrice(text[m[1]:]) {
				continue
			}
			d, err := decimal.NewFromString(text[m[2]:m[3]])
			if err != nil || !d.IsPositive() {
				continue
			}
			if re == penceAmount {
				d = d.Shift(-2)
			}
			return d, true
		}
	}
	return decimal.Zero, false
}

func isUnitPrice(rest string) bool {
	rest = strings.ToLower(strings.TrimSpace(rest))
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "per ")
}
