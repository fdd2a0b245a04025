package usecase

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shelfscout/backend/internal/logging"
)

// QueryPreprocessor reduces a full product name to a broad storefront query
type QueryPreprocessor struct {
	enableDebugLogging bool
}

// Compiled regex patterns for query preprocessing
var (
	// Matches multipack sizes like "4 x 250ml" or "6x330"
	multipackPattern = regexp.MustCompile(`\b\d+\s*x\s*\d+(?:\.\d+)?\s*(?:g|kg|ml|cl|l|oz|lb)?s?\b`)

	// Matches weights and volumes like "230G", "1.5l", "500 ml"
	sizeQuantityPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:g|kg|ml|cl|l|oz|lb)s?\b`)

	// Matches pack counts like "4 pack" or "12pk"
	packCountPattern = regexp.MustCompile(`\b\d+\s*(?:pack|pk)s?\b`)

	// Matches percentages like "70%"
	percentPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s*%`)

	// Anything but letters (accented included), digits and spaces
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// queryStopWords never help a storefront search narrow down a product
var queryStopWords = map[string]bool{
	"pack": true, "multipack": true, "box": true, "packet": true, "bag": true,
	"gluten": true, "free": true, "organic": true, "natural": true,
	"fresh": true, "frozen": true, "chilled": true,
	"x": true, "of": true, "the": true, "and": true,
}

// productTypeWords are the nouns that identify what a product is, independent of brand and variant
var productTypeWords = map[string]bool{
	"biscuit": true, "biscuits": true, "cookie": true, "cookies": true,
	"chocolate": true, "bar": true, "bars": true,
	"praline": true, "pralines": true,
	"wafer": true, "wafers": true,
	"cake": true, "cakes": true,
	"cereal": true, "oat": true, "oats": true,
	"milk": true, "cheese": true, "yogurt": true, "butter": true,
	"bread": true, "roll": true, "rolls": true,
	"chip": true, "chips": true, "crisp": true, "crisps": true,
	"cola": true, "juice": true, "water": true, "coffee": true, "tea": true,
}

// NewQueryPreprocessor creates a new query preprocessor
func NewQueryPreprocessor(enableDebugLogging bool) *QueryPreprocessor {
	return &QueryPreprocessor{
		enableDebugLogging: enableDebugLogging,
	}
}

// BroadenQuery keeps the brand and the core product noun of a product name, dropping
// sizes, pack counts and variant detail.
// "Ferrero Raffaello Coconut & Almond Pralines 230G" becomes "Ferrero Pralines".
// A name with nothing left after cleaning is returned unchanged.
func (p *QueryPreprocessor) BroadenQuery(ctx context.Context, productName string) string {
	words := significantWords(productName)
	if len(words) == 0 {
		return productName
	}

	result := []string{words[0]}
	for _, w := range words[1:] {
		if productTypeWords[w] {
			result = append(result, w)
			break
		}
	}
	if len(result) == 1 && len(words) > 1 {
		result = append(result, words[1])
	}

	for i, w := range result {
		result[i] = titleCase(w)
	}
	broadened := strings.Join(result, " ")

	if p.enableDebugLogging {
		logging.From(ctx).Debug("[PREPROCESS] broadened query", "input", productName, "output", broadened)
	}

	return broadened
}

// significantWords lower-cases a name and strips sizes, punctuation, stop words and single characters
func significantWords(name string) []string {
	cleaned := strings.ToLower(name)

	// Step 1: Remove multipack, size, pack-count and percentage patterns
	cleaned = multipackPattern.ReplaceAllString(cleaned, " ")
	cleaned = sizeQuantityPattern.ReplaceAllString(cleaned, " ")
	cleaned = packCountPattern.ReplaceAllString(cleaned, " ")
	cleaned = percentPattern.ReplaceAllString(cleaned, " ")

	// Step 2: Apostrophes join their word ("nairn's" -> "nairns"); other punctuation separates
	cleaned = strings.NewReplacer("'", "", "’", "").Replace(cleaned)
	cleaned = punctuationPattern.ReplaceAllString(cleaned, " ")

	// Step 3: Drop stop words and stray characters
	var words []string
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) <= 1 || queryStopWords[w] || isNumeric(w) {
			continue
		}
		words = append(words, w)
	}
	return words
}

func titleCase(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
