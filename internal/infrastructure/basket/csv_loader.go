// Package basket loads the shopping basket from its CSV file.
package basket

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/shopspring/decimal"
)

const (
	colName            = "product_name"
	colRetailer        = "current_supermarket"
	colRegularPrice    = "current_regular_price"
	colMembershipPrice = "current_membership_price"
	colReferenceImage  = "reference_image"
)

var requiredColumns = []string{colName, colRetailer, colRegularPrice, colMembershipPrice}

// ReferenceImages finds a stored reference image for a product at a retailer
type ReferenceImages interface {
	Lookup(product, retailer string) (domain.ImageHandle, bool)
}

// ReferenceCapturer captures a product's reference image from its current retailer's storefront
type ReferenceCapturer interface {
	CaptureReference(ctx context.Context, product, retailer string) (domain.ImageHandle, error)
}

// LoaderConfig holds loader dependencies. Images and Capturer are optional.
type LoaderConfig struct {
	Path     string
	Images   ReferenceImages
	Capturer ReferenceCapturer
}

// Loader is a domain.BasketSource reading the basket CSV
type Loader struct {
	path     string
	images   ReferenceImages
	capturer ReferenceCapturer
}

// NewLoader creates a basket loader
func NewLoader(config LoaderConfig) *Loader {
	return &Loader{
		path:     config.Path,
		images:   config.Images,
		capturer: config.Capturer,
	}
}

// LoadProducts reads the basket and resolves each product's reference image
func (l *Loader) LoadProducts(ctx context.Context) ([]domain.Product, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open basket", goerr.V("path", l.path))
	}
	defer f.Close()

	products, err := Parse(ctx, f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse basket", goerr.V("path", l.path))
	}

	for i := range products {
		if products[i].ReferenceImage == "" {
			products[i].ReferenceImage = l.referenceImage(ctx, products[i])
		}
	}

	logging.From(ctx).Info("[BASKET] loaded", "path", l.path, "products", len(products))
	return products, nil
}

// referenceImage returns the stored image for the product's current retailer, capturing one if none exists.
// A product without a reference image is still evaluated; only the visual stage is skipped.
func (l *Loader) referenceImage(ctx context.Context, p domain.Product) domain.ImageHandle {
	if l.images != nil {
		if handle, ok := l.images.Lookup(p.Name, p.CurrentRetailer); ok {
			return handle
		}
	}
	if l.capturer == nil {
		return ""
	}

	handle, err := l.capturer.CaptureReference(ctx, p.Name, p.CurrentRetailer)
	if err != nil {
		logging.From(ctx).Warn("[BASKET] reference image capture failed",
			"product", p.Name, "retailer", p.CurrentRetailer, "error", err)
		return ""
	}
	return handle
}

// Parse reads basket rows. Rows without a product name are skipped; unparsable prices are treated as absent.
func Parse(ctx context.Context, r io.Reader) ([]domain.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, goerr.New("basket is empty")
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read basket header")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, goerr.New("basket is missing a required column", goerr.V("column", c))
		}
	}

	logger := logging.From(ctx)
	var products []domain.Product
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read basket row", goerr.V("line", line))
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		name := field(colName)
		if name == "" {
			logger.Warn("[BASKET] skipping row without product name", "line", line)
			continue
		}

		p := domain.Product{
			Name:                   name,
			CurrentRetailer:        field(colRetailer),
			CurrentRegularPrice:    parsePrice(ctx, field(colRegularPrice), line),
			CurrentMembershipPrice: parsePrice(ctx, field(colMembershipPrice), line),
			ReferenceImage:         domain.ImageHandle(field(colReferenceImage)),
		}
		products = append(products, p)
	}

	return products, nil
}

// parsePrice reads "£1.50" or "1.50". Empty means absent.
func parsePrice(ctx context.Context, s string, line int) decimal.NullDecimal {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(s, "£"), ",", ""))
	if s == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		logging.From(ctx).Warn("[BASKET] ignoring invalid price", "line", line, "value", s)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
