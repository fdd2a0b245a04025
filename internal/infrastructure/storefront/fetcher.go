// Package storefront searches retailer websites with a stealth headless browser and turns the
// result tiles into listings.
package storefront

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/config"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout     = 45 * time.Second
	defaultMaxListings = 10
	queryPlaceholder   = "{query}"
)

// ImageStore persists listing crops and reference images
type ImageStore interface {
	Save(ctx context.Context, product, retailer string, data []byte) (domain.ImageHandle, error)
	SaveCandidate(ctx context.Context, retailer, label string, data []byte) (domain.ImageHandle, error)
}

// Config holds fetcher settings
type Config struct {
	Profiles           map[string]config.StorefrontConfig
	Images             ImageStore
	RemoteURL          string
	Headless           bool
	Timeout            time.Duration
	EnableDebugLogging bool
}

// Fetcher is a domain.StorefrontFetcher driving a real browser
type Fetcher struct {
	profiles           map[string]config.StorefrontConfig
	images             ImageStore
	timeout            time.Duration
	browser            *browserManager
	enableDebugLogging bool
}

// rawListing is one result tile as read from the page
type rawListing struct {
	Label      string
	Regular    string
	Membership string
	Image      []byte
}

// NewFetcher creates a fetcher. The browser starts on the first search.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	profiles := make(map[string]config.StorefrontConfig, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		if p.MaxListings <= 0 {
			p.MaxListings = defaultMaxListings
		}
		profiles[strings.ToLower(name)] = p
	}

	return &Fetcher{
		profiles:           profiles,
		images:             cfg.Images,
		timeout:            cfg.Timeout,
		browser:            newBrowserManager(cfg.RemoteURL, cfg.Headless),
		enableDebugLogging: cfg.EnableDebugLogging,
	}
}

// Close shuts the browser down
func (f *Fetcher) Close() error {
	return f.browser.close()
}

// SearchURL fills the query placeholder of a profile's search URL
func SearchURL(template, query string) string {
	return strings.ReplaceAll(template, queryPlaceholder, url.QueryEscape(query))
}

// Search runs query on the retailer's storefront and returns the result tiles in page order
func (f *Fetcher) Search(ctx context.Context, retailer, query string) ([]domain.Listing, error) {
	profile, err := f.profile(retailer)
	if err != nil {
		return nil, err
	}

	raws, err := f.scrape(ctx, profile, query)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrLookupFailure, "storefront search failed",
			goerr.V("retailer", retailer), goerr.V("query", query), goerr.V("cause", err.Error()))
	}

	listings := make([]domain.Listing, 0, len(raws))
	for _, raw := range raws {
		listings = append(listings, f.toListing(ctx, retailer, raw))
	}

	logging.From(ctx).Info("[STOREFRONT] searched", "retailer", retailer, "query", query, "listings", len(listings))
	return listings, nil
}

// CaptureReference saves the image of the first result for product at its current retailer
func (f *Fetcher) CaptureReference(ctx context.Context, product, retailer string) (domain.ImageHandle, error) {
	profile, err := f.profile(retailer)
	if err != nil {
		return "", err
	}
	if f.images == nil {
		return "", goerr.New("no image store configured")
	}

	raws, err := f.scrape(ctx, profile, product)
	if err != nil {
		return "", goerr.Wrap(domain.ErrLookupFailure, "reference capture failed",
			goerr.V("retailer", retailer), goerr.V("product", product), goerr.V("cause", err.Error()))
	}

	for _, raw := range raws {
		if len(raw.Image) == 0 {
			continue
		}
		handle, err := f.images.Save(ctx, product, retailer, raw.Image)
		if err != nil {
			return "", err
		}
		logging.From(ctx).Info("[STOREFRONT] captured reference image", "retailer", retailer, "product", product, "label", raw.Label)
		return handle, nil
	}

	return "", goerr.Wrap(domain.ErrNotFound, "no result with an image", goerr.V("retailer", retailer), goerr.V("product", product))
}

func (f *Fetcher) profile(retailer string) (config.StorefrontConfig, error) {
	p, ok := f.profiles[strings.ToLower(retailer)]
	if !ok || p.SearchURL == "" || p.ListingSelector == "" {
		return config.StorefrontConfig{}, goerr.Wrap(domain.ErrUnknownRetailer, "no storefront profile", goerr.V("retailer", retailer))
	}
	return p, nil
}

// toListing parses a tile's prices and stores its crop. A crop that cannot be stored leaves the listing without an image.
func (f *Fetcher) toListing(ctx context.Context, retailer string, raw rawListing) domain.Listing {
	listing := domain.Listing{Label: raw.Label}

	if p, ok := ParsePrice(raw.Regular); ok {
		listing.RegularPrice = decimal.NewNullDecimal(p)
	}
	if p, ok := ParsePrice(raw.Membership); ok {
		listing.MembershipPrice = decimal.NewNullDecimal(p)
	}

	if len(raw.Image) > 0 && f.images != nil {
		handle, err := f.images.SaveCandidate(ctx, retailer, raw.Label, raw.Image)
		if err != nil {
			logging.From(ctx).Warn("[STOREFRONT] failed to store listing image", "retailer", retailer, "label", raw.Label, "error", err)
		} else {
			listing.Image = handle
		}
	}

	if f.enableDebugLogging {
		logging.From(ctx).Debug("[STOREFRONT] listing", "retailer", retailer, "label", listing.Label,
			"regular", raw.Regular, "membership", raw.Membership, "image", listing.Image)
	}
	return listing
}

func (f *Fetcher) scrape(ctx context.Context, profile config.StorefrontConfig, query string) ([]rawListing, error) {
	b, err := f.browser.get(ctx)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open tab")
	}
	defer page.Close()

	pageCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	p := page.Context(pageCtx)

	target := SearchURL(profile.SearchURL, query)
	if err := p.Navigate(target); err != nil {
		return nil, goerr.Wrap(err, "failed to navigate", goerr.V("url", target))
	}
	if err := p.WaitLoad(); err != nil {
		logging.From(ctx).Warn("[STOREFRONT] wait load timeout", "url", target, "error", err)
	}

	// result tiles are usually rendered client side; wait for the first one
	if _, err := p.Element(profile.ListingSelector); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logging.From(ctx).Info("[STOREFRONT] no results rendered", "url", target)
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed waiting for results", goerr.V("url", target))
	}

	elements, err := p.Elements(profile.ListingSelector)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read results", goerr.V("url", target))
	}
	if len(elements) > profile.MaxListings {
		elements = elements[:profile.MaxListings]
	}

	raws := make([]rawListing, 0, len(elements))
	for _, el := range elements {
		raw := rawListing{
			Label:      childText(el, profile.LabelSelector),
			Regular:    childText(el, profile.RegularPriceSelector),
			Membership: childText(el, profile.MembershipPriceSelector),
			Image:      childShot(el, profile.ImageSelector),
		}
		if raw.Label == "" {
			continue
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// childText returns the trimmed text of the first element under el matching selector.
// An empty selector reads el itself.
func childText(el *rod.Element, selector string) string {
	target := el
	if selector != "" {
		has, child, err := el.Has(selector)
		if err != nil || !has {
			return ""
		}
		target = child
	}
	text, err := target.Text()
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// childShot crops the first element under el matching selector to PNG
func childShot(el *rod.Element, selector string) []byte {
	if selector == "" {
		return nil
	}
	has, child, err := el.Has(selector)
	if err != nil || !has {
		return nil
	}
	data, err := child.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil
	}
	return data
}
