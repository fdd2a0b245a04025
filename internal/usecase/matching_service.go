package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

// MatchStrategy is one matching stage. Find returns the accepted listing, or nil when no
// candidate matched. An error means the stage could not run to completion.
type MatchStrategy interface {
	Method() domain.MatchMethod
	Find(ctx context.Context, product domain.Product, retailer string) (*domain.Listing, error)
}

// MatchConfig holds configuration for the matching service
type MatchConfig struct {
	Fetcher       domain.StorefrontFetcher
	TextComparer  domain.TextComparer
	ImageComparer domain.ImageComparer // nil disables the visual fallback
	Preprocessor  *QueryPreprocessor

	// Strategies overrides the default text-then-visual pipeline
	Strategies []MatchStrategy

	EnableDebugLogging bool
	Now                func() time.Time
}

// MatchingService resolves a (product, retailer) pair to a quote by trying each strategy in order
type MatchingService struct {
	strategies         []MatchStrategy
	now                func() time.Time
	enableDebugLogging bool
}

// NewMatchingService creates a new matching service with the given configuration
func NewMatchingService(config MatchConfig) *MatchingService {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	strategies := config.Strategies
	if len(strategies) == 0 {
		strategies = append(strategies, &TextMatchStrategy{
			fetcher:            config.Fetcher,
			comparer:           config.TextComparer,
			enableDebugLogging: config.EnableDebugLogging,
		})

		if config.ImageComparer != nil {
			preprocessor := config.Preprocessor
			if preprocessor == nil {
				preprocessor = NewQueryPreprocessor(config.EnableDebugLogging)
			}
			strategies = append(strategies, &VisualMatchStrategy{
				fetcher:            config.Fetcher,
				comparer:           config.ImageComparer,
				preprocessor:       preprocessor,
				enableDebugLogging: config.EnableDebugLogging,
			})
		}
	}

	return &MatchingService{
		strategies:         strategies,
		now:                now,
		enableDebugLogging: config.EnableDebugLogging,
	}
}

// Match runs the strategies in order and stops at the first accepted listing.
// It never fails: a stage error forfeits that stage only, and exhausting every
// stage yields a price-less quote with method "none".
func (s *MatchingService) Match(ctx context.Context, product domain.Product, retailer string) domain.RetailerQuote {
	logger := logging.From(ctx).With("product", product.Name, "retailer", retailer)

	for _, strategy := range s.strategies {
		listing, err := strategy.Find(ctx, product, retailer)
		if err != nil {
			logger.Warn("[MATCH] stage failed", "method", strategy.Method(), "error", err)
			continue
		}
		if listing == nil {
			if s.enableDebugLogging {
				logger.Debug("[MATCH] no candidate accepted", "method", strategy.Method())
			}
			continue
		}

		logger.Info("[MATCH] matched", "method", strategy.Method(), "label", listing.Label)
		return domain.RetailerQuote{
			Retailer:        retailer,
			RegularPrice:    listing.RegularPrice,
			MembershipPrice: listing.MembershipPrice,
			Method:          strategy.Method(),
			Label:           listing.Label,
			FetchedAt:       s.now(),
		}
	}

	logger.Info("[MATCH] not found")
	return domain.NotFoundQuote(retailer, s.now())
}

// TextMatchStrategy searches with the full product name and asks the text comparer to
// confirm brand, product type and quantity for each candidate.
type TextMatchStrategy struct {
	fetcher            domain.StorefrontFetcher
	comparer           domain.TextComparer
	enableDebugLogging bool
}

// NewTextMatchStrategy creates the exact-text stage
func NewTextMatchStrategy(fetcher domain.StorefrontFetcher, comparer domain.TextComparer) *TextMatchStrategy {
	return &TextMatchStrategy{fetcher: fetcher, comparer: comparer}
}

// Method implements MatchStrategy
func (s *TextMatchStrategy) Method() domain.MatchMethod {
	return domain.MatchExactText
}

// Find implements MatchStrategy
func (s *TextMatchStrategy) Find(ctx context.Context, product domain.Product, retailer string) (*domain.Listing, error) {
	listings, err := s.fetcher.Search(ctx, retailer, product.Name)
	if err != nil {
		return nil, goerr.Wrap(err, "text search failed",
			goerr.V("retailer", retailer), goerr.V("query", product.Name))
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := listings[i]
		ok, err := s.comparer.Matches(ctx, product.Name, candidate.Label)
		if err != nil {
			// a comparison failure rejects this candidate only
			logging.From(ctx).Debug("[MATCH] text compare failed", "label", candidate.Label, "error", err)
			continue
		}

		if s.enableDebugLogging {
			logging.From(ctx).Debug("[MATCH] text candidate", "label", candidate.Label, "match", ok)
		}

		if ok && candidate.HasPrice() {
			return &candidate, nil
		}
	}

	return nil, nil
}

// VisualMatchStrategy searches with a broadened query and compares each candidate's
// image against the product's reference image. Products without a reference image skip it.
type VisualMatchStrategy struct {
	fetcher            domain.StorefrontFetcher
	comparer           domain.ImageComparer
	preprocessor       *QueryPreprocessor
	enableDebugLogging bool
}

// NewVisualMatchStrategy creates the visual fallback stage
func NewVisualMatchStrategy(fetcher domain.StorefrontFetcher, comparer domain.ImageComparer, preprocessor *QueryPreprocessor) *VisualMatchStrategy {
	if preprocessor == nil {
		preprocessor = NewQueryPreprocessor(false)
	}
	return &VisualMatchStrategy{fetcher: fetcher, comparer: comparer, preprocessor: preprocessor}
}

// Method implements MatchStrategy
func (s *VisualMatchStrategy) Method() domain.MatchMethod {
	return domain.MatchVisualFallback
}

// Find implements MatchStrategy
func (s *VisualMatchStrategy) Find(ctx context.Context, product domain.Product, retailer string) (*domain.Listing, error) {
	if product.ReferenceImage == "" {
		return nil, nil
	}

	query := s.preprocessor.BroadenQuery(ctx, product.Name)
	listings, err := s.fetcher.Search(ctx, retailer, query)
	if err != nil {
		return nil, goerr.Wrap(err, "visual search failed",
			goerr.V("retailer", retailer), goerr.V("query", query))
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := listings[i]
		if candidate.Image == "" || !candidate.HasPrice() {
			continue
		}

		ok, err := s.comparer.CropAndCompare(ctx, candidate.Image, product.ReferenceImage)
		if err != nil {
			logging.From(ctx).Debug("[MATCH] image compare failed", "label", candidate.Label, "error", err)
			continue
		}

		if s.enableDebugLogging {
			logging.From(ctx).Debug("[MATCH] visual candidate", "label", candidate.Label, "match", ok)
		}

		if ok {
			return &candidate, nil
		}
	}

	return nil, nil
}
