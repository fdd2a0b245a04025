package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

// RunConfig holds the settings that shape one basket run
type RunConfig struct {
	Retailers               []string
	RateLimit               RateLimiterConfig
	Batch                   BatchConfig
	UseMembershipForCurrent bool

	// Wait overrides the pause between batches
	Wait func(ctx context.Context, d time.Duration) error
	Now  func() time.Time
}

// RunService runs the whole basket and keeps the latest report. Only one run may be active at a time.
type RunService struct {
	basket  domain.BasketSource
	matcher Matcher
	history domain.HistoryStore
	config  RunConfig
	newID   func() string
	now     func() time.Time

	mu      sync.Mutex
	running bool
	latest  *domain.RunReport
}

// NewRunService creates a new run service with dependencies
func NewRunService(basket domain.BasketSource, matcher Matcher, history domain.HistoryStore, config RunConfig) *RunService {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &RunService{
		basket:  basket,
		matcher: matcher,
		history: history,
		config:  config,
		newID:   uuid.NewString,
		now:     now,
	}
}

// Run executes a run synchronously. A cancelled run still returns its partial report along
// with an error wrapping domain.ErrCancelled.
func (s *RunService) Run(ctx context.Context) (*domain.RunReport, error) {
	id, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	return s.execute(ctx, id)
}

// Start launches a run in the background and returns its ID
func (s *RunService) Start(ctx context.Context) (string, error) {
	id, err := s.begin()
	if err != nil {
		return "", err
	}

	go func() {
		defer s.end()
		if _, err := s.execute(ctx, id); err != nil {
			logging.From(ctx).Error("[RUN] background run failed", "run_id", id, "error", err)
		}
	}()

	return id, nil
}

// Latest returns the most recent finished run
func (s *RunService) Latest() (*domain.RunReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != nil
}

// Running reports whether a run is active
func (s *RunService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LowestEver looks up the historical low of a product, at one retailer or across all of them
func (s *RunService) LowestEver(ctx context.Context, product string, priceType domain.PriceType, retailer string) (domain.HistoricalPrice, bool, error) {
	if product == "" {
		return domain.HistoricalPrice{}, false, domain.ErrInvalidRequest
	}
	if retailer == "" {
		return s.history.LowestEverAcrossRetailers(ctx, product, priceType)
	}
	canonical, ok := s.canonicalRetailer(retailer)
	if !ok {
		return domain.HistoricalPrice{}, false, goerr.Wrap(domain.ErrUnknownRetailer, "lowest price lookup", goerr.V("retailer", retailer))
	}
	return s.history.LowestEver(ctx, canonical, product, priceType)
}

// canonicalRetailer maps a retailer name in any case to its configured spelling
func (s *RunService) canonicalRetailer(retailer string) (string, bool) {
	for _, r := range s.config.Retailers {
		if strings.EqualFold(r, retailer) {
			return r, true
		}
	}
	return "", false
}

func (s *RunService) begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", domain.ErrRunInProgress
	}
	s.running = true
	return s.newID(), nil
}

func (s *RunService) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *RunService) execute(ctx context.Context, id string) (*domain.RunReport, error) {
	logger := logging.From(ctx).With("run_id", id)
	ctx = logging.With(ctx, logger)

	if len(s.config.Retailers) == 0 {
		return nil, goerr.Wrap(domain.ErrConfiguration, "no retailers configured")
	}

	// one limiter per run, shared by every product and retailer task
	limiter, err := NewRateLimiter(s.config.RateLimit)
	if err != nil {
		return nil, err
	}

	products, err := s.basket.LoadProducts(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load basket")
	}

	plan := NewBatchPlan(products, s.config.Batch)
	logger.Info("[RUN] starting",
		"products", len(products), "batches", plan.Len(), "retailers", len(s.config.Retailers),
		"max_concurrent", limiter.MaxConcurrent(), "call_delay", limiter.CallDelay(), "forced_delay", plan.TotalDelay())

	collector := NewQuoteCollector(s.matcher, limiter, s.config.Retailers)
	optimizer := NewOptimizer(s.history, OptimizerConfig{
		UseMembershipForCurrent: s.config.UseMembershipForCurrent,
		Now:                     s.now,
	})
	onTransition := func(tr Transition) {
		logger.Debug("[RUN] scheduler state", "state", tr.State.String(), "batch", tr.Batch)
	}
	scheduler := NewBatchScheduler(NewPricingService(collector, optimizer), BatchSchedulerConfig{
		Parallel:     s.config.Batch.Parallel,
		Wait:         s.config.Wait,
		OnTransition: onTransition,
	})

	report := &domain.RunReport{
		ID:        id,
		StartedAt: s.now(),
		Batches:   plan.Len(),
	}

	results, runErr := scheduler.Run(ctx, plan)
	report.Results = results
	report.Summary = Summarize(results)
	report.FinishedAt = s.now()
	report.Cancelled = errors.Is(runErr, domain.ErrCancelled)

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	logger.Info("[RUN] finished",
		"evaluated", report.Summary.Evaluated, "failed", report.Summary.Failed,
		"opportunities", len(report.Summary.Opportunities),
		"total_savings", report.Summary.TotalSavings.StringFixed(2), "cancelled", report.Cancelled)

	return report, runErr
}
