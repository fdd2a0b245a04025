package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"golang.org/x/sync/errgroup"
)

// BatchConfig controls how a basket is split into batches
type BatchConfig struct {
	Enabled  bool
	Size     int
	Delay    time.Duration
	Parallel bool
}

// BatchPlan is the ordered partition of a run's products plus the pause between batches.
// It is derived once per run and never modified.
type BatchPlan struct {
	Batches [][]domain.Product
	Delay   time.Duration
}

// NewBatchPlan partitions products into groups of config.Size. Disabled batching, a zero
// delay or a non-positive size degenerate to a single batch holding every product.
func NewBatchPlan(products []domain.Product, config BatchConfig) BatchPlan {
	if len(products) == 0 {
		return BatchPlan{}
	}

	if !config.Enabled || config.Delay <= 0 || config.Size <= 0 || config.Size >= len(products) {
		return BatchPlan{Batches: [][]domain.Product{products}}
	}

	batches := make([][]domain.Product, 0, (len(products)+config.Size-1)/config.Size)
	for start := 0; start < len(products); start += config.Size {
		end := min(start+config.Size, len(products))
		batches = append(batches, products[start:end:end])
	}

	return BatchPlan{Batches: batches, Delay: config.Delay}
}

// Len returns the number of batches
func (p BatchPlan) Len() int {
	return len(p.Batches)
}

// Products returns the number of products across all batches
func (p BatchPlan) Products() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// TotalDelay returns the forced pause over the whole run
func (p BatchPlan) TotalDelay() time.Duration {
	if len(p.Batches) < 2 {
		return 0
	}
	return time.Duration(len(p.Batches)-1) * p.Delay
}

// SchedulerState is a step of the batch sequence
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateRunningBatch
	StateWaiting
	StateDone
	StateCancelled
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningBatch:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is emitted each time the scheduler changes state. Batch is the index of the
// batch being run or just finished.
type Transition struct {
	State SchedulerState
	Batch int
}

// ProductPipeline evaluates a single product end to end
type ProductPipeline interface {
	Evaluate(ctx context.Context, product domain.Product) domain.OptimizationResult
}

// BatchSchedulerConfig holds configuration for the scheduler
type BatchSchedulerConfig struct {
	Parallel bool

	// Wait pauses between batches; tests replace it to avoid real sleeps
	Wait func(ctx context.Context, d time.Duration) error

	// OnTransition observes state changes
	OnTransition func(Transition)
}

// BatchScheduler runs a BatchPlan strictly batch after batch
type BatchScheduler struct {
	pipeline     ProductPipeline
	parallel     bool
	wait         func(ctx context.Context, d time.Duration) error
	onTransition func(Transition)
}

// NewBatchScheduler creates a scheduler around a product pipeline
func NewBatchScheduler(pipeline ProductPipeline, config BatchSchedulerConfig) *BatchScheduler {
	wait := config.Wait
	if wait == nil {
		wait = sleepContext
	}
	return &BatchScheduler{
		pipeline:     pipeline,
		parallel:     config.Parallel,
		wait:         wait,
		onTransition: config.OnTransition,
	}
}

// Run evaluates every product of the plan and returns one result per product in plan order.
// Cancellation stops the scheduler from starting new batches or products; products never
// started are reported as failed with domain.ErrCancelled and Run returns that error too.
func (s *BatchScheduler) Run(ctx context.Context, plan BatchPlan) ([]domain.OptimizationResult, error) {
	logger := logging.From(ctx)
	results := make([]domain.OptimizationResult, 0, plan.Products())
	s.transition(StateIdle, 0)

	for i, batch := range plan.Batches {
		if ctx.Err() != nil {
			return s.cancel(ctx, plan, i, results)
		}

		s.transition(StateRunningBatch, i)
		logger.Info("[BATCH] starting batch", "batch", i+1, "of", plan.Len(), "products", len(batch))
		results = append(results, s.runBatch(ctx, batch)...)

		if i == plan.Len()-1 {
			break
		}

		s.transition(StateWaiting, i)
		logger.Info("[BATCH] waiting before next batch", "delay", plan.Delay)
		if err := s.wait(ctx, plan.Delay); err != nil {
			return s.cancel(ctx, plan, i+1, results)
		}
	}

	if ctx.Err() != nil {
		// the last batch was cut short; results already carry the per-product failures
		s.transition(StateCancelled, plan.Len())
		return results, goerr.Wrap(domain.ErrCancelled, "run cancelled during final batch")
	}

	s.transition(StateDone, plan.Len())
	return results, nil
}

func (s *BatchScheduler) runBatch(ctx context.Context, batch []domain.Product) []domain.OptimizationResult {
	results := make([]domain.OptimizationResult, len(batch))

	if !s.parallel {
		for i, product := range batch {
			if ctx.Err() != nil {
				results[i] = domain.FailedResult(product, domain.QuoteSet{Product: product.Name}, domain.ErrCancelled)
				continue
			}
			results[i] = s.evaluate(ctx, product)
		}
		return results
	}

	var g errgroup.Group
	for i, product := range batch {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = domain.FailedResult(product, domain.QuoteSet{Product: product.Name}, domain.ErrCancelled)
				return nil
			}
			results[i] = s.evaluate(ctx, product)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// evaluate isolates a product's pipeline so a panic fails only that product
func (s *BatchScheduler) evaluate(ctx context.Context, product domain.Product) (result domain.OptimizationResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("[BATCH] product pipeline panicked", "product", product.Name, "panic", r)
			result = domain.FailedResult(product, domain.QuoteSet{Product: product.Name},
				goerr.New("product pipeline panicked", goerr.V("panic", fmt.Sprint(r))))
		}
	}()
	return s.pipeline.Evaluate(ctx, product)
}

func (s *BatchScheduler) cancel(ctx context.Context, plan BatchPlan, next int, results []domain.OptimizationResult) ([]domain.OptimizationResult, error) {
	skipped := 0
	for _, batch := range plan.Batches[next:] {
		for _, product := range batch {
			results = append(results, domain.FailedResult(product, domain.QuoteSet{Product: product.Name}, domain.ErrCancelled))
			skipped++
		}
	}
	s.transition(StateCancelled, next)
	logging.From(ctx).Warn("[BATCH] run cancelled", "next_batch", next+1, "skipped_products", skipped)
	return results, goerr.Wrap(domain.ErrCancelled, "run cancelled", goerr.V("completed_batches", next))
}

func (s *BatchScheduler) transition(state SchedulerState, batch int) {
	if s.onTransition != nil {
		s.onTransition(Transition{State: state, Batch: batch})
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
