// CLAUDE:SUMMARY Chunked browser worker pool: greedy shared-queue workers, full teardown between chunks.
// Package pool executes profile detail fetches over a bounded pool of
// browser contexts.
//
// URLs are split into chunks. Each chunk gets its own set of worker
// contexts, workers greedily pop from a shared queue until the chunk
// is drained, then every context is torn down before the next chunk's
// are created. Peak resource usage is therefore bounded by one chunk's
// concurrency, and the cooldown between chunks gives a nervous site
// room to breathe.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/moisson/candidate"
)

// Slot is one reusable execution context owned by a chunk worker for
// the duration of a chunk.
type Slot interface {
	Close() error
}

// Factory creates a Slot for a worker. The id is stable per chunk and
// worker index, useful for logs.
type Factory func(ctx context.Context, id string) (Slot, error)

// Hooks are the injected collaborators for one execution.
type Hooks struct {
	// Scrape fetches and extracts one URL. Must never return nil.
	Scrape func(ctx context.Context, slot Slot, url string) *candidate.FetchOutcome
	// Save persists a successful outcome. A save error demotes the item
	// to a failure.
	Save func(ctx context.Context, out *candidate.FetchOutcome) error
	// OnSuccess and OnFailure observe settled items. Optional.
	OnSuccess func(out *candidate.FetchOutcome)
	OnFailure func(out *candidate.FetchOutcome)
	// Cooldown returns the pause inserted between chunks. Optional.
	Cooldown func() time.Duration
}

// Result aggregates counts across chunks.
type Result struct {
	Processed int
	Succeeded int
	Failed    int
}

// Config tunes the executor.
type Config struct {
	// MaxBatchSize is the chunk size. Default: 10.
	MaxBatchSize int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Executor runs detail fetches chunk by chunk.
type Executor struct {
	cfg     Config
	factory Factory
}

// NewExecutor creates an Executor around a context factory.
func NewExecutor(cfg Config, factory Factory) *Executor {
	cfg.defaults()
	return &Executor{cfg: cfg, factory: factory}
}

// Execute picks a strategy and runs it: parallel chunked workers for
// three or more URLs with concurrency above one, a single sequential
// context otherwise. Concurrency and delay arrive per call because the
// adaptive controller retunes them between pages.
func (e *Executor) Execute(ctx context.Context, urls []string, concurrency int, delay time.Duration, h Hooks) (Result, error) {
	if len(urls) == 0 {
		return Result{}, nil
	}
	if len(urls) < 3 || concurrency <= 1 {
		return e.RunSequential(ctx, urls, delay, h)
	}
	return e.RunParallel(ctx, urls, concurrency, delay, h)
}

// RunParallel executes urls in chunks of MaxBatchSize with up to
// concurrency workers per chunk.
func (e *Executor) RunParallel(ctx context.Context, urls []string, concurrency int, delay time.Duration, h Hooks) (Result, error) {
	var total Result
	chunks := chunk(urls, e.cfg.MaxBatchSize)
	for ci, part := range chunks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := e.runChunk(ctx, ci, part, concurrency, delay, h)
		total.Processed += res.Processed
		total.Succeeded += res.Succeeded
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
		e.cfg.Logger.Debug("pool: chunk done",
			"chunk", ci+1, "of", len(chunks),
			"succeeded", res.Succeeded, "failed", res.Failed)

		if ci < len(chunks)-1 && h.Cooldown != nil {
			if err := sleepCtx(ctx, h.Cooldown()); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (e *Executor) runChunk(ctx context.Context, ci int, urls []string, concurrency int, delay time.Duration, h Hooks) (Result, error) {
	n := concurrency
	if n > len(urls) {
		n = len(urls)
	}
	if n < 1 {
		n = 1
	}

	// This chunk's contexts are fully set up before any worker starts
	// and fully closed before this function returns. The previous
	// chunk's contexts are guaranteed gone by the time the next
	// chunk's factory runs.
	slots := make([]Slot, 0, n)
	for i := range n {
		s, err := e.factory(ctx, fmt.Sprintf("chunk%d-w%d", ci, i))
		if err != nil {
			closeAll(slots)
			return Result{}, fmt.Errorf("pool: context setup: %w", err)
		}
		slots = append(slots, s)
	}
	defer closeAll(slots)

	var next, succeeded, failed atomic.Int64
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(slot Slot) {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				// Greedy pop: fast workers take more items.
				idx := int(next.Add(1)) - 1
				if idx >= len(urls) {
					return
				}
				e.runItem(ctx, slot, urls[idx], delay, h, &succeeded, &failed)
			}
		}(slots[i])
	}
	wg.Wait()

	res := Result{
		Processed: int(succeeded.Load() + failed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	return res, ctx.Err()
}

// RunSequential executes urls one at a time on a single context with a
// jittered delay between items.
func (e *Executor) RunSequential(ctx context.Context, urls []string, delay time.Duration, h Hooks) (Result, error) {
	slot, err := e.factory(ctx, "seq-w0")
	if err != nil {
		return Result{}, fmt.Errorf("pool: context setup: %w", err)
	}
	defer slot.Close()

	var succeeded, failed atomic.Int64
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			break
		}
		e.runItem(ctx, slot, url, 0, h, &succeeded, &failed)
		if i < len(urls)-1 {
			if err := sleepCtx(ctx, jitter(delay)); err != nil {
				break
			}
		}
	}

	res := Result{
		Processed: int(succeeded.Load() + failed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	return res, ctx.Err()
}

func (e *Executor) runItem(ctx context.Context, slot Slot, url string, delay time.Duration, h Hooks, succeeded, failed *atomic.Int64) {
	out := h.Scrape(ctx, slot, url)
	if out == nil {
		out = &candidate.FetchOutcome{URL: url, Err: "scrape returned no outcome"}
	}
	if out.Success && h.Save != nil {
		if err := h.Save(ctx, out); err != nil {
			out.Success = false
			out.Err = err.Error()
		}
	}
	if out.Success {
		succeeded.Add(1)
		if h.OnSuccess != nil {
			h.OnSuccess(out)
		}
	} else {
		failed.Add(1)
		if h.OnFailure != nil {
			h.OnFailure(out)
		}
	}
	sleepCtx(ctx, delay)
}

// chunk splits urls into slices of at most size.
func chunk(urls []string, size int) [][]string {
	var out [][]string
	for len(urls) > size {
		out = append(out, urls[:size])
		urls = urls[size:]
	}
	if len(urls) > 0 {
		out = append(out, urls)
	}
	return out
}

// jitter spreads a base delay by up to +50%.
func jitter(d time.Duration) time.Duration {
	if d < 2 {
		return d
	}
	return d + rand.N(d/2)
}

func closeAll(slots []Slot) {
	for _, s := range slots {
		s.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
