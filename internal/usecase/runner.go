package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"MaterialsMonitor/internal/config"
)

// Runner executes one pipeline run per configured feed on a bounded
// worker pool. Feeds run concurrently; documents within a feed stay
// sequential inside Pipeline.RunFeed. A scheduler collaborator decides
// when RunAll fires.
type Runner struct {
	pipeline *Pipeline
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewRunner builds a runner with the given pool size. A size below one
// defaults to the number of feeds at RunAll time being bounded by one
// worker per feed anyway, so one is the floor.
func NewRunner(pipeline *Pipeline, poolSize int, logger *slog.Logger) (*Runner, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Runner{pipeline: pipeline, pool: pool, logger: logger}, nil
}

// RunAll runs every feed once and waits for completion. One feed's
// failure never aborts its siblings; all failures come back joined.
func (r *Runner) RunAll(ctx context.Context, feeds []config.FeedConfig) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, feedCfg := range feeds {
		feedCfg := feedCfg
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if err := r.pipeline.RunFeed(ctx, feedCfg); err != nil {
				r.logger.Error("feed run failed", "feed", feedCfg.ID, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("submit feed %s: %w", feedCfg.ID, submitErr))
			mu.Unlock()
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Release tears down the worker pool. The runner must not be used after.
func (r *Runner) Release() {
	if r.pool != nil {
		r.pool.Release()
	}
}
