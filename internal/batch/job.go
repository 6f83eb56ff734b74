// Package batch runs bounded, restartable repair and rollup jobs in small
// batches with retry and pacing.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the number of rows fetched per batch.
	DefaultBatchSize = 500
	// DefaultMaxAttempts bounds retries of a single batch.
	DefaultMaxAttempts = 10
	// DefaultBackoff is the fixed delay between attempts.
	DefaultBackoff = 5 * time.Second
	// DefaultPause throttles consecutive batches.
	DefaultPause = 100 * time.Millisecond
)

var (
	// ErrJobAborted is returned when a batch keeps failing after every attempt.
	ErrJobAborted = errors.New("batch: job aborted")
	// ErrNoProgress is returned when a non-empty batch changes nothing, which
	// would otherwise loop forever on the same rows.
	ErrNoProgress = errors.New("batch: no progress")
	// ErrMaxBatchesReached is returned when a job hits its batch cap before the
	// fetch runs dry.
	ErrMaxBatchesReached = errors.New("batch: max batches reached")

	errMissingFetch = errors.New("batch: fetch function is required")
	errMissingApply = errors.New("batch: apply function is required")
	noOpLogger      = zap.NewNop()
)

// RetryPolicy is a fixed-backoff retry budget.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Report summarises a job run.
type Report struct {
	Name         string
	Batches      int
	RowsAffected int64
	Retries      int
}

// Job fetches bounded batches of T and applies them until Fetch returns nothing.
// Fetch must select only rows that still need fixing so a restart is safe.
type Job[T any] struct {
	Name       string
	BatchSize  int
	MaxBatches int
	Pause      time.Duration
	Retry      RetryPolicy
	Fetch      func(ctx context.Context, limit int) ([]T, error)
	Apply      func(ctx context.Context, items []T) (int64, error)
	Retryable  func(error) bool
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Run drives the job to completion. On failure the partial report is returned
// together with the error.
func (j Job[T]) Run(ctx context.Context) (Report, error) {
	report := Report{Name: j.Name}
	if j.Fetch == nil {
		return report, errMissingFetch
	}
	if j.Apply == nil {
		return report, errMissingApply
	}
	j = j.withDefaults()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if j.MaxBatches > 0 && report.Batches >= j.MaxBatches {
			j.Logger.Warn("batch job stopped at batch cap",
				zap.String("job", j.Name),
				zap.Int("batches", report.Batches))
			return report, fmt.Errorf("%w: %s after %d batches", ErrMaxBatchesReached, j.Name, report.Batches)
		}

		fetched, affected, err := j.runBatch(ctx, &report)
		if err != nil {
			return report, err
		}
		if fetched == 0 {
			j.Logger.Info("batch job finished",
				zap.String("job", j.Name),
				zap.Int("batches", report.Batches),
				zap.Int64("rows_affected", report.RowsAffected),
				zap.Int("retries", report.Retries))
			return report, nil
		}
		report.Batches++
		report.RowsAffected += affected
		j.Metrics.ObserveBatch(j.Name, affected)
		if affected == 0 {
			j.Metrics.ObserveBatchAbort(j.Name)
			j.Logger.Error("batch job made no progress",
				zap.String("job", j.Name),
				zap.Int("fetched", fetched))
			return report, fmt.Errorf("%w: %s fetched %d rows and changed none", ErrNoProgress, j.Name, fetched)
		}

		if err := j.Sleep(ctx, j.Pause); err != nil {
			return report, err
		}
	}
}

func (j Job[T]) runBatch(ctx context.Context, report *Report) (int, int64, error) {
	var lastErr error
	for attempt := 1; attempt <= j.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			report.Retries++
			j.Metrics.ObserveBatchRetry(j.Name)
			if err := j.Sleep(ctx, j.Retry.Backoff); err != nil {
				return 0, 0, err
			}
		}

		items, err := j.Fetch(ctx, j.BatchSize)
		if err == nil {
			if len(items) == 0 {
				return 0, 0, nil
			}
			var affected int64
			affected, err = j.Apply(ctx, items)
			if err == nil {
				return len(items), affected, nil
			}
		}

		lastErr = err
		if !j.Retryable(err) {
			j.Metrics.ObserveBatchAbort(j.Name)
			return 0, 0, fmt.Errorf("%w: %s: %w", ErrJobAborted, j.Name, err)
		}
		j.Logger.Warn("batch attempt failed",
			zap.String("job", j.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", j.Retry.MaxAttempts),
			zap.Error(err))
	}
	j.Metrics.ObserveBatchAbort(j.Name)
	return 0, 0, fmt.Errorf("%w: %s after %d attempts: %w", ErrJobAborted, j.Name, j.Retry.MaxAttempts, lastErr)
}

func (j Job[T]) withDefaults() Job[T] {
	if j.BatchSize <= 0 {
		j.BatchSize = DefaultBatchSize
	}
	if j.Pause <= 0 {
		j.Pause = DefaultPause
	}
	if j.Retry.MaxAttempts <= 0 {
		j.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if j.Retry.Backoff <= 0 {
		j.Retry.Backoff = DefaultBackoff
	}
	if j.Retryable == nil {
		j.Retryable = svcerr.IsRetryable
	}
	if j.Sleep == nil {
		j.Sleep = SleepContext
	}
	if j.Logger == nil {
		j.Logger = noOpLogger
	}
	return j
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Settings carries the tunables shared by every job of a service.
type Settings struct {
	BatchSize  int
	MaxBatches int
	Pause      time.Duration
	Retry      RetryPolicy
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// NewJob binds fetch and apply functions to the shared settings.
func NewJob[T any](name string, settings Settings, fetch func(ctx context.Context, limit int) ([]T, error), apply func(ctx context.Context, items []T) (int64, error)) Job[T] {
	return Job[T]{
		Name:       name,
		BatchSize:  settings.BatchSize,
		MaxBatches: settings.MaxBatches,
		Pause:      settings.Pause,
		Retry:      settings.Retry,
		Fetch:      fetch,
		Apply:      apply,
		Sleep:      settings.Sleep,
		Logger:     settings.Logger,
		Metrics:    settings.Metrics,
	}
}
