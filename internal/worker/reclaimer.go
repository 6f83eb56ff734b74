// Package worker drains the reclamation outbox and deletes the blobs behind
// each claimed record.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/objectstore"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is the pause between drains of one queue.
	DefaultPollInterval = 2 * time.Second
	// DefaultBatchSize is the number of records claimed per drain.
	DefaultBatchSize = 100
)

var (
	errMissingQueue   = errors.New("worker: reclamation queue is required")
	errMissingDeleter = errors.New("worker: blob deleter is required")
	noOpLogger        = zap.NewNop()
)

// Queue is the outbox surface the worker consumes.
type Queue interface {
	Drain(ctx context.Context, kind reclamation.Kind, batchSize int) ([]reclamation.Pending, error)
	MarkReclaimed(ctx context.Context, kind reclamation.Kind, entityID string) error
	ResetStale(ctx context.Context, kind reclamation.Kind, olderThan time.Duration) (int64, error)
}

// Config describes a Reclaimer.
type Config struct {
	Queue        Queue
	Deleter      objectstore.BlobDeleter
	Kinds        []reclamation.Kind
	PollInterval time.Duration
	BatchSize    int
	// StaleAfter returns claims older than this to the queue before each
	// drain. Zero disables the reset.
	StaleAfter time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Result counts what one pass over a queue did.
type Result struct {
	Drained   int
	Reclaimed int
	Failed    int
	Reset     int64
}

// Reclaimer polls every reclamation queue on its own goroutine.
type Reclaimer struct {
	queue        Queue
	deleter      objectstore.BlobDeleter
	kinds        []reclamation.Kind
	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewReclaimer validates cfg and applies defaults.
func NewReclaimer(cfg Config) (*Reclaimer, error) {
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Deleter == nil {
		return nil, errMissingDeleter
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = reclamation.Kinds()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reclaimer{
		queue:        cfg.Queue,
		deleter:      cfg.Deleter,
		kinds:        kinds,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		staleAfter:   cfg.StaleAfter,
		logger:       logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Run polls until ctx is cancelled. Cancellation is a clean stop.
func (r *Reclaimer) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, kind := range r.kinds {
		group.Go(func() error {
			r.poll(groupCtx, kind)
			return nil
		})
	}
	r.logger.Info("reclamation worker started",
		zap.Int("queues", len(r.kinds)),
		zap.Duration("poll_interval", r.pollInterval))
	err := group.Wait()
	r.logger.Info("reclamation worker stopped")
	return err
}

func (r *Reclaimer) poll(ctx context.Context, kind reclamation.Kind) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				result, err := r.ProcessOnce(ctx, kind)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Error("reclamation pass failed", zap.String("kind", kind.String()), zap.Error(err))
					}
					break
				}
				// A full batch means more may be waiting.
				if result.Drained < r.batchSize {
					break
				}
			}
		}
	}
}

// ProcessOnce claims one batch of kind, deletes each blob and marks the record
// reclaimed. A failed delete leaves its record enqueued; it returns to the
// queue once the claim goes stale.
func (r *Reclaimer) ProcessOnce(ctx context.Context, kind reclamation.Kind) (Result, error) {
	var result Result
	if r.staleAfter > 0 {
		reset, err := r.queue.ResetStale(ctx, kind, r.staleAfter)
		if err != nil {
			return result, err
		}
		result.Reset = reset
	}

	pending, err := r.queue.Drain(ctx, kind, r.batchSize)
	if err != nil {
		return result, err
	}
	result.Drained = len(pending)

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if item.NetworkFileID != nil && *item.NetworkFileID != "" {
			if err := r.deleter.DeleteBlob(ctx, *item.NetworkFileID); err != nil {
				result.Failed++
				r.metrics.ObserveReclaimFailure(kind.String())
				r.logger.Warn("blob deletion failed",
					zap.String("kind", kind.String()),
					zap.String("entity_id", item.EntityID),
					zap.String("network_file_id", *item.NetworkFileID),
					zap.Error(err))
				continue
			}
		}
		if err := r.queue.MarkReclaimed(ctx, kind, item.EntityID); err != nil {
			result.Failed++
			r.logger.Warn("marking record reclaimed failed",
				zap.String("kind", kind.String()),
				zap.String("entity_id", item.EntityID),
				zap.Error(err))
			continue
		}
		result.Reclaimed++
	}

	if result.Drained > 0 {
		r.logger.Debug("reclamation pass finished",
			zap.String("kind", kind.String()),
			zap.Int("drained", result.Drained),
			zap.Int("reclaimed", result.Reclaimed),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}
