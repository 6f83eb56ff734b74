// Package reclamation implements the outbox of logically deleted entities whose
// backing blobs still have to be removed from the object store.
package reclamation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultMaxDrainBatch caps a single drain call.
	DefaultMaxDrainBatch = 1000

	opOutboxNew     = "reclamation.outbox.new"
	opEnqueue       = "reclamation.enqueue"
	opDrain         = "reclamation.drain"
	opMarkReclaimed = "reclamation.mark_reclaimed"
	opResetStale    = "reclamation.reset_stale"
	opCounts        = "reclamation.counts"
	opGet           = "reclamation.get"

	fieldKind     = "kind"
	fieldEntityID = "entity_id"

	queryPending       = "enqueued = ? AND processed = ?"
	queryEntity        = "entity_id = ?"
	queryUnclaimed     = "entity_id = ? AND enqueued = ?"
	queryStaleEnqueued = "enqueued = ? AND processed = ? AND enqueued_at_s < ?"
	orderOldestFirst   = "created_at_s ASC, entity_id ASC"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// OutboxConfig describes the dependencies of an Outbox.
type OutboxConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	MaxDrainBatch int
}

// Outbox writes and drains reclamation records.
type Outbox struct {
	db            *gorm.DB
	clock         func() time.Time
	logger        *zap.Logger
	metrics       *metrics.Metrics
	maxDrainBatch int
}

// NewOutbox validates the configuration and constructs an Outbox.
func NewOutbox(cfg OutboxConfig) (*Outbox, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opOutboxNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxDrainBatch := cfg.MaxDrainBatch
	if maxDrainBatch <= 0 {
		maxDrainBatch = DefaultMaxDrainBatch
	}
	return &Outbox{
		db:            cfg.Database,
		clock:         clock,
		logger:        logger,
		metrics:       cfg.Metrics,
		maxDrainBatch: maxDrainBatch,
	}, nil
}

// Enqueue writes an intent inside the caller's transaction unless one already
// exists for the entity. The insert is a single conditional write, so concurrent
// transitions of the same entity can never produce two records.
func (o *Outbox) Enqueue(tx *gorm.DB, kind Kind, intent Intent) (EnqueueOutcome, error) {
	table := kind.TableName()
	if table == "" {
		return EnqueueOutcome{}, svcerr.New(opEnqueue, "unknown_kind", ErrUnknownKind)
	}
	entityID := strings.TrimSpace(intent.EntityID)
	if entityID == "" {
		return EnqueueOutcome{}, svcerr.New(opEnqueue, "invalid_entity_id", ErrInvalidEntityID)
	}

	record := Record{
		EntityID:         entityID,
		NetworkFileID:    intent.NetworkFileID,
		CreatedAtSeconds: o.clock().UTC().Unix(),
	}
	result := tx.Table(table).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		o.logError(opEnqueue, "insert_failed", result.Error,
			zap.String(fieldKind, kind.String()),
			zap.String(fieldEntityID, entityID))
		return EnqueueOutcome{}, svcerr.Transient(opEnqueue, "insert_failed", result.Error)
	}

	outcome := EnqueueOutcome{kind: kind, entityID: entityID, duplicate: result.RowsAffected == 0}
	if outcome.duplicate {
		o.logger.Debug("duplicate reclamation intent ignored",
			zap.String(fieldKind, kind.String()),
			zap.String(fieldEntityID, entityID))
	}
	o.metrics.ObserveIntent(kind.String(), outcome.duplicate)
	return outcome, nil
}

// Drain claims up to batchSize unprocessed, unenqueued records, marking them
// enqueued, and returns them oldest first.
func (o *Outbox) Drain(ctx context.Context, kind Kind, batchSize int) ([]Pending, error) {
	table := kind.TableName()
	if table == "" {
		return nil, svcerr.New(opDrain, "unknown_kind", ErrUnknownKind)
	}
	limit := o.clampBatch(batchSize)
	now := o.clock().UTC().Unix()

	var claimed []Pending
	txErr := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []Record
		if err := tx.Table(table).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(queryPending, false, false).
			Order(orderOldestFirst).
			Limit(limit).
			Find(&candidates).Error; err != nil {
			o.logError(opDrain, "select_failed", err, zap.String(fieldKind, kind.String()))
			return svcerr.Transient(opDrain, "select_failed", err)
		}

		seen := make(map[string]struct{}, len(candidates))
		claimed = make([]Pending, 0, len(candidates))
		for _, candidate := range candidates {
			if _, ok := seen[candidate.EntityID]; ok {
				continue
			}
			seen[candidate.EntityID] = struct{}{}

			update := tx.Table(table).
				Where(queryUnclaimed, candidate.EntityID, false).
				Updates(map[string]any{"enqueued": true, "enqueued_at_s": now})
			if update.Error != nil {
				o.logError(opDrain, "claim_failed", update.Error,
					zap.String(fieldKind, kind.String()),
					zap.String(fieldEntityID, candidate.EntityID))
				return svcerr.Transient(opDrain, "claim_failed", update.Error)
			}
			if update.RowsAffected == 0 {
				continue
			}
			claimed = append(claimed, Pending{
				Kind:          kind,
				EntityID:      candidate.EntityID,
				NetworkFileID: candidate.NetworkFileID,
			})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	o.metrics.ObserveDrained(kind.String(), len(claimed))
	return claimed, nil
}

// MarkReclaimed records that the blob behind the entity was removed. Marking an
// already processed record again succeeds without changes.
func (o *Outbox) MarkReclaimed(ctx context.Context, kind Kind, entityID string) error {
	table := kind.TableName()
	if table == "" {
		return svcerr.New(opMarkReclaimed, "unknown_kind", ErrUnknownKind)
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return svcerr.New(opMarkReclaimed, "invalid_entity_id", ErrInvalidEntityID)
	}

	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		err := tx.Table(table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryEntity, entityID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return svcerr.New(opMarkReclaimed, "not_found", ErrNotFound)
		}
		if err != nil {
			o.logError(opMarkReclaimed, "select_failed", err,
				zap.String(fieldKind, kind.String()),
				zap.String(fieldEntityID, entityID))
			return svcerr.Transient(opMarkReclaimed, "select_failed", err)
		}
		if record.Processed {
			return nil
		}

		updates := map[string]any{
			"processed":      true,
			"processed_at_s": o.clock().UTC().Unix(),
		}
		if !record.Enqueued {
			updates["enqueued"] = true
			updates["enqueued_at_s"] = o.clock().UTC().Unix()
		}
		if err := tx.Table(table).Where(queryEntity, entityID).Updates(updates).Error; err != nil {
			o.logError(opMarkReclaimed, "update_failed", err,
				zap.String(fieldKind, kind.String()),
				zap.String(fieldEntityID, entityID))
			return svcerr.Transient(opMarkReclaimed, "update_failed", err)
		}
		o.metrics.ObserveReclaimed(kind.String())
		return nil
	})
}

// ResetStale returns records that were enqueued before now-olderThan and never
// processed to the pending state, so a crashed worker's claims get drained again.
func (o *Outbox) ResetStale(ctx context.Context, kind Kind, olderThan time.Duration) (int64, error) {
	table := kind.TableName()
	if table == "" {
		return 0, svcerr.New(opResetStale, "unknown_kind", ErrUnknownKind)
	}
	cutoff := o.clock().UTC().Add(-olderThan).Unix()
	result := o.db.WithContext(ctx).Table(table).
		Where(queryStaleEnqueued, true, false, cutoff).
		Updates(map[string]any{"enqueued": false, "enqueued_at_s": nil})
	if result.Error != nil {
		o.logError(opResetStale, "update_failed", result.Error, zap.String(fieldKind, kind.String()))
		return 0, svcerr.Transient(opResetStale, "update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		o.logger.Warn("stale reclamation claims reset",
			zap.String(fieldKind, kind.String()),
			zap.Int64("records", result.RowsAffected),
			zap.Duration("older_than", olderThan))
	}
	return result.RowsAffected, nil
}

// Counts reports how many records of the queue sit in each state and refreshes
// the matching gauges.
func (o *Outbox) Counts(ctx context.Context, kind Kind) (Counts, error) {
	table := kind.TableName()
	if table == "" {
		return Counts{}, svcerr.New(opCounts, "unknown_kind", ErrUnknownKind)
	}
	type row struct {
		Enqueued  bool
		Processed bool
		Total     int64
	}
	var rows []row
	if err := o.db.WithContext(ctx).Table(table).
		Select("enqueued, processed, COUNT(*) AS total").
		Group("enqueued, processed").
		Scan(&rows).Error; err != nil {
		o.logError(opCounts, "query_failed", err, zap.String(fieldKind, kind.String()))
		return Counts{}, svcerr.Transient(opCounts, "query_failed", err)
	}

	var counts Counts
	for _, r := range rows {
		switch {
		case r.Processed:
			counts.Processed += r.Total
		case r.Enqueued:
			counts.Enqueued += r.Total
		default:
			counts.Pending += r.Total
		}
	}
	o.metrics.SetReclamationRecords(kind.String(), "pending", counts.Pending)
	o.metrics.SetReclamationRecords(kind.String(), "enqueued", counts.Enqueued)
	o.metrics.SetReclamationRecords(kind.String(), "processed", counts.Processed)
	return counts, nil
}

// Get loads the record for an entity.
func (o *Outbox) Get(ctx context.Context, kind Kind, entityID string) (Record, error) {
	table := kind.TableName()
	if table == "" {
		return Record{}, svcerr.New(opGet, "unknown_kind", ErrUnknownKind)
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return Record{}, svcerr.New(opGet, "invalid_entity_id", ErrInvalidEntityID)
	}
	var record Record
	err := o.db.WithContext(ctx).Table(table).Where(queryEntity, entityID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, svcerr.New(opGet, "not_found", ErrNotFound)
	}
	if err != nil {
		o.logError(opGet, "query_failed", err, zap.String(fieldKind, kind.String()), zap.String(fieldEntityID, entityID))
		return Record{}, svcerr.Transient(opGet, "query_failed", err)
	}
	return record, nil
}

func (o *Outbox) clampBatch(batchSize int) int {
	if batchSize <= 0 {
		return 1
	}
	if batchSize > o.maxDrainBatch {
		return o.maxDrainBatch
	}
	return batchSize
}

func (o *Outbox) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	o.logger.Error("reclamation outbox error", attrs...)
}
