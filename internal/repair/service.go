// Package repair holds restartable batch jobs that bring a drifted entity store
// back in line with the lifecycle invariants.
package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/batch"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// JobOrphanFolders removes live folders whose parent is gone.
	JobOrphanFolders = "repair.orphan_folders"
	// JobOrphanFiles deletes live files whose folder is gone.
	JobOrphanFiles = "repair.orphan_files"
	// JobBackfillReclamation writes missing reclamation records.
	JobBackfillReclamation = "repair.backfill_reclamation"

	opServiceNew = "repair.service.new"

	reasonSelectFailed = "select_failed"
	reasonApplyFailed  = "apply_failed"
	reasonJobFailed    = "job_failed"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingLifecycle = errors.New("lifecycle service is required")
	errMissingOutbox    = errors.New("reclamation outbox is required")
	noOpLogger          = zap.NewNop()
)

// Transitioner applies lifecycle transitions with their cascade and outbox side effects.
type Transitioner interface {
	TransitionFolderRemoved(ctx context.Context, folderID lifecycle.ItemID) (lifecycle.CascadeReport, error)
	TransitionFileStatus(ctx context.Context, fileID lifecycle.ItemID, target lifecycle.ItemStatus) (lifecycle.File, error)
}

// ServiceConfig describes the dependencies of the repair jobs.
type ServiceConfig struct {
	Database  *gorm.DB
	Lifecycle Transitioner
	Outbox    lifecycle.IntentWriter
	Logger    *zap.Logger
	Batch     batch.Settings
}

// Service runs repair jobs.
type Service struct {
	db        *gorm.DB
	lifecycle Transitioner
	outbox    lifecycle.IntentWriter
	logger    *zap.Logger
	batch     batch.Settings
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Lifecycle == nil {
		return nil, svcerr.New(opServiceNew, "missing_lifecycle", errMissingLifecycle)
	}
	if cfg.Outbox == nil {
		return nil, svcerr.New(opServiceNew, "missing_outbox", errMissingOutbox)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	settings := cfg.Batch
	if settings.Logger == nil {
		settings.Logger = logger
	}
	return &Service{
		db:        cfg.Database,
		lifecycle: cfg.Lifecycle,
		outbox:    cfg.Outbox,
		logger:    logger,
		batch:     settings,
	}, nil
}

// OrphanFolders removes every live folder whose parent is missing or removed,
// cascading through its subtree.
func (s *Service) OrphanFolders(ctx context.Context) (batch.Report, error) {
	fetch := func(ctx context.Context, limit int) ([]string, error) {
		var ids []string
		err := s.db.WithContext(ctx).
			Table("folders AS f").
			Joins("LEFT JOIN folders AS p ON p.uuid = f.parent_uuid").
			Where("f.parent_uuid IS NOT NULL AND f.status <> ?", lifecycle.StatusDeleted).
			Where("(p.uuid IS NULL OR p.status = ?)", lifecycle.StatusDeleted).
			Order("f.uuid ASC").
			Limit(limit).
			Pluck("f.uuid", &ids).Error
		if err != nil {
			return nil, s.failTransient(JobOrphanFolders, reasonSelectFailed, err)
		}
		return ids, nil
	}
	apply := func(ctx context.Context, ids []string) (int64, error) {
		var fixed int64
		for _, id := range ids {
			_, err := s.lifecycle.TransitionFolderRemoved(ctx, lifecycle.ItemID(id))
			if err != nil && !errors.Is(err, lifecycle.ErrAlreadyRemoved) {
				return fixed, err
			}
			fixed++
		}
		return fixed, nil
	}
	return runJob(ctx, s, JobOrphanFolders, fetch, apply)
}

// OrphanFiles deletes every live file whose folder is missing or removed.
func (s *Service) OrphanFiles(ctx context.Context) (batch.Report, error) {
	fetch := func(ctx context.Context, limit int) ([]string, error) {
		var ids []string
		err := s.db.WithContext(ctx).
			Table("files AS f").
			Joins("LEFT JOIN folders AS p ON p.uuid = f.folder_uuid").
			Where("f.folder_uuid IS NOT NULL AND f.status <> ?", lifecycle.StatusDeleted).
			Where("(p.uuid IS NULL OR p.status = ?)", lifecycle.StatusDeleted).
			Order("f.uuid ASC").
			Limit(limit).
			Pluck("f.uuid", &ids).Error
		if err != nil {
			return nil, s.failTransient(JobOrphanFiles, reasonSelectFailed, err)
		}
		return ids, nil
	}
	apply := func(ctx context.Context, ids []string) (int64, error) {
		var fixed int64
		for _, id := range ids {
			_, err := s.lifecycle.TransitionFileStatus(ctx, lifecycle.ItemID(id), lifecycle.StatusDeleted)
			if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
				return fixed, err
			}
			fixed++
		}
		return fixed, nil
	}
	return runJob(ctx, s, JobOrphanFiles, fetch, apply)
}

// BackfillReclamation writes reclamation records for terminal entities that
// should have one and do not: deleted files and terminal versions owning a
// blob, and removed folders.
func (s *Service) BackfillReclamation(ctx context.Context) (batch.Report, error) {
	total := batch.Report{Name: JobBackfillReclamation}
	for _, source := range backfillSources() {
		report, err := s.backfill(ctx, source)
		total.Batches += report.Batches
		total.RowsAffected += report.RowsAffected
		total.Retries += report.Retries
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type backfillSource struct {
	kind   reclamation.Kind
	table  string
	id     string
	filter string
	args   []any
}

func backfillSources() []backfillSource {
	return []backfillSource{
		{
			kind:   reclamation.KindFile,
			table:  "files",
			id:     "uuid",
			filter: "e.status = ? AND e.size > 0 AND e.network_file_id IS NOT NULL AND e.network_file_id <> ''",
			args:   []any{lifecycle.StatusDeleted},
		},
		{
			kind:   reclamation.KindFileVersion,
			table:  "file_versions",
			id:     "id",
			filter: "e.status IN ? AND e.size > 0 AND e.network_file_id IS NOT NULL AND e.network_file_id <> ''",
			args:   []any{[]lifecycle.VersionStatus{lifecycle.VersionDeleted, lifecycle.VersionRemoved}},
		},
		{
			kind:   reclamation.KindFolder,
			table:  "folders",
			id:     "uuid",
			filter: "e.status = ?",
			args:   []any{lifecycle.StatusDeleted},
		},
	}
}

type missingIntent struct {
	EntityID      string  `gorm:"column:entity_id"`
	NetworkFileID *string `gorm:"column:network_file_id"`
}

func (s *Service) backfill(ctx context.Context, source backfillSource) (batch.Report, error) {
	name := fmt.Sprintf("%s.%s", JobBackfillReclamation, source.kind)
	columns := fmt.Sprintf("e.%s AS entity_id, NULL AS network_file_id", source.id)
	if source.kind != reclamation.KindFolder {
		columns = fmt.Sprintf("e.%s AS entity_id, e.network_file_id AS network_file_id", source.id)
	}

	fetch := func(ctx context.Context, limit int) ([]missingIntent, error) {
		var missing []missingIntent
		err := s.db.WithContext(ctx).
			Table(source.table+" AS e").
			Select(columns).
			Joins(fmt.Sprintf("LEFT JOIN %s AS r ON r.entity_id = e.%s", source.kind.TableName(), source.id)).
			Where("r.entity_id IS NULL").
			Where(source.filter, source.args...).
			Order("e." + source.id + " ASC").
			Limit(limit).
			Scan(&missing).Error
		if err != nil {
			return nil, s.failTransient(name, reasonSelectFailed, err)
		}
		return missing, nil
	}
	apply := func(ctx context.Context, missing []missingIntent) (int64, error) {
		var written int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, intent := range missing {
				outcome, err := s.outbox.Enqueue(tx, source.kind, reclamation.Intent{
					EntityID:      intent.EntityID,
					NetworkFileID: intent.NetworkFileID,
				})
				if err != nil {
					return err
				}
				if !outcome.Duplicate() {
					written++
				}
			}
			return nil
		})
		if err != nil {
			s.logError(name, reasonApplyFailed, err)
			return 0, err
		}
		// A concurrent writer may have inserted the records first; the batch
		// still made progress because the fetch will no longer return them.
		return int64(len(missing)), nil
	}
	return runJob(ctx, s, name, fetch, apply)
}

func runJob[T any](ctx context.Context, s *Service, name string, fetch func(context.Context, int) ([]T, error), apply func(context.Context, []T) (int64, error)) (batch.Report, error) {
	report, err := batch.NewJob(name, s.batch, fetch, apply).Run(ctx)
	if err != nil {
		s.logError(name, reasonJobFailed, err, zap.Int("batches", report.Batches))
		return report, svcerr.New(name, reasonJobFailed, err)
	}
	s.logger.Info("repair job finished",
		zap.String("job", name),
		zap.Int("batches", report.Batches),
		zap.Int64("rows_affected", report.RowsAffected))
	return report, nil
}

func (s *Service) failTransient(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return svcerr.Transient(operation, reason, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("repair job error", attrs...)
}
