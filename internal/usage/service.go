package usage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/batch"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew    = "usage.service.new"
	opGetUserUsage  = "usage.get_user_usage"
	opDailyRollup   = "usage.daily_rollup"
	opMonthlyRollup = "usage.monthly_rollup"
	opYearlyRollup  = "usage.yearly_rollup"

	fieldUserID = "user_id"
	fieldPeriod = "period"
	fieldType   = "type"

	reasonSelectFailed     = "select_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonMarkerFailed     = "marker_failed"
	reasonIncompleteWindow = "incomplete_window"
	reasonOpenPeriod       = "open_period"
	reasonBackupFailed     = "backup_usage_failed"
	reasonBatchFailed      = "batch_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// BackupUsageProvider reports storage consumed by a user's backups, which live
// outside the drive ledger.
type BackupUsageProvider interface {
	BackupUsage(ctx context.Context, userID string) (int64, error)
}

// ServiceConfig describes the dependencies of the usage service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Batch    batch.Settings
	Backup   BackupUsageProvider
	// AllowIncompleteWindow lets monthly and yearly folds proceed, with a
	// warning, when lower-granularity markers are missing.
	AllowIncompleteWindow bool
}

// Service computes and folds ledger rows.
type Service struct {
	db                    *gorm.DB
	clock                 func() time.Time
	logger                *zap.Logger
	metrics               *metrics.Metrics
	batch                 batch.Settings
	backup                BackupUsageProvider
	allowIncompleteWindow bool
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	settings := cfg.Batch
	if settings.Logger == nil {
		settings.Logger = logger
	}
	if settings.Metrics == nil {
		settings.Metrics = cfg.Metrics
	}
	return &Service{
		db:                    cfg.Database,
		clock:                 clock,
		logger:                logger,
		metrics:               cfg.Metrics,
		batch:                 settings,
		backup:                cfg.Backup,
		allowIncompleteWindow: cfg.AllowIncompleteWindow,
	}, nil
}

// GetUserUsage sums the user's ledger across every period and granularity.
func (s *Service) GetUserUsage(ctx context.Context, userID string) (Usage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, svcerr.New(opGetUserUsage, "invalid_user_id", ErrInvalidUserID)
	}

	var drive int64
	if err := s.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&drive).Error; err != nil {
		return Usage{}, s.failTransient(opGetUserUsage, reasonSelectFailed, err, zap.String(fieldUserID, userID))
	}

	var backup int64
	if s.backup != nil {
		value, err := s.backup.BackupUsage(ctx, userID)
		if err != nil {
			return Usage{}, s.fail(opGetUserUsage, reasonBackupFailed, err, zap.String(fieldUserID, userID))
		}
		backup = value
	}
	return Usage{Drive: drive, Backup: backup, Total: drive + backup}, nil
}

// checkWindow verifies that every lower-granularity period in expected has a
// completion marker.
func (s *Service) checkWindow(ctx context.Context, operation string, lower Type, expected []string) error {
	var completed []string
	if err := s.db.WithContext(ctx).
		Model(&RollupRun{}).
		Where("type = ? AND period IN ?", lower, expected).
		Pluck("period", &completed).Error; err != nil {
		return s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldType, string(lower)))
	}
	done := make(map[string]struct{}, len(completed))
	for _, period := range completed {
		done[period] = struct{}{}
	}
	var missing []string
	for _, period := range expected {
		if _, ok := done[period]; !ok {
			missing = append(missing, period)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if s.allowIncompleteWindow {
		s.logger.Warn("rolling up an incomplete window",
			zap.String("operation", operation),
			zap.String(fieldType, string(lower)),
			zap.Strings("missing_periods", missing))
		return nil
	}
	return s.fail(operation, reasonIncompleteWindow, ErrIncompleteRollupWindow,
		zap.String(fieldType, string(lower)),
		zap.Strings("missing_periods", missing))
}

func (s *Service) markCompleted(ctx context.Context, operation string, ledgerType Type, period string) error {
	marker := RollupRun{Type: ledgerType, Period: period, CompletedAtSeconds: s.clock().UTC().Unix()}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "period"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed_at_s"}),
		}).
		Create(&marker).Error; err != nil {
		return s.failTransient(operation, reasonMarkerFailed, err, zap.String(fieldPeriod, period))
	}
	return nil
}

// RolledUp reports whether a period of the given granularity has completed.
func (s *Service) RolledUp(ctx context.Context, ledgerType Type, period string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&RollupRun{}).
		Where("type = ? AND period = ?", ledgerType, period).
		Count(&count).Error; err != nil {
		return false, svcerr.Transient("usage.rolled_up", reasonSelectFailed, err)
	}
	return count > 0, nil
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return svcerr.New(operation, reason, err)
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
	s.logger.Error("usage service error", attrs...)
}
