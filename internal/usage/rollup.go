package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/batch"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// A file counts +size on the day it was created unless it was removed before
	// that day ended, and -size on the day it was removed if it existed before
	// that day. Created and removed on the same day nets to zero.
	dailyDeltaSelect = "user_id, COALESCE(SUM(CASE " +
		"WHEN created_at_s >= ? AND created_at_s < ? AND (removed_at_s IS NULL OR removed_at_s >= ?) THEN size " +
		"WHEN removed_at_s >= ? AND removed_at_s < ? AND created_at_s < ? THEN -size " +
		"ELSE 0 END), 0) AS delta"
	fileActivity      = "((created_at_s >= ? AND created_at_s < ?) OR (removed_at_s >= ? AND removed_at_s < ?))"
	fileActivityAlias = "((f.created_at_s >= ? AND f.created_at_s < ?) OR (f.removed_at_s >= ? AND f.removed_at_s < ?))"
	foldSelect        = "user_id, COALESCE(SUM(delta), 0) AS delta"
	querySourceRows   = "user_id IN ? AND type IN ? AND period >= ? AND period < ?"
	queryTargetRow    = "user_id = ? AND period = ? AND type = ?"
)

type userDelta struct {
	UserID string `gorm:"column:user_id"`
	Delta  int64  `gorm:"column:delta"`
}

// RunDailyRollup rolls up yesterday, in UTC.
func (s *Service) RunDailyRollup(ctx context.Context) (RollupReport, error) {
	return s.RunDailyRollupFor(ctx, startOfDay(s.clock()).AddDate(0, 0, -1))
}

// RunDailyRollupFor writes one daily row per user with a non-zero net delta on
// the given day. Users that already have a row for the day are skipped, so the
// run can be repeated safely. A day that already carries a completion marker is
// left untouched, since its rows may have been folded into a monthly row.
func (s *Service) RunDailyRollupFor(ctx context.Context, day time.Time) (RollupReport, error) {
	start := startOfDay(day)
	end := start.AddDate(0, 0, 1)
	period := periodKey(start)
	report := RollupReport{Type: TypeDaily, Period: period}
	if err := s.ensureClosed(opDailyRollup, period, end); err != nil {
		return report, err
	}
	done, err := s.RolledUp(ctx, TypeDaily, period)
	if err != nil {
		return report, err
	}
	if done {
		report.AlreadyRolledUp = true
		s.logger.Info("usage rollup already completed",
			zap.String(fieldType, string(TypeDaily)),
			zap.String(fieldPeriod, period))
		return report, nil
	}
	startSeconds, endSeconds := start.Unix(), end.Unix()

	cursor := ""
	fetch := func(ctx context.Context, limit int) ([]string, error) {
		var users []string
		err := s.db.WithContext(ctx).
			Table("files AS f").
			Joins("LEFT JOIN usage_ledger AS l ON l.user_id = f.user_id AND l.period = ? AND l.type = ?", period, TypeDaily).
			Where("l.id IS NULL AND f.user_id > ?", cursor).
			Where(fileActivityAlias, startSeconds, endSeconds, startSeconds, endSeconds).
			Distinct().
			Order("f.user_id ASC").
			Limit(limit).
			Pluck("f.user_id", &users).Error
		if err != nil {
			return nil, s.failTransient(opDailyRollup, reasonSelectFailed, err, zap.String(fieldPeriod, period))
		}
		return users, nil
	}

	apply := func(ctx context.Context, users []string) (int64, error) {
		var deltas []userDelta
		if err := s.db.WithContext(ctx).
			Table("files").
			Select(dailyDeltaSelect, startSeconds, endSeconds, endSeconds, startSeconds, endSeconds, startSeconds).
			Where("user_id IN ?", users).
			Where(fileActivity, startSeconds, endSeconds, startSeconds, endSeconds).
			Group("user_id").
			Scan(&deltas).Error; err != nil {
			return 0, s.failTransient(opDailyRollup, reasonSelectFailed, err, zap.String(fieldPeriod, period))
		}

		now := s.clock().UTC().Unix()
		entries := make([]LedgerEntry, 0, len(deltas))
		for _, delta := range deltas {
			if delta.Delta == 0 {
				continue
			}
			entries = append(entries, LedgerEntry{
				UserID:           delta.UserID,
				Delta:            delta.Delta,
				Period:           period,
				Type:             TypeDaily,
				CreatedAtSeconds: now,
			})
		}
		if len(entries) > 0 {
			result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
			if result.Error != nil {
				return 0, s.failTransient(opDailyRollup, reasonInsertFailed, result.Error, zap.String(fieldPeriod, period))
			}
			report.RowsWritten += result.RowsAffected
		}
		cursor = users[len(users)-1]
		return int64(len(users)), nil
	}

	return s.runRollup(ctx, opDailyRollup, &report, fetch, apply)
}

// RunMonthlyRollup folds the previous month.
func (s *Service) RunMonthlyRollup(ctx context.Context) (RollupReport, error) {
	return s.RunMonthlyRollupFor(ctx, startOfMonth(s.clock()).AddDate(0, -1, 0))
}

// RunMonthlyRollupFor folds every daily row of the month into one monthly row
// per user and deletes the folded rows.
func (s *Service) RunMonthlyRollupFor(ctx context.Context, month time.Time) (RollupReport, error) {
	start := startOfMonth(month)
	end := start.AddDate(0, 1, 0)
	report := RollupReport{Type: TypeMonthly, Period: periodKey(start)}
	if err := s.ensureClosed(opMonthlyRollup, report.Period, end); err != nil {
		return report, err
	}

	var days []string
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		days = append(days, periodKey(day))
	}
	if err := s.checkWindow(ctx, opMonthlyRollup, TypeDaily, days); err != nil {
		return report, err
	}
	return s.fold(ctx, opMonthlyRollup, &report, []Type{TypeDaily}, start, end)
}

// RunYearlyRollup folds the previous year.
func (s *Service) RunYearlyRollup(ctx context.Context) (RollupReport, error) {
	return s.RunYearlyRollupFor(ctx, startOfYear(s.clock()).AddDate(-1, 0, 0))
}

// RunYearlyRollupFor folds the monthly rows of the year, and any daily rows
// that arrived after their month was folded, into one yearly row per user.
func (s *Service) RunYearlyRollupFor(ctx context.Context, year time.Time) (RollupReport, error) {
	start := startOfYear(year)
	end := start.AddDate(1, 0, 0)
	report := RollupReport{Type: TypeYearly, Period: periodKey(start)}
	if err := s.ensureClosed(opYearlyRollup, report.Period, end); err != nil {
		return report, err
	}

	var months []string
	for month := start; month.Before(end); month = month.AddDate(0, 1, 0) {
		months = append(months, periodKey(month))
	}
	if err := s.checkWindow(ctx, opYearlyRollup, TypeMonthly, months); err != nil {
		return report, err
	}
	return s.fold(ctx, opYearlyRollup, &report, []Type{TypeMonthly, TypeDaily}, start, end)
}

// fold sums the source rows in [start, end) per user into the single target
// row of the period, adding to it when it already exists, and deletes the
// source rows in the same transaction.
func (s *Service) fold(ctx context.Context, operation string, report *RollupReport, sources []Type, start, end time.Time) (RollupReport, error) {
	from, to := periodKey(start), periodKey(end)

	fetch := func(ctx context.Context, limit int) ([]string, error) {
		var users []string
		err := s.db.WithContext(ctx).
			Model(&LedgerEntry{}).
			Where("type IN ? AND period >= ? AND period < ?", sources, from, to).
			Distinct().
			Order("user_id ASC").
			Limit(limit).
			Pluck("user_id", &users).Error
		if err != nil {
			return nil, s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldPeriod, report.Period))
		}
		return users, nil
	}

	apply := func(ctx context.Context, users []string) (int64, error) {
		var written int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var sums []userDelta
			if err := tx.Model(&LedgerEntry{}).
				Select(foldSelect).
				Where(querySourceRows, users, sources, from, to).
				Group("user_id").
				Scan(&sums).Error; err != nil {
				return s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldPeriod, report.Period))
			}

			now := s.clock().UTC().Unix()
			for _, sum := range sums {
				created, err := s.addToPeriod(tx, operation, report.Type, report.Period, sum, now)
				if err != nil {
					return err
				}
				if created {
					written++
				}
			}

			if err := tx.Where(querySourceRows, users, sources, from, to).
				Delete(&LedgerEntry{}).Error; err != nil {
				return s.failTransient(operation, reasonDeleteFailed, err, zap.String(fieldPeriod, report.Period))
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		report.RowsWritten += written
		return int64(len(users)), nil
	}

	return s.runRollup(ctx, operation, report, fetch, apply)
}

func (s *Service) addToPeriod(tx *gorm.DB, operation string, target Type, period string, sum userDelta, now int64) (bool, error) {
	var existing LedgerEntry
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryTargetRow, sum.UserID, period, target).
		Limit(1).
		Find(&existing)
	if result.Error != nil {
		return false, s.failTransient(operation, reasonSelectFailed, result.Error, zap.String(fieldUserID, sum.UserID))
	}
	if result.RowsAffected > 0 {
		if sum.Delta == 0 {
			return false, nil
		}
		if err := tx.Model(&LedgerEntry{}).
			Where("id = ?", existing.ID).
			Update("delta", gorm.Expr("delta + ?", sum.Delta)).Error; err != nil {
			return false, s.failTransient(operation, reasonUpdateFailed, err, zap.String(fieldUserID, sum.UserID))
		}
		return false, nil
	}

	entry := LedgerEntry{
		UserID:           sum.UserID,
		Delta:            sum.Delta,
		Period:           period,
		Type:             target,
		CreatedAtSeconds: now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return false, s.failTransient(operation, reasonInsertFailed, err, zap.String(fieldUserID, sum.UserID))
	}
	return true, nil
}

func (s *Service) runRollup(ctx context.Context, operation string, report *RollupReport, fetch func(context.Context, int) ([]string, error), apply func(context.Context, []string) (int64, error)) (RollupReport, error) {
	result, err := batch.NewJob(operation, s.batch, fetch, apply).Run(ctx)
	report.Users = result.RowsAffected
	report.Batches = result.Batches
	if err != nil {
		return *report, s.fail(operation, reasonBatchFailed, err, zap.String(fieldPeriod, report.Period))
	}
	if err := s.markCompleted(ctx, operation, report.Type, report.Period); err != nil {
		return *report, err
	}

	s.metrics.ObserveRollup(string(report.Type), report.RowsWritten)
	s.logger.Info("usage rollup completed",
		zap.String(fieldType, string(report.Type)),
		zap.String(fieldPeriod, report.Period),
		zap.Int64("users", report.Users),
		zap.Int64("rows_written", report.RowsWritten),
		zap.Int("batches", report.Batches))
	return *report, nil
}

func (s *Service) ensureClosed(operation, period string, end time.Time) error {
	if end.After(s.clock().UTC()) {
		return svcerr.New(operation, reasonOpenPeriod, fmt.Errorf("%w: %s", ErrOpenPeriod, period))
	}
	return nil
}
