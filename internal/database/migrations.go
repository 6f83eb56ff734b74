package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationCloseEmptyFileReclamations = "2024-06-01_close_empty_file_reclamations"
	migrationClearEmptyBlobReferences   = "2024-06-01_clear_empty_blob_references"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCloseEmptyFileReclamations, apply: closeEmptyFileReclamations},
		{name: migrationClearEmptyBlobReferences, apply: clearEmptyBlobReferences},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// closeEmptyFileReclamations marks pending reclamation records of empty files
// processed. Empty files never owned a blob, so there is nothing to delete.
func closeEmptyFileReclamations(db *gorm.DB) error {
	emptyFiles := db.Model(&lifecycle.File{}).Select("uuid").Where("size = 0")
	now := time.Now().UTC().Unix()
	return db.Table(reclamation.KindFile.TableName()).
		Where("processed = ? AND entity_id IN (?)", false, emptyFiles).
		Updates(map[string]any{
			"processed":      true,
			"processed_at_s": now,
			"enqueued":       true,
			"enqueued_at_s":  gorm.Expr("COALESCE(enqueued_at_s, ?)", now),
		}).Error
}

// clearEmptyBlobReferences drops network file ids from empty files and versions.
func clearEmptyBlobReferences(db *gorm.DB) error {
	if err := db.Model(&lifecycle.File{}).
		Where("size = 0 AND network_file_id IS NOT NULL").
		Update("network_file_id", nil).Error; err != nil {
		return err
	}
	return db.Model(&lifecycle.FileVersion{}).
		Where("size = 0 AND network_file_id IS NOT NULL").
		Update("network_file_id", nil).Error
}
