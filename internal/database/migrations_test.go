package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsEmptyFiles(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := lifecycle.Migrate(database); err != nil {
		testContext.Fatalf("failed to migrate entities: %v", err)
	}
	if err := reclamation.Migrate(database); err != nil {
		testContext.Fatalf("failed to migrate reclamation: %v", err)
	}
	if err := database.AutoMigrate(&migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacyID := "net-legacy"
	sizedID := "net-sized"
	files := []lifecycle.File{
		{UUID: "empty", UserID: "user-1", Status: lifecycle.StatusDeleted, Size: 0, NetworkFileID: &legacyID, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
		{UUID: "sized", UserID: "user-1", Status: lifecycle.StatusDeleted, Size: 9, NetworkFileID: &sizedID, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
	}
	for index := range files {
		if err := database.Create(&files[index]).Error; err != nil {
			testContext.Fatalf("failed to insert file: %v", err)
		}
	}
	for _, file := range files {
		record := reclamation.Record{EntityID: file.UUID, NetworkFileID: file.NetworkFileID, CreatedAtSeconds: 1}
		if err := database.Table(reclamation.KindFile.TableName()).Create(&record).Error; err != nil {
			testContext.Fatalf("failed to insert record: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var records []reclamation.Record
	if err := database.Table(reclamation.KindFile.TableName()).Order("entity_id ASC").Find(&records).Error; err != nil {
		testContext.Fatalf("failed to reload records: %v", err)
	}
	if len(records) != 2 || !records[0].Processed || records[1].Processed {
		testContext.Fatalf("expected only the empty file record to be closed, got %+v", records)
	}

	var empty lifecycle.File
	if err := database.Where("uuid = ?", "empty").Take(&empty).Error; err != nil {
		testContext.Fatalf("failed to reload file: %v", err)
	}
	if empty.NetworkFileID != nil {
		testContext.Fatalf("expected network file id to be cleared, got %v", *empty.NetworkFileID)
	}

	for _, name := range []string{migrationCloseEmptyFileReclamations, migrationClearEmptyBlobReferences} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}
}

func TestOpenMigratesEverySchema(testContext *testing.T) {
	database, err := Open(Options{Driver: DriverSQLite, Path: filepath.Join(testContext.TempDir(), "open.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"folders", "files", "file_versions", "file_reclamations", "folder_reclamations", "file_version_reclamations", "usage_ledger", "usage_rollup_runs", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := Open(Options{Driver: "oracle"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Options{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
