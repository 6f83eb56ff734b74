package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/usage"
	sqlite "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite opens a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres connects through lib/pq.
	DriverPostgres = "postgres"
)

// Options selects the database engine.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured engine and brings the schema up to date.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case "", DriverSQLite:
		return OpenSQLite(options.Path, logger)
	case DriverPostgres:
		return OpenPostgres(options.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverSQLite), zap.String("path", path))
	}
	return db, nil
}

// OpenPostgres connects with lib/pq and hands the pool to the gorm dialector.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverPostgres))
	}
	return db, nil
}

// Migrate creates every table and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := lifecycle.Migrate(db); err != nil {
		return fmt.Errorf("migrate entities: %w", err)
	}
	if err := reclamation.Migrate(db); err != nil {
		return fmt.Errorf("migrate reclamation: %w", err)
	}
	if err := usage.Migrate(db); err != nil {
		return fmt.Errorf("migrate usage ledger: %w", err)
	}
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
