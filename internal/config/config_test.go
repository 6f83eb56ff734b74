package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != defaultDatabasePath {
		testContext.Fatalf("unexpected database config %+v", cfg.Database)
	}
	if cfg.AuthEnabled() {
		testContext.Fatalf("expected auth to be disabled without a secret")
	}
	if cfg.Batch.Backoff != 5*time.Second || cfg.Worker.PollInterval != 2*time.Second {
		testContext.Fatalf("unexpected durations %+v %+v", cfg.Batch, cfg.Worker)
	}
	if !cfg.Usage.StrictRollupWindow {
		testContext.Fatalf("expected strict rollup window by default")
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("DRIVE_LIFECYCLE_DATABASE_DRIVER", "postgres")
	testContext.Setenv("DRIVE_LIFECYCLE_DATABASE_DSN", "postgres://localhost/drive")
	testContext.Setenv("DRIVE_LIFECYCLE_AUTH_SIGNING_SECRET", "secret")
	testContext.Setenv("DRIVE_LIFECYCLE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	testContext.Setenv("DRIVE_LIFECYCLE_WORKER_STALE_AFTER", "90s")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/drive" {
		testContext.Fatalf("unexpected database config %+v", cfg.Database)
	}
	if !cfg.AuthEnabled() {
		testContext.Fatalf("expected auth to be enabled")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		testContext.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.Worker.StaleAfter != 90*time.Second {
		testContext.Fatalf("unexpected stale after %v", cfg.Worker.StaleAfter)
	}
}

func TestLoadValidation(testContext *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  any
	}{
		{name: "unknown driver", key: "database.driver", val: "mysql"},
		{name: "empty path", key: "database.path", val: " "},
		{name: "postgres without dsn", key: "database.driver", val: "postgres"},
		{name: "zero depth", key: "cascade.max_depth", val: 0},
		{name: "zero batch", key: "batch.size", val: 0},
		{name: "unknown store", key: "objectstore.driver", val: "tape"},
		{name: "s3 without bucket", key: "objectstore.driver", val: "s3"},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(subTest *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.val)
			if _, err := Load(configViper); err == nil {
				subTest.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadDotEnvIgnoresMissingFiles(testContext *testing.T) {
	directory := testContext.TempDir()
	envPath := filepath.Join(directory, ".env")
	if err := os.WriteFile(envPath, []byte("DRIVE_LIFECYCLE_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		testContext.Fatalf("failed to write env file: %v", err)
	}
	testContext.Cleanup(func() { _ = os.Unsetenv("DRIVE_LIFECYCLE_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(directory, "missing.env"), envPath); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("DRIVE_LIFECYCLE_TEST_DOTENV"); got != "loaded" {
		testContext.Fatalf("expected variable from .env, got %q", got)
	}
}
