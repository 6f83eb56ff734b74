package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "DRIVE_LIFECYCLE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabasePath    = "drive-lifecycle.db"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 100
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 28
	defaultAuthIssuer      = "drive-lifecycle"
	defaultCascadeMaxDepth = 64
	defaultCascadeMaxNodes = 100000
	defaultBatchSize       = 500
	defaultBatchAttempts   = 10
	defaultBatchBackoff    = 5 * time.Second
	defaultBatchPause      = 100 * time.Millisecond
	defaultWorkerPoll      = 2 * time.Second
	defaultWorkerBatch     = 100
	defaultWorkerStale     = 10 * time.Minute
	defaultObjectDriver    = "memory"
)

// AppConfig captures runtime configuration for the service and its jobs.
type AppConfig struct {
	HTTPAddress string
	Database    DatabaseConfig
	Log         LogConfig
	Auth        AuthConfig
	CORSOrigins []string
	Cascade     CascadeConfig
	Batch       BatchConfig
	Worker      WorkerConfig
	Usage       UsageConfig
	ObjectStore ObjectStoreConfig
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig enables bearer-token checks when SigningSecret is set.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
}

type CascadeConfig struct {
	MaxDepth int
	MaxNodes int
}

type BatchConfig struct {
	Size        int
	MaxAttempts int
	Backoff     time.Duration
	Pause       time.Duration
}

type WorkerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	StaleAfter   time.Duration
}

// UsageConfig controls the rollup barrier. Strict windows refuse to fold a
// period whose lower-granularity rollups have not all completed.
type UsageConfig struct {
	StrictRollupWindow bool
}

type ObjectStoreConfig struct {
	Driver          string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// LoadDotEnv populates the process environment from the given files. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, path := range paths {
		if _, err := godotenv.Read(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("cascade.max_depth", defaultCascadeMaxDepth)
	configViper.SetDefault("cascade.max_nodes", defaultCascadeMaxNodes)
	configViper.SetDefault("batch.size", defaultBatchSize)
	configViper.SetDefault("batch.max_attempts", defaultBatchAttempts)
	configViper.SetDefault("batch.backoff", defaultBatchBackoff)
	configViper.SetDefault("batch.pause", defaultBatchPause)
	configViper.SetDefault("worker.enabled", false)
	configViper.SetDefault("worker.poll_interval", defaultWorkerPoll)
	configViper.SetDefault("worker.batch_size", defaultWorkerBatch)
	configViper.SetDefault("worker.stale_after", defaultWorkerStale)
	configViper.SetDefault("usage.strict_rollup_window", true)
	configViper.SetDefault("objectstore.driver", defaultObjectDriver)
	configViper.SetDefault("objectstore.bucket", "")
	configViper.SetDefault("objectstore.region", "")
	configViper.SetDefault("objectstore.endpoint", "")
	configViper.SetDefault("objectstore.access_key_id", "")
	configViper.SetDefault("objectstore.secret_access_key", "")
	configViper.SetDefault("objectstore.key_prefix", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Log: LogConfig{
			Level:      configViper.GetString("log.level"),
			File:       configViper.GetString("log.file"),
			MaxSizeMB:  configViper.GetInt("log.max_size_mb"),
			MaxBackups: configViper.GetInt("log.max_backups"),
			MaxAgeDays: configViper.GetInt("log.max_age_days"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
		},
		CORSOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		Cascade: CascadeConfig{
			MaxDepth: configViper.GetInt("cascade.max_depth"),
			MaxNodes: configViper.GetInt("cascade.max_nodes"),
		},
		Batch: BatchConfig{
			Size:        configViper.GetInt("batch.size"),
			MaxAttempts: configViper.GetInt("batch.max_attempts"),
			Backoff:     configViper.GetDuration("batch.backoff"),
			Pause:       configViper.GetDuration("batch.pause"),
		},
		Worker: WorkerConfig{
			Enabled:      configViper.GetBool("worker.enabled"),
			PollInterval: configViper.GetDuration("worker.poll_interval"),
			BatchSize:    configViper.GetInt("worker.batch_size"),
			StaleAfter:   configViper.GetDuration("worker.stale_after"),
		},
		Usage: UsageConfig{
			StrictRollupWindow: configViper.GetBool("usage.strict_rollup_window"),
		},
		ObjectStore: ObjectStoreConfig{
			Driver:          strings.ToLower(strings.TrimSpace(configViper.GetString("objectstore.driver"))),
			Bucket:          configViper.GetString("objectstore.bucket"),
			Region:          configViper.GetString("objectstore.region"),
			Endpoint:        configViper.GetString("objectstore.endpoint"),
			AccessKeyID:     configViper.GetString("objectstore.access_key_id"),
			SecretAccessKey: configViper.GetString("objectstore.secret_access_key"),
			KeyPrefix:       configViper.GetString("objectstore.key_prefix"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// AuthEnabled reports whether routes require a service token.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.Auth.SigningSecret) != ""
}

func (c AppConfig) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.AuthEnabled() && strings.TrimSpace(c.Auth.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required when auth.signing_secret is set")
	}
	if c.Cascade.MaxDepth <= 0 || c.Cascade.MaxNodes <= 0 {
		return fmt.Errorf("cascade limits must be positive")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive")
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("batch.max_attempts must be positive")
	}
	switch c.ObjectStore.Driver {
	case "memory":
	case "s3":
		if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
			return fmt.Errorf("objectstore.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("objectstore.driver must be memory or s3, got %q", c.ObjectStore.Driver)
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated env string.
func splitOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
