package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/auth"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/batch"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/config"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/database"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/logging"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/objectstore"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/repair"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/server"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/usage"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the services wired from configuration.
type app struct {
	config    config.AppConfig
	logger    *zap.Logger
	db        *gorm.DB
	metrics   *metrics.Metrics
	outbox    *reclamation.Outbox
	lifecycle *lifecycle.Service
	usage     *usage.Service
	repair    *repair.Service
}

func withApp(cmd *cobra.Command, run func(*app) error) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)
	return run(a)
}

func newApp(appConfig config.AppConfig) (*app, error) {
	logger, err := logging.NewLogger(logging.Options{
		Level:      appConfig.Log.Level,
		File:       appConfig.Log.File,
		MaxSizeMB:  appConfig.Log.MaxSizeMB,
		MaxBackups: appConfig.Log.MaxBackups,
		MaxAgeDays: appConfig.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Options{
		Driver: appConfig.Database.Driver,
		Path:   appConfig.Database.Path,
		DSN:    appConfig.Database.DSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	serviceMetrics := metrics.New(nil)
	batchSettings := batch.Settings{
		BatchSize: appConfig.Batch.Size,
		Pause:     appConfig.Batch.Pause,
		Retry: batch.RetryPolicy{
			MaxAttempts: appConfig.Batch.MaxAttempts,
			Backoff:     appConfig.Batch.Backoff,
		},
		Logger:  logger,
		Metrics: serviceMetrics,
	}

	outbox, err := reclamation.NewOutbox(reclamation.OutboxConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Metrics:  serviceMetrics,
	})
	if err != nil {
		return nil, err
	}

	lifecycleService, err := lifecycle.NewService(lifecycle.ServiceConfig{
		Database:   db,
		Outbox:     outbox,
		Clock:      time.Now,
		IDProvider: lifecycle.NewUUIDProvider(),
		Logger:     logger,
		Metrics:    serviceMetrics,
		Limits: lifecycle.TreeLimits{
			MaxDepth: appConfig.Cascade.MaxDepth,
			MaxNodes: appConfig.Cascade.MaxNodes,
		},
	})
	if err != nil {
		return nil, err
	}

	usageService, err := usage.NewService(usage.ServiceConfig{
		Database:              db,
		Clock:                 time.Now,
		Logger:                logger,
		Metrics:               serviceMetrics,
		Batch:                 batchSettings,
		AllowIncompleteWindow: !appConfig.Usage.StrictRollupWindow,
	})
	if err != nil {
		return nil, err
	}

	repairService, err := repair.NewService(repair.ServiceConfig{
		Database:  db,
		Lifecycle: lifecycleService,
		Outbox:    outbox,
		Logger:    logger,
		Batch:     batchSettings,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		config:    appConfig,
		logger:    logger,
		db:        db,
		metrics:   serviceMetrics,
		outbox:    outbox,
		lifecycle: lifecycleService,
		usage:     usageService,
		repair:    repairService,
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) serve(ctx context.Context) error {
	var validator server.TokenValidator
	if a.config.AuthEnabled() {
		tokenValidator, err := auth.NewValidator(auth.ValidatorConfig{
			SigningSecret: []byte(a.config.Auth.SigningSecret),
			Issuer:        a.config.Auth.Issuer,
		})
		if err != nil {
			return err
		}
		validator = tokenValidator
	} else {
		a.logger.Warn("auth.signing_secret is empty; HTTP routes are unauthenticated")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Lifecycle:      a.lifecycle,
		Reclamation:    a.outbox,
		Usage:          a.usage,
		TokenValidator: validator,
		AllowedOrigins: a.config.CORSOrigins,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	if a.config.Worker.Enabled {
		reclaimer, err := a.newReclaimer(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := reclaimer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("reclamation worker: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("server starting", zap.String("address", a.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (a *app) newReclaimer(ctx context.Context) (*worker.Reclaimer, error) {
	deleter, err := objectstore.New(ctx, objectstore.Config{
		Driver:          a.config.ObjectStore.Driver,
		Bucket:          a.config.ObjectStore.Bucket,
		Region:          a.config.ObjectStore.Region,
		Endpoint:        a.config.ObjectStore.Endpoint,
		AccessKeyID:     a.config.ObjectStore.AccessKeyID,
		SecretAccessKey: a.config.ObjectStore.SecretAccessKey,
		KeyPrefix:       a.config.ObjectStore.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	return worker.NewReclaimer(worker.Config{
		Queue:        a.outbox,
		Deleter:      deleter,
		PollInterval: a.config.Worker.PollInterval,
		BatchSize:    a.config.Worker.BatchSize,
		StaleAfter:   a.config.Worker.StaleAfter,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
}

var periodLayouts = map[string]string{
	"daily":   time.DateOnly,
	"monthly": "2006-01",
	"yearly":  "2006",
}

func (a *app) rollup(ctx context.Context, ledgerType, rawPeriod string) (usage.RollupReport, error) {
	var period time.Time
	if rawPeriod != "" {
		parsed, err := time.ParseInLocation(periodLayouts[ledgerType], rawPeriod, time.UTC)
		if err != nil {
			return usage.RollupReport{}, fmt.Errorf("invalid %s period %q: %w", ledgerType, rawPeriod, err)
		}
		period = parsed
	}

	switch ledgerType {
	case "daily":
		if period.IsZero() {
			return a.usage.RunDailyRollup(ctx)
		}
		return a.usage.RunDailyRollupFor(ctx, period)
	case "monthly":
		if period.IsZero() {
			return a.usage.RunMonthlyRollup(ctx)
		}
		return a.usage.RunMonthlyRollupFor(ctx, period)
	case "yearly":
		if period.IsZero() {
			return a.usage.RunYearlyRollup(ctx)
		}
		return a.usage.RunYearlyRollupFor(ctx, period)
	default:
		return usage.RollupReport{}, fmt.Errorf("unknown rollup type %q", ledgerType)
	}
}
