package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/auth"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/config"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "drive-lifecycle",
		Short:        "Drive entity lifecycle, reclamation and usage service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newRollupCommand(), newRepairCommand(), newTokenCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Rotated log file, in addition to stderr")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")
	cmd.PersistentFlags().Bool("worker", defaults.GetBool("worker.enabled"), "Run the reclamation worker alongside the server")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "worker.enabled", "worker")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the internal HTTP interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				return a.serve(cmd.Context())
			})
		},
	}
}

func newRollupCommand() *cobra.Command {
	var period string
	rollupCmd := &cobra.Command{
		Use:   "rollup",
		Short: "Fold usage ledger rows for a closed period",
	}
	rollupCmd.PersistentFlags().StringVar(&period, "period", "", "Period to roll up (YYYY-MM-DD, YYYY-MM or YYYY); defaults to the previous one")

	for _, ledgerType := range []string{"daily", "monthly", "yearly"} {
		rollupCmd.AddCommand(&cobra.Command{
			Use:   ledgerType,
			Short: fmt.Sprintf("Run the %s rollup", ledgerType),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(a *app) error {
					report, err := a.rollup(cmd.Context(), ledgerType, period)
					if err != nil {
						return err
					}
					a.logger.Info("rollup finished",
						zap.String("type", string(report.Type)),
						zap.String("period", report.Period),
						zap.Int64("users", report.Users),
						zap.Int64("rows_written", report.RowsWritten))
					return nil
				})
			},
		})
	}
	return rollupCmd
}

func newRepairCommand() *cobra.Command {
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Run restartable repair jobs over the entity store",
	}
	repairCmd.AddCommand(&cobra.Command{
		Use:   "orphans",
		Short: "Remove folders and delete files whose parent is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if _, err := a.repair.OrphanFolders(cmd.Context()); err != nil {
					return err
				}
				_, err := a.repair.OrphanFiles(cmd.Context())
				return err
			})
		},
	})
	repairCmd.AddCommand(&cobra.Command{
		Use:   "backfill",
		Short: "Write reclamation records missing for terminal entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				_, err := a.repair.BackfillReclamation(cmd.Context())
				return err
			})
		},
	})
	repairCmd.AddCommand(&cobra.Command{
		Use:   "stale",
		Short: "Return stale reclamation claims to their queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				for _, kind := range reclamation.Kinds() {
					reset, err := a.outbox.ResetStale(cmd.Context(), kind, a.config.Worker.StaleAfter)
					if err != nil {
						return err
					}
					a.logger.Info("stale claims reset", zap.String("kind", kind.String()), zap.Int64("records", reset))
				}
				return nil
			})
		},
	})
	return repairCmd
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a service token for the HTTP interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(auth.IssuerConfig{
				SigningSecret: []byte(appConfig.Auth.SigningSecret),
				Issuer:        appConfig.Auth.Issuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return tokenCmd
}
