// Package cli implements the audit command-line interface.
package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bcdannyboy/SharepointAudit/internal/app"
	"github.com/bcdannyboy/SharepointAudit/internal/config"
	internaldb "github.com/bcdannyboy/SharepointAudit/internal/db"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
)

var version = "dev"

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "audit",
		Short:         "SharePoint tenant permission auditor",
		Long:          "Discovers a SharePoint tenant's resource tree and resolves the effective permissions of every resource.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newServeCmd(&configPath),
		newRunsCmd(&configPath),
		newRecoverCmd(&configPath),
		newCleanupCmd(&configPath),
	)
	return rootCmd
}

// runtime bundles everything a command needs after setup.
type runtime struct {
	cfg     *config.Config
	app     *app.App
	logger  *slog.Logger
	writeDB *sql.DB
	readDB  *sql.DB
}

func (r *runtime) close() {
	_ = r.readDB.Close()
	_ = r.writeDB.Close()
}

func setup(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.DBPath, 4)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if err := internaldb.RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}

	a, err := app.New(app.Deps{
		Cfg:     cfg,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Tokens:  graph.NewEnvTokenProvider(cfg.Auth.TokenEnvVar),
		Logger:  logger,
	})
	if err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, app: a, logger: logger, writeDB: writeDB, readDB: readDB}, nil
}
