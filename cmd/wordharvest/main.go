// Package main provides the wordharvest CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cognicore/wordharvest/internal/cli"
	appconfig "github.com/cognicore/wordharvest/internal/config"
	"github.com/cognicore/wordharvest/internal/jsonl"
	"github.com/cognicore/wordharvest/internal/logging"
	"github.com/cognicore/wordharvest/pkg/wordharvest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/config"
	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/reddit"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store/postgres"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store/sqlite"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for usage and configuration problems, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, internalerr.ErrInvalidInput) || errors.Is(err, internalerr.ErrInvalidConfig) {
		return 2
	}
	return 1
}

// app carries what every subcommand needs once flags and env are resolved.
type app struct {
	env        *cli.EnvLoader
	cfg        *appconfig.Config
	logger     zerolog.Logger
	storeKind  string
	sqlitePath string
	logLevel   string
}

// newRootCmd creates the root command for the wordharvest CLI.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "wordharvest",
		Short:         "Scrape subreddits and track word frequencies",
		Long:          "wordharvest collects the newest posts of subreddits, deduplicates them and maintains per-subreddit word statistics.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.SetVersionTemplate("wordharvest version {{.Version}}\n")

	a.env = cli.AddEnvFlag(rootCmd.PersistentFlags(), ".env", "Path to the .env file")
	rootCmd.PersistentFlags().StringVar(&a.storeKind, "store", "", "Store backend: sqlite or postgres (overrides WH_STORE)")
	rootCmd.PersistentFlags().StringVar(&a.sqlitePath, "db", "", "SQLite database path (overrides WH_SQLITE_PATH)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newScrapeCmd(a),
		newAnalyzeCmd(a),
		newTopCmd(a),
		newWordCmd(a),
		newSearchCmd(a),
		newSourcesCmd(a),
		newSessionsCmd(a),
		newStatsCmd(a),
		newCleanCmd(a),
		newResetCmd(a),
		newExportCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func (a *app) init() error {
	loaded, envErr := a.env.Load()
	if envErr != nil && a.env.Explicit() {
		return fmt.Errorf("%w: %w", envErr, internalerr.ErrInvalidConfig)
	}

	cfg, err := appconfig.LoadWith(func(c *appconfig.Config) {
		if a.storeKind != "" {
			c.Store = a.storeKind
		}
		if a.sqlitePath != "" {
			c.SQLitePath = a.sqlitePath
		}
		if a.logLevel != "" {
			c.LogLevel = a.logLevel
		}
	})
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", err, internalerr.ErrInvalidConfig)
	}
	a.logger = logger
	if loaded != "" {
		a.logger.Debug().Str("path", loaded).Msg("loaded environment file")
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.StoreKind() {
	case appconfig.StorePostgres:
		return postgres.Open(ctx, postgres.Options{
			DSN:      a.cfg.DatabaseURL,
			MinConns: a.cfg.DBMinConns,
			MaxConns: a.cfg.DBMaxConns,
			LogLevel: a.cfg.LogLevel,
		})
	default:
		return sqlite.OpenSQLite(ctx, a.cfg.SQLitePath)
	}
}

// fetcher returns the JSONL fetcher when fromFile is set, the Reddit client otherwise.
func (a *app) fetcher(fromFile string) ingest.Fetcher {
	if strings.TrimSpace(fromFile) != "" {
		return &jsonl.Fetcher{Path: fromFile}
	}
	return reddit.New(reddit.Options{
		BaseURL:   a.cfg.RedditBaseURL,
		UserAgent: a.cfg.UserAgent,
		Timeout:   a.cfg.FetchTimeout,
	})
}

// open builds a Harvester. fetcher may be nil for read-only commands.
func (a *app) open(ctx context.Context, fetcher ingest.Fetcher) (*wordharvest.Harvester, error) {
	norm, err := config.NormalizerConfig(a.cfg.NormalizerConfig)
	if err != nil {
		return nil, err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.StoreKind(), err)
	}

	h, err := wordharvest.New(wordharvest.Options{
		Store:      st,
		Fetcher:    fetcher,
		Normalizer: norm,
		Policy:     a.cfg.Policy(),
		Logger:     a.logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return h, nil
}
