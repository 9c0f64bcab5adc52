package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"flakehound/pkg/config"
	"flakehound/pkg/forge"
	"flakehound/pkg/ingest"
	"flakehound/pkg/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile       string
	logLevel      string
	dbPath        string
	dbDriver      string
	artifactGlobs []string
	log           *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "flakehound",
	Short: "CI test-result ingestion and flaky-test detection",
	Long: `Flakehound ingests JUnit XML artifacts from GitHub Actions runs into a
local database and answers analytical questions over them: which tests
failed in the latest run, which tests are flaky across branches, and
longitudinal summaries per repository.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flakehound %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level ("+strings.Join(logLevels(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "",
		"database path (sqlite driver; use :memory: for an ephemeral store)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "",
		"database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().StringSliceVar(&artifactGlobs, "artifact-glob", nil,
		"only fetch artifacts whose name matches a glob (can be repeated)")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// loadConfig builds the effective configuration: file (when given),
// defaults, then CLI flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if dbDriver != "" {
		cfg.Database.Driver = dbDriver
	}

	if dbPath != "" {
		cfg.Database.SQLite.Path = dbPath
	}

	if len(artifactGlobs) > 0 {
		cfg.Fetch.ArtifactGlobs = artifactGlobs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return cfg, nil
}

// app bundles the wired components behind every command: configuration,
// store, forge client, and the ingestion pipeline. No package-level
// mutable options exist; each command builds an app explicitly.
type app struct {
	cfg      *config.Config
	store    store.Store
	forge    *forge.Client
	ingester *ingest.Ingester
}

// newApp loads configuration and opens every collaborator.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st := store.New(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, err
	}

	fc, err := forge.NewClient(log, &cfg.Forge)
	if err != nil {
		_ = st.Stop()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    st,
		forge:    fc,
		ingester: ingest.New(log, &cfg.Fetch, st, fc),
	}, nil
}

func (a *app) close() {
	if err := a.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

// resolveRepos defaults to the working checkout's origin repo when no
// --repo flag was given.
func resolveRepos(ctx context.Context, repos []string) ([]string, error) {
	if len(repos) > 0 {
		return repos, nil
	}

	repo, err := forge.CurrentRepo(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"no --repo given and the current directory is not a GitHub checkout: %w",
			err)
	}

	return []string{repo}, nil
}
