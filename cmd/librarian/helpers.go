package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"librarian/internal/config"
	"librarian/internal/history"
	"librarian/internal/report"
	"librarian/internal/repos"
	"librarian/internal/scheduler"
	"librarian/internal/slogutil"
	"librarian/internal/usecase"
)

// loadConfig loads and validates the configuration, applying the global
// logging flags on top.
func loadConfig() (*config.Config, error) {
	result, err := config.LoadConfigWithDetails(rootFlag, configFlag)
	if err != nil {
		return nil, err
	}
	cfg := result.Config
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the stderr logger, optionally teeing into extra.
func newLogger(cfg *config.Config, extra io.Writer) *slog.Logger {
	level := slogutil.LevelFromVerbosity(verbosity, quiet, slogutil.LevelFromString(cfg.Logging.Level))
	handler := slogutil.NewHandler(os.Stderr, cfg.Logging.Format, level)
	if extra != nil {
		fileHandler := slogutil.NewLineHandler(extra, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = slogutil.NewTeeHandler(handler, fileHandler)
	}
	return slog.New(handler)
}

// resolvePath makes p absolute relative to the workspace root.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootFlag, p)
}

// newSignalContext is cancelled on SIGINT or SIGTERM.
func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newReportWriter(cfg *config.Config) *report.Writer {
	return report.NewWriter(resolvePath(cfg.Report.Dir), cfg.Report.Compress)
}

// openStore opens the history store, or returns nil when it is disabled.
func openStore(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	if cfg.History.DBDir == "" {
		return nil, nil
	}
	return history.OpenStore(resolvePath(cfg.History.DBDir), logger)
}

// loadHistory prefers the run store. The prior report is only used when
// the store is disabled or still empty, since the store already holds the
// runs that report came from.
func loadHistory(ctx context.Context, cfg *config.Config, store *history.Store) (history.Snapshot, error) {
	if store != nil {
		stored, err := store.Snapshot(ctx, cfg.History.MaxRuns)
		if err != nil {
			return history.Snapshot{}, err
		}
		if len(stored.Records) > 0 {
			return stored, nil
		}
	}
	return history.Load(resolvePath(cfg.History.ReportPath))
}

// loadInputs reads the catalog, the repositories and the history. Any
// unreadable input aborts before execution starts.
func loadInputs(ctx context.Context, cfg *config.Config, opts scheduler.Options, store *history.Store, logger *slog.Logger) (scheduler.Inputs, error) {
	catalog, err := usecase.LoadCatalog(resolvePath(cfg.Catalog.Path), opts.Range)
	if err != nil {
		return scheduler.Inputs{}, err
	}

	resolved, err := repos.Resolve(repos.ResolveOptions{
		ManifestPath: resolvePath(cfg.Repos.Manifest),
		ReposDir:     resolvePath(cfg.Repos.Dir),
		MaxRepos:     opts.MaxRepos,
	})
	if err != nil {
		return scheduler.Inputs{}, err
	}
	for _, e := range resolved.Entries {
		if e.State() == repos.RepoStateMissing {
			logger.Warn("Repository path does not exist", "repo", e.Name, "path", e.Path)
		}
	}

	var snapshot history.Snapshot
	if opts.SelectionMode.UsesHistory() {
		snapshot, err = loadHistory(ctx, cfg, store)
		if err != nil {
			return scheduler.Inputs{}, err
		}
	}

	logger.Info("Inputs loaded",
		"useCases", len(catalog),
		"repos", len(resolved.Entries),
		"reposFrom", string(resolved.Source),
		"historyRecords", len(snapshot.Records),
	)

	return scheduler.Inputs{Catalog: catalog, Repos: resolved.Entries, History: snapshot}, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
