package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tagrouter/internal/config"
	"tagrouter/internal/daemon"
	"tagrouter/internal/escalation"
	"tagrouter/internal/logging"
	"tagrouter/internal/preflight"
	"tagrouter/internal/thresholds"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is watched for threshold default edits when the file exists.
	ConfigPath  string
	LogLevel    string
	Development bool
}

// Run starts the tagrouter server and blocks until a signal or ctx ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := cfg.LogPath()
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.DataDir, "tagrouter.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)
	logPreflight(signalCtx, logger, cfg)

	store, err := thresholds.Open(cfg.ThresholdStorePath())
	if err != nil {
		logging.WarnWithContext(logger, "threshold store unavailable", "threshold_store_open_failed",
			logging.Error(err),
			logging.String("path", cfg.ThresholdStorePath()),
			logging.String(logging.FieldErrorHint, "check permissions on paths.data_dir"),
			logging.String(logging.FieldImpact, "configured default thresholds used; threshold writes disabled"),
		)
		store = nil
	}

	defaults := watchDefaults(signalCtx, cfg, opts.ConfigPath, logger)
	comps, err := BuildComponents(cfg, store, defaults, logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}

	d, err := daemon.New(cfg, comps, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("tagrouter daemon shutting down")
	return nil
}

// watchDefaults follows [thresholds] edits in the config file. Without a
// readable config file the loaded values stay fixed.
func watchDefaults(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) func() escalation.Thresholds {
	fixed := ThresholdDefaults(cfg.Thresholds)
	static := func() escalation.Thresholds { return fixed }
	if strings.TrimSpace(path) == "" {
		return static
	}
	if _, err := os.Stat(path); err != nil {
		return static
	}
	watcher, err := thresholds.NewWatcher(path, fixed, logger)
	if err != nil {
		logging.WarnWithContext(logger, "config watcher unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the server after editing thresholds"),
			logging.String(logging.FieldImpact, "threshold defaults fixed until restart"),
		)
		return static
	}
	go watcher.Run(ctx)
	return watcher.Defaults
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logPreflight reports failed local checks. The server still starts; each
// failure is handled again where it matters.
func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunLocal(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `tagrouter config validate --check` for details"),
		)
	}
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("fast_mode", cfg.FastClassifier.Mode),
		logging.String("expensive_mode", cfg.ExpensiveClassifier.Mode),
		logging.String("llm_provider", cfg.LLM.Provider),
		logging.String("llm_model", cfg.LLM.Model),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
		logging.String("taxonomy", taxonomyLabel(cfg.Taxonomy.Path)),
		logging.Float64("threshold_primary", cfg.Thresholds.Primary),
		logging.Float64("threshold_secondary", cfg.Thresholds.Secondary),
		logging.Float64("threshold_tertiary", cfg.Thresholds.Tertiary),
	)
}

func taxonomyLabel(path string) string {
	if strings.TrimSpace(path) == "" {
		return "built-in"
	}
	return path
}
