package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tagrouter/internal/config"
	"tagrouter/internal/logging"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/taxonomy"
	"tagrouter/internal/thresholds"
)

// HealthChecker probes a collaborator.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Components are the collaborators the daemon serves. Only Orchestrator is
// required for classification; missing optional parts disable their routes.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	// Store backs threshold writes and history. Nil makes them unavailable.
	Store      *thresholds.Store
	Thresholds *thresholds.Provider
	// FastHealth and ExpensiveHealth probe the collaborators. Nil means the
	// collaborator runs in process and is always ready.
	FastHealth      HealthChecker
	ExpensiveHealth HealthChecker
	// EmbeddedFast and EmbeddedExpensive are exposed at /fast/predict and
	// /llm/predict when set.
	EmbeddedFast      orchestrator.FastPredictor
	EmbeddedExpensive orchestrator.ExpensivePredictor
	Taxonomy          *taxonomy.Taxonomy
}

// Daemon serves the API and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running            bool
	LockFilePath       string
	ThresholdStorePath string
	APIBind            string
	EscalationEnabled  bool
}

// New constructs a daemon around the supplied components.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, comps, logger)
	return d, nil
}

// Start acquires the instance lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tagrouter instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("tagrouter daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
		logging.Bool("escalation_enabled", d.comps.Orchestrator.EscalationEnabled()),
	)
	return nil
}

// Stop shuts the API down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
			logging.String(logging.FieldErrorHint, "remove the lock file if no tagrouter process is running"),
			logging.String(logging.FieldImpact, "next start may report another instance running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("tagrouter daemon stopped")
}

// Close stops the daemon and closes the threshold store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.comps.Store != nil {
		return d.comps.Store.Close()
	}
	return nil
}

// Handler returns the API routes without starting a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Address returns the listener address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:           d.running.Load(),
		LockFilePath:      d.lockPath,
		APIBind:           d.cfg.Paths.APIBind,
		EscalationEnabled: d.comps.Orchestrator.EscalationEnabled(),
	}
	if d.comps.Store != nil {
		status.ThresholdStorePath = d.comps.Store.Path()
	}
	return status
}
