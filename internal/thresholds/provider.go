package thresholds

import (
	"context"
	"log/slog"

	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/services"
)

// Threshold sources reported alongside the effective values.
const (
	SourceStore    = "store"
	SourceDefaults = "defaults"
)

// Reader is the read side of Store.
type Reader interface {
	Get(ctx context.Context) (map[hierarchy.Level]float64, error)
}

// Provider resolves the effective thresholds at the start of every request:
// stored values over configured defaults, or the defaults alone when the
// store is missing or failing.
type Provider struct {
	store    Reader
	defaults func() escalation.Thresholds
	logger   *slog.Logger
}

// NewProvider builds a provider. A nil defaults func selects
// escalation.DefaultThresholds; a nil store always yields defaults.
func NewProvider(store Reader, defaults func() escalation.Thresholds, logger *slog.Logger) *Provider {
	if defaults == nil {
		defaults = escalation.DefaultThresholds
	}
	return &Provider{
		store:    store,
		defaults: defaults,
		logger:   logging.NewComponentLogger(logger, component),
	}
}

// Thresholds returns the effective thresholds and where they came from.
func (p *Provider) Thresholds(ctx context.Context) (escalation.Thresholds, string) {
	base := p.defaults()
	if p.store == nil {
		return base, SourceDefaults
	}
	stored, err := p.store.Get(ctx)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "threshold store unavailable",
			"threshold_store_unavailable",
			logging.Error(services.Wrap(services.ErrConfiguration, component, "get", "read thresholds", err)),
			logging.String(logging.FieldErrorHint, "check the thresholds database under paths.data_dir"),
			logging.String(logging.FieldImpact, "configured default thresholds used for this request"),
		)
		return base, SourceDefaults
	}
	if len(stored) == 0 {
		return base, SourceDefaults
	}
	return base.Merge(stored), SourceStore
}

// Defaults returns the configured defaults without consulting the store.
func (p *Provider) Defaults() escalation.Thresholds {
	return p.defaults()
}
