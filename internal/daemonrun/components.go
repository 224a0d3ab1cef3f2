package daemonrun

import (
	"fmt"
	"log/slog"
	"time"

	"tagrouter/internal/beam"
	"tagrouter/internal/config"
	"tagrouter/internal/daemon"
	"tagrouter/internal/escalation"
	"tagrouter/internal/llmclassifier"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/services/fastclf"
	"tagrouter/internal/services/llm"
	"tagrouter/internal/services/llmclf"
	"tagrouter/internal/taxonomy"
	"tagrouter/internal/thresholds"
)

// ThresholdDefaults converts the configured default thresholds.
func ThresholdDefaults(t config.Thresholds) escalation.Thresholds {
	return escalation.Thresholds{Primary: t.Primary, Secondary: t.Secondary, Tertiary: t.Tertiary}
}

// BuildComponents wires the classifiers selected by cfg around an
// orchestrator. store may be nil, in which case thresholds always come from
// defaults. A nil defaults func uses the thresholds in cfg.
func BuildComponents(cfg *config.Config, store *thresholds.Store, defaults func() escalation.Thresholds, logger *slog.Logger) (daemon.Components, error) {
	var comps daemon.Components
	if cfg == nil {
		return comps, fmt.Errorf("config is required")
	}
	if defaults == nil {
		configured := ThresholdDefaults(cfg.Thresholds)
		defaults = func() escalation.Thresholds { return configured }
	}

	tax, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return comps, fmt.Errorf("load taxonomy: %w", err)
	}
	comps.Taxonomy = tax

	var fast orchestrator.FastPredictor
	switch cfg.FastClassifier.Mode {
	case config.ModeRemote:
		client := fastclf.NewClient(cfg.FastClassifier.URL, seconds(cfg.FastClassifier.TimeoutSeconds), logger)
		fast = client
		comps.FastHealth = client
	default:
		classifier := beam.New(tax, nil, cfg.FastClassifier.BeamWidths, logger)
		fast = classifier
		comps.EmbeddedFast = classifier
	}

	var expensive orchestrator.ExpensivePredictor
	switch cfg.ExpensiveClassifier.Mode {
	case config.ModeDisabled:
	case config.ModeRemote:
		client := llmclf.NewClient(cfg.ExpensiveClassifier.URL, seconds(cfg.ExpensiveClassifier.TimeoutSeconds), logger)
		expensive = client
		comps.ExpensiveHealth = client
	default:
		completer, err := llm.New(llm.Config{
			Provider:          cfg.LLM.Provider,
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			Referer:           cfg.LLM.Referer,
			Title:             cfg.LLM.Title,
			TimeoutSeconds:    cfg.LLM.TimeoutSeconds,
			MaxAttempts:       cfg.LLM.MaxAttempts,
			MaxTokens:         cfg.LLM.MaxTokens,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		if err != nil {
			return comps, fmt.Errorf("llm client: %w", err)
		}
		classifier := llmclassifier.New(completer, tax, logger)
		expensive = classifier
		comps.EmbeddedExpensive = classifier
	}

	var reader thresholds.Reader
	if store != nil {
		reader = store
		comps.Store = store
	}
	comps.Thresholds = thresholds.NewProvider(reader, defaults, logger)

	opts := []orchestrator.Option{
		orchestrator.WithThresholdSource(comps.Thresholds),
		orchestrator.WithTimeouts(seconds(cfg.FastClassifier.TimeoutSeconds), seconds(cfg.ExpensiveClassifier.TimeoutSeconds)),
		orchestrator.WithMaxChars(cfg.Text.MaxChars),
	}
	if expensive != nil {
		opts = append(opts, orchestrator.WithExpensive(expensive))
	}
	comps.Orchestrator = orchestrator.New(fast, logger, opts...)
	return comps, nil
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
