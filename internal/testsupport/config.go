package testsupport

import (
	"path/filepath"
	"testing"

	"tagrouter/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.LLM.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithExpensiveMode sets the expensive classifier mode and URL.
func WithExpensiveMode(mode, url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ExpensiveClassifier.Mode = mode
		b.cfg.ExpensiveClassifier.URL = url
	}
}

// WithFastMode sets the fast classifier mode and URL.
func WithFastMode(mode, url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FastClassifier.Mode = mode
		b.cfg.FastClassifier.URL = url
	}
}

// WithThresholds overrides the configured default thresholds.
func WithThresholds(primary, secondary, tertiary float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Thresholds = config.Thresholds{Primary: primary, Secondary: secondary, Tertiary: tertiary}
	}
}

// WithAPIToken requires a bearer token for threshold writes.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
