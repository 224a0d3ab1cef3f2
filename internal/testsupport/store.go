package testsupport

import (
	"testing"

	"tagrouter/internal/config"
	"tagrouter/internal/thresholds"
)

// MustOpenStore opens the threshold store for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *thresholds.Store {
	t.Helper()

	store, err := thresholds.Open(cfg.ThresholdStorePath())
	if err != nil {
		t.Fatalf("thresholds.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
