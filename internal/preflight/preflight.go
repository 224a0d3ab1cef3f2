package preflight

import (
	"context"
	"time"

	"tagrouter/internal/config"
	"tagrouter/internal/logging"
	"tagrouter/internal/services/fastclf"
	"tagrouter/internal/services/llmclf"
)

const serviceCheckTimeout = 5 * time.Second

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunLocal executes the checks that need no network: directories, the
// taxonomy file and the threshold database.
func RunLocal(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckTaxonomy(cfg.Taxonomy.Path),
		CheckThresholdStore(ctx, cfg.ThresholdStorePath()),
	}
}

// RunAll executes the local checks followed by collaborator checks for the
// configured classifier modes.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := RunLocal(ctx, cfg)
	nop := logging.NewNop()

	if cfg.FastClassifier.Mode == config.ModeRemote {
		client := fastclf.NewClient(cfg.FastClassifier.URL, serviceCheckTimeout, nop)
		results = append(results, CheckService(ctx, "Fast classifier", client))
	}

	switch cfg.ExpensiveClassifier.Mode {
	case config.ModeRemote:
		client := llmclf.NewClient(cfg.ExpensiveClassifier.URL, serviceCheckTimeout, nop)
		results = append(results, CheckService(ctx, "Expensive classifier", client))
	case config.ModeEmbedded:
		results = append(results, CheckLLM(ctx, "LLM", cfg.LLM))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, result := range results {
		if !result.Passed {
			out = append(out, result)
		}
	}
	return out
}
