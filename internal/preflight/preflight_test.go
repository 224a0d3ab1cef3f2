package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tagrouter/internal/config"
	"tagrouter/internal/testsupport"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(context.Context) error {
	return f.err
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckService(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		passed  bool
		detail  string
	}{
		{name: "healthy", checker: fakeChecker{}, passed: true, detail: "Reachable"},
		{name: "failing", checker: fakeChecker{err: errors.New("http 503: warming up")}, detail: "warming up"},
		{name: "timeout", checker: fakeChecker{err: context.DeadlineExceeded}, detail: "timed out"},
		{name: "missing", checker: nil, detail: "not configured"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := CheckService(context.Background(), "svc", tc.checker)
			if result.Passed != tc.passed || !strings.Contains(result.Detail, tc.detail) {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestCheckTaxonomy(t *testing.T) {
	if result := CheckTaxonomy(""); !result.Passed {
		t.Fatalf("built-in taxonomy should load: %s", result.Detail)
	}
	bad := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "tax.yaml"), "name: broken\ntags: [\n")
	if result := CheckTaxonomy(bad); result.Passed {
		t.Fatal("expected failure for malformed taxonomy")
	}
}

func TestCheckThresholdStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "thresholds.db")
	result := CheckThresholdStore(context.Background(), path)
	if !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database at %s: %v", path, err)
	}
}

func TestCheckLLM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer server.Close()

	base := config.Default().LLM
	base.BaseURL = server.URL
	base.Model = "demo-model"

	missing := base
	if result := CheckLLM(context.Background(), "LLM", missing); result.Passed || result.Detail != "API key missing" {
		t.Fatalf("expected missing key failure, got %+v", result)
	}

	good := base
	good.APIKey = "good-key"
	if result := CheckLLM(context.Background(), "LLM", good); !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}

	bad := base
	bad.APIKey = "bad-key"
	if result := CheckLLM(context.Background(), "LLM", bad); result.Passed {
		t.Fatalf("expected auth failure, got %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalOnlyWhenEmbedded(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithExpensiveMode(config.ModeDisabled, ""))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 local results, got %+v", results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestRunAll_ProbesRemoteClassifiers(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithFastMode(config.ModeRemote, healthy.URL),
		testsupport.WithExpensiveMode(config.ModeRemote, down.URL),
	)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	if r, ok := byName["Fast classifier"]; !ok || !r.Passed {
		t.Fatalf("expected healthy fast classifier, got %+v", r)
	}
	if r, ok := byName["Expensive classifier"]; !ok || r.Passed {
		t.Fatalf("expected failing expensive classifier, got %+v", r)
	}
	if failed := Failed(results); len(failed) != 1 || failed[0].Name != "Expensive classifier" {
		t.Fatalf("unexpected failures %+v", failed)
	}
}
