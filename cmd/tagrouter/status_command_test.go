package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tagrouter/internal/api"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestStatusRendersComponents(t *testing.T) {
	env := setupCLITestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.HealthResponse{
			Status: "unavailable",
			Components: []api.ComponentHealth{
				{Name: "fast_classifier", Ready: false, Detail: "connection refused"},
				{Name: "threshold_store", Ready: true},
			},
		})
	}))
	defer server.Close()

	out, _, err := runCLI(t, []string{"status"}, env.configPath, "--server", server.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== tagrouter ==")
	requireContains(t, out, "[ERROR] "+server.URL)
	requireContains(t, out, "[ERROR] connection refused")
	requireContains(t, out, "threshold_store:")
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("buffers must not be colorized: %q", out)
	}
}

func TestStatusUnreachableServer(t *testing.T) {
	env := setupCLITestEnv(t)
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, _, err := runCLI(t, []string{"status"}, env.configPath, "--server", url)
	if err == nil {
		t.Fatal("expected error for a stopped server")
	}
}

func TestStatusBoardAlignsAndSummarizes(t *testing.T) {
	board := newStatusBoard("Preflight")
	board.addCheck("taxonomy", true, "")
	board.addCheck("expensive_classifier", false, "timeout")
	board.add("Server", statusWarn, "degraded")

	lines := board.lines(false)
	if len(lines) != 5 {
		t.Fatalf("expected header, summary and 3 rows, got %q", lines)
	}
	if lines[0] != "== Preflight ==" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if lines[1] != statusIndent+"3 checked, 1 failing" {
		t.Fatalf("unexpected summary %q", lines[1])
	}
	width := len("expensive_classifier:")
	want := fmt.Sprintf("%s%-*s %s", statusIndent, width, "taxonomy:", "[OK]")
	if lines[2] != want {
		t.Fatalf("row mismatch\n got: %q\nwant: %q", lines[2], want)
	}
	if !strings.HasSuffix(lines[3], "[ERROR] timeout") || !strings.HasSuffix(lines[4], "[WARN] degraded") {
		t.Fatalf("unexpected rows %q", lines[2:])
	}
	if board.failures() != 1 {
		t.Fatalf("failures = %d, want 1", board.failures())
	}

	colored := board.lines(true)
	if !strings.HasPrefix(colored[2], ansiGreen) || !strings.HasSuffix(colored[2], ansiReset) {
		t.Fatalf("expected green row, got %q", colored[2])
	}
	if !strings.HasPrefix(colored[3], ansiRed) {
		t.Fatalf("expected red row, got %q", colored[3])
	}
}

func TestStatusBoardMinimumWidth(t *testing.T) {
	board := newStatusBoard("tagrouter")
	board.addCheck("db", true, "")
	want := fmt.Sprintf("%s%-*s %s", statusIndent, minLabelWidth, "db:", "[OK]")
	if got := board.lines(false)[2]; got != want {
		t.Fatalf("row mismatch\n got: %q\nwant: %q", got, want)
	}
	if got := board.summary(); got != "1 checked, all passing" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestHealthKind(t *testing.T) {
	tests := map[string]statusKind{
		"ok":          statusOK,
		"degraded":    statusWarn,
		"unavailable": statusError,
		"":            statusInfo,
	}
	for status, want := range tests {
		if got := healthKind(status); got != want {
			t.Fatalf("healthKind(%q) = %v, want %v", status, got, want)
		}
	}
}
