package daemon_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"tagrouter/internal/daemon"
	"tagrouter/internal/logging"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, daemon.Components{
		Orchestrator: orchestrator.New(nil, logging.NewNop()),
		Store:        store,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status()
	if !status.Running || status.ThresholdStorePath != cfg.ThresholdStorePath() {
		t.Fatalf("unexpected status %+v", status)
	}

	resp, err := http.Get("http://" + d.Address() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a fast classifier, got %d", resp.StatusCode)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(cfg, daemon.Components{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected lock to block a second instance")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}
