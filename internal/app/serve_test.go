package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/customervoice/internal/config"
	"github.com/hitoshi/customervoice/internal/logger"
)

func TestDashboardServer_WithoutDatabase(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOURCES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}

	srv, err := newDashboardServer(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newDashboardServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.Start(ctx)

	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"go_goroutines", "customervoice_workspaces 0"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Get(ts.URL + "/api/insights")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("/api/insights without login = %d, want 401", resp.StatusCode)
	}
}

func TestDashboardServer_InvalidSourcesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources: [{id: x}]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOURCES_FILE", path)
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := newDashboardServer(cfg, logger.Discard()); err == nil {
		t.Error("expected error for a source without name and url")
	}
}
