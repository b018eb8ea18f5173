package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInit_WithValidConfig_SetsUpJSONLogger(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:8000/api")
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	cfg, log, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8000/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}

	log.Debug("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" || entry["app"] != "customervoice" {
		t.Errorf("entry = %v", entry)
	}
	if slog.Default() != log {
		t.Error("Init should install the logger as the default")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("API_BASE_URL", "")

	cfg, log, err := Init(io.Discard)
	if err == nil {
		t.Fatal("expected error for missing API_BASE_URL, got nil")
	}
	if cfg != nil || log != nil {
		t.Error("expected nil config and logger on error")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, logs bytes.Buffer
	err := run(context.Background(), streams{out: &out, log: &logs}, []string{"worker"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(logs.String(), "Usage:") {
		t.Errorf("usage not printed to log stream: %q", logs.String())
	}
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), streams{out: &out, log: io.Discard}, []string{"help"}); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Usage: customervoice") {
		t.Errorf("out = %q", out.String())
	}
}

func TestRunHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
			err := runHealthcheck(context.Background(), port)
			if (err != nil) != tt.wantErr {
				t.Errorf("runHealthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://user:secret@db:5432/cv?sslmode=disable", "postgres://user:xxxxx@db:5432/cv?sslmode=disable"},
		{"postgres://db:5432/cv", "postgres://db:5432/cv"},
		{"not a url", "***"},
	}
	for _, tt := range tests {
		if got := maskDatabaseURL(tt.in); got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
