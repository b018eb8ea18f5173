package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/customervoice/internal/api"
	"github.com/hitoshi/customervoice/internal/api/apitest"
	"github.com/hitoshi/customervoice/internal/apiclient"
	"github.com/hitoshi/customervoice/internal/dashboard"
	"github.com/hitoshi/customervoice/internal/ingest"
	"github.com/hitoshi/customervoice/internal/metrics"
	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/storage"
)

const (
	testEmail    = "ana@example.com"
	testPassword = "s3cret-pass"
	digestToken  = "digest-tok"
)

// testEnv は偽REST APIとダッシュボードサーバーと、Cookieを保持するブラウザ役のクライアント。
type testEnv struct {
	t        *testing.T
	upstream *apitest.Server
	server   *httptest.Server
	client   *http.Client
	registry *dashboard.Registry
	csrf     string
}

type envOptions struct {
	digestToken string
	rateLimit   *middleware.RateLimiterConfig
	sources     []ingest.Source
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	upstream := apitest.New(t)
	upstream.AddUser(testEmail, testPassword, "Ana")

	logger := slog.New(slog.DiscardHandler)
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	requester, err := apiclient.New(apiclient.Options{
		BaseURL:    upstream.URL,
		HTTPClient: upstream.Client(),
		Logger:     logger,
		Recorder:   collector,
	})
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	var digestSource api.TokenSource
	if opts.digestToken != "" {
		digestSource = api.StaticToken(opts.digestToken)
	}
	registry := dashboard.NewRegistry(dashboard.RegistryOptions{
		API:    api.NewClient(requester, nil, digestSource),
		Store:  storage.NewMemory(),
		Logger: logger,
		Gauge:  collector,
	})

	rlCfg := middleware.DefaultRateLimiterConfig(120)
	if opts.rateLimit != nil {
		rlCfg = *opts.rateLimit
	}
	rl := middleware.NewRateLimiter(rlCfg, logger)
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		Workspaces:        registry,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(promReg),
		RateLimiter:       rl,
		CORSAllowedOrigin: "http://localhost:3000",
		Sources:           opts.sources,
		ImporterOptions:   ingest.ImporterOptions{HTTPClient: http.DefaultClient, ValidateURL: func(string) error { return nil }, Logger: logger},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		t:        t,
		upstream: upstream,
		server:   server,
		client:   &http.Client{Jar: jar, Timeout: 5 * time.Second},
		registry: registry,
	}
}

// do はリクエストを送り、ステータスとボディを返す。
// 状態変更メソッドにはCSRFトークンを付ける。
func (e *testEnv) do(method, path string, body any) (int, []byte) {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		e.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && e.csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, e.csrf)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatal(err)
	}
	return resp.StatusCode, data
}

// fetchCSRF はCSRFトークンを取得して以降のリクエストに付ける。
func (e *testEnv) fetchCSRF() {
	e.t.Helper()
	status, body := e.do(http.MethodGet, "/api/csrf-token", nil)
	if status != http.StatusOK {
		e.t.Fatalf("csrf-token status = %d", status)
	}
	var out map[string]string
	decode(e.t, body, &out)
	e.csrf = out["token"]
}

func (e *testEnv) login() {
	e.t.Helper()
	e.fetchCSRF()
	status, body := e.do(http.MethodPost, "/auth/login", map[string]string{"email": testEmail, "password": testPassword})
	if status != http.StatusOK {
		e.t.Fatalf("login status = %d, body = %s", status, body)
	}
}

func (e *testEnv) workspaceID() string {
	u, _ := url.Parse(e.server.URL)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == middleware.WorkspaceCookieName {
			return c.Value
		}
	}
	return ""
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestHealth_DoesNotCreateWorkspace(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	status, body := env.do(http.MethodGet, "/health", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("health = %d %s", status, body)
	}
	if env.workspaceID() != "" || env.registry.Len() != 0 {
		t.Error("health check must not create a workspace")
	}
}

func TestProtectedRoutes_RequireLogin(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, path := range []string{"/api/insights", "/api/competitors", "/api/preferences", "/api/sources"} {
		status, _ := env.do(http.MethodGet, path, nil)
		if status != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, status)
		}
	}
	if n := env.upstream.RequestCount("/insights"); n != 0 {
		t.Errorf("upstream /insights called %d times", n)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	// CSRFトークンなしのPOSTは拒否される
	status, _ := env.do(http.MethodPost, "/auth/login", map[string]string{"email": testEmail, "password": testPassword})
	if status != http.StatusForbidden {
		t.Fatalf("login without csrf = %d, want 403", status)
	}

	env.login()

	status, body := env.do(http.MethodGet, "/auth/me", nil)
	if status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	var me meResponse
	decode(t, body, &me)
	if !me.Authenticated || me.DisplayName != "Ana" || me.State != "authenticated" {
		t.Errorf("me = %+v", me)
	}
	// トークンはブラウザに渡さない
	if strings.Contains(string(body), "tok-") {
		t.Errorf("me response leaks the bearer token: %s", body)
	}

	if status, _ := env.do(http.MethodGet, "/api/preferences", nil); status != http.StatusOK {
		t.Errorf("preferences after login = %d", status)
	}

	if status, _ := env.do(http.MethodPost, "/auth/logout", nil); status != http.StatusNoContent {
		t.Fatalf("logout = %d", status)
	}
	if status, _ := env.do(http.MethodGet, "/api/preferences", nil); status != http.StatusUnauthorized {
		t.Errorf("preferences after logout = %d, want 401", status)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.fetchCSRF()

	status, body := env.do(http.MethodPost, "/auth/login", map[string]string{"email": testEmail, "password": "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password = %d", status)
	}
	var errBody struct {
		Message string `json:"message"`
	}
	decode(t, body, &errBody)
	if errBody.Message != "Invalid credentials." {
		t.Errorf("message = %q", errBody.Message)
	}

	status, _ = env.do(http.MethodPost, "/auth/login", map[string]string{"email": " ", "password": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("blank email = %d, want 400", status)
	}
	if n := env.upstream.RequestCount("/auth/login"); n != 1 {
		t.Errorf("upstream login calls = %d, want 1", n)
	}
}

func TestRegister_CreatesAccountAndSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.fetchCSRF()

	status, body := env.do(http.MethodPost, "/auth/register", map[string]string{
		"email": "new@example.com", "password": "long-enough", "display_name": "New",
	})
	if status != http.StatusCreated {
		t.Fatalf("register = %d %s", status, body)
	}

	status, _ = env.do(http.MethodPost, "/auth/register", map[string]string{
		"email": "new@example.com", "password": "long-enough",
	})
	if status != http.StatusConflict {
		t.Errorf("duplicate register = %d, want 409", status)
	}
	// 失敗してもログイン状態は維持される
	if !env.registry.Authenticated(context.Background(), env.workspaceID()) {
		t.Error("failed register must not drop the session")
	}
}

func TestSessionIsRestoredAfterEviction(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login()

	env.registry.Evict(env.workspaceID())

	status, body := env.do(http.MethodGet, "/auth/me", nil)
	var me meResponse
	decode(t, body, &me)
	if status != http.StatusOK || !me.Authenticated {
		t.Errorf("me after eviction = %d %+v", status, me)
	}
	if n := env.upstream.RequestCount("/auth/me"); n != 1 {
		t.Errorf("upstream /auth/me calls = %d, want 1", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login()

	status, body := env.do(http.MethodGet, "/metrics", nil)
	if status != http.StatusOK {
		t.Fatalf("metrics = %d", status)
	}
	for _, want := range []string{
		`customervoice_workspaces 1`,
		`customervoice_http_responses_total{status_code="200"}`,
		`customervoice_api_requests_total{method="POST",outcome="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRateLimit_LoginAttempts(t *testing.T) {
	cfg := middleware.RateLimiterConfig{GeneralRate: 100, GeneralBurst: 100, WriteRate: 0.01, WriteBurst: 2}
	env := newTestEnv(t, envOptions{rateLimit: &cfg})
	env.fetchCSRF()

	creds := map[string]string{"email": testEmail, "password": "wrong"}
	for i := range 2 {
		if status, _ := env.do(http.MethodPost, "/auth/login", creds); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i, status)
		}
	}
	status, body := env.do(http.MethodPost, "/auth/login", creds)
	if status != http.StatusTooManyRequests {
		t.Fatalf("third attempt = %d, want 429", status)
	}
	if !strings.Contains(string(body), "retry_after_seconds") {
		t.Errorf("body = %s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	status, _ := env.do(http.MethodOptions, "/api/insights", nil)
	if status != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", status)
	}
}
