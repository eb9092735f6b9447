package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/device-ledger/internal/audit"
	"github.com/nerrad567/device-ledger/internal/auth"
	"github.com/nerrad567/device-ledger/internal/infrastructure/config"
	"github.com/nerrad567/device-ledger/internal/infrastructure/database"
	"github.com/nerrad567/device-ledger/internal/infrastructure/logging"
	"github.com/nerrad567/device-ledger/internal/infrastructure/metrics"
	"github.com/nerrad567/device-ledger/internal/ledger"
	_ "github.com/nerrad567/device-ledger/migrations" // registers ledger migrations
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "devledger"
	testAdmin  = "deployer"
)

// testEnv is a server over a migrated SQLite database.
type testEnv struct {
	srv      *Server
	registry *ledger.Registry
	auditDB  *audit.SQLiteRepository
	gatherer *prometheus.Registry
	router   http.Handler
}

type testOption func(*Deps)

func withHealth(name string, hc HealthChecker) testOption {
	return func(d *Deps) {
		if d.Health == nil {
			d.Health = map[string]HealthChecker{}
		}
		d.Health[name] = hc
	}
}

func withCORS(origins ...string) testOption {
	return func(d *Deps) { d.Config.CORS.AllowedOrigins = origins }
}

// testServer builds a server whose audit writer runs for the test's lifetime.
func testServer(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry, err := ledger.NewRegistry(ctx, ledger.NewSQLiteStore(db.DB), testAdmin)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	gatherer := prometheus.NewRegistry()
	registry.SetMetrics(metrics.New(gatherer))

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, Issuer: testIssuer, TokenTTL: 5},
		},
		Logger:    log,
		Registry:  registry,
		AuditRepo: auditRepo,
		Gatherer:  gatherer,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	registry.AddSink(srv.Hub())

	drainCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.drainAuditLog(drainCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{
		srv:      srv,
		registry: registry,
		auditDB:  auditRepo,
		gatherer: gatherer,
		router:   srv.Handler(),
	}
}

func tokenFor(t *testing.T, p ledger.Principal) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, testIssuer, p, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

// do sends a request as caller (no Authorization header when caller is empty)
// and returns the recorder.
func (e *testEnv) do(t *testing.T, caller ledger.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, caller))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode[Error](t, w); got.Code != code {
		t.Errorf("error code = %q, want %q", got.Code, code)
	}
}

// ─── Health, Metrics and Middleware ────────────────────────────────

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		env := testServer(t, withHealth("database", fakeHealth{}))

		w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
		expectStatus(t, w, http.StatusOK)
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		resp := decode[map[string]any](t, w)
		if resp["status"] != "ok" || resp["version"] != "test" {
			t.Errorf("response = %v", resp)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		env := testServer(t,
			withHealth("database", fakeHealth{}),
			withHealth("mqtt", fakeHealth{err: errors.New("mqtt: not connected")}),
		)

		w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
		expectStatus(t, w, http.StatusServiceUnavailable)

		resp := decode[struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}](t, w)
		if resp.Status != "degraded" {
			t.Errorf("status = %q, want degraded", resp.Status)
		}
		if resp.Components["database"] != "ok" || resp.Components["mqtt"] != "mqtt: not connected" {
			t.Errorf("components = %v", resp.Components)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	expectStatus(t, env.do(t, "lamp", http.MethodPost, "/api/v1/devices", `{"owner":"alice"}`), http.StatusCreated)

	w := env.do(t, "", http.MethodGet, "/api/v1/metrics", "")
	expectStatus(t, w, http.StatusOK)

	body := w.Body.String()
	for _, want := range []string{
		`devledger_operations_total{operation="register_device",outcome="ok"} 1`,
		"devledger_registrations_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t, withCORS("https://panel.example"))

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"https://panel.example", "https://panel.example"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			expectStatus(t, w, http.StatusNoContent)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := testServer(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	foreign, err := auth.GenerateToken("a-completely-different-secret-value!!", testIssuer, "alice", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic YWxpY2U6cGFzcw=="},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong key", "Bearer " + foreign},
		{"expired", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			expectErrorCode(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
		})
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	registry, err := ledger.NewRegistry(context.Background(), ledger.NewMemoryStore(), testAdmin)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	sec := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: registry, Security: sec}},
		{"no registry", Deps{Logger: log, Security: sec}},
		{"no secret", Deps{Logger: log, Registry: registry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}
