package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/wordwise/internal/resilience"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestHealthz(t *testing.T) {
	h := New([]Checker{{Name: "store", Check: failing("down")}})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even with failing checks", rec.Code)
	}
	if body := decode(t, rec); body.Status != StatusOK || len(body.Checks) != 0 {
		t.Errorf("body = %+v, want plain ok", body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "store", Check: ok}, {Name: "scheduler", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"store": "ok", "scheduler": "ok"},
		},
		{
			name:       "store down",
			checkers:   []Checker{{Name: "store", Check: failing("connection refused")}, {Name: "scheduler", Check: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"store": "fail: connection refused", "scheduler": "ok"},
		},
		{
			name: "breaker open only",
			checkers: []Checker{
				{Name: "store", Check: ok},
				{Name: "breakers", Optional: true, Check: failing("open: llm:openai")},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"store": "ok", "breakers": "degraded: open: llm:openai"},
		},
		{
			name: "critical failure wins over degraded",
			checkers: []Checker{
				{Name: "breakers", Optional: true, Check: failing("open: llm:openai")},
				{Name: "store", Check: failing("timeout")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"store": "fail: timeout", "breakers": "degraded: open: llm:openai"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tc.checkers).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tc.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			if len(body.Checks) != len(tc.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tc.wantChecks)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New([]Checker{{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestStoreCheck(t *testing.T) {
	c := StoreCheck(pinger{})
	if c.Name != "store" || c.Optional {
		t.Errorf("checker = %+v, want critical store check", c)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("healthy store: %v", err)
	}

	want := errors.New("dial tcp: refused")
	if err := StoreCheck(pinger{err: want}).Check(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

// tripped returns a registry in which "llm:openai" is open.
func tripped(t *testing.T) *resilience.Registry {
	t.Helper()
	reg := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	reg.Get("llm:anthropic")
	err := reg.Get("llm:openai").Call(context.Background(), func(context.Context) error {
		return errors.New("502 bad gateway")
	})
	if err == nil {
		t.Fatal("expected call error")
	}
	if got := reg.Get("llm:openai").State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}
	return reg
}

func TestBreakerCheck(t *testing.T) {
	reg := tripped(t)

	err := BreakerCheck(reg, "llm:").Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "llm:openai") {
		t.Errorf("err = %v, want open llm:openai", err)
	}
	if err := BreakerCheck(reg, "store:").Check(context.Background()); err != nil {
		t.Errorf("unrelated prefix: %v", err)
	}
}

func TestBreakerRoutes(t *testing.T) {
	reg := tripped(t)
	mux := http.NewServeMux()
	New(nil, WithBreakers(reg)).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/breakers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snaps []resilience.BreakerSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(snaps) != 2 || snaps[1].Name != "llm:openai" || snaps[1].Failures != 1 {
		t.Errorf("snapshots = %+v", snaps)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/breakers/llm:openai/reset", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("reset status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := reg.Get("llm:openai").State(); got != resilience.StateClosed {
		t.Errorf("state after reset = %v, want closed", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/breakers/nope/reset", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown breaker status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegister_NoBreakerRoutesByDefault(t *testing.T) {
	mux := http.NewServeMux()
	New(nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/breakers", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
