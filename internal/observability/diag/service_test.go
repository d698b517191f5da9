package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"motorsched/internal/metrics"
	logx "motorsched/pkg/logx"
)

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.SetRunning(true)
	s := New(Config{}, m.Registry(), func() any { return map[string]any{"running": true} }, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res.Body.Close()
	if body["running"] != true {
		t.Fatalf("healthz body = %v", body)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(b), "motorsched_dispatcher_running 1") {
		t.Fatalf("metrics output missing gauge:\n%s", b)
	}

	res, err = http.Get(srv.URL + "/debug/pprof/")
	if err != nil {
		t.Fatalf("GET pprof: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pprof status = %d", res.StatusCode)
	}
}

func TestHandlerRequiresToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	h := s.Handler(Config{Token: "abc", Prefix: "/pp"})

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"wrong", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query", "/healthz?token=abc", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer abc", http.StatusOK},
		{"custom prefix", "/pp/?token=abc", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestReconfigureStartsAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("listener did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	res, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close()

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("service still running after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
