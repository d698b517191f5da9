// Package diag serves the optional diagnostics listener: /healthz,
// /metrics and net/http/pprof under a configurable prefix.
package diag

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "motorsched/internal/runtime/supervisor"
	logx "motorsched/pkg/logx"
)

const (
	DefaultAddr   = "127.0.0.1:6060"
	DefaultPrefix = "/debug/pprof/"
)

// Config controls the listener.
//
// Binding to a non-loopback address requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Prefix  string
	Token   string
}

// HealthFunc reports the JSON body of /healthz.
type HealthFunc func() any

type Service struct {
	log      logx.Logger
	registry *prometheus.Registry
	health   HealthFunc

	mu   sync.Mutex
	cfg  Config
	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string
}

// New builds a stopped service. registry and health may be nil.
func New(cfg Config, registry *prometheus.Registry, health HealthFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, registry: registry, health: health, log: log.With(logx.String("comp", "diag"))}
}

// Addr returns the bound address while serving, "" otherwise.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Supervisor returns the serving supervisor (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Reconfigure applies cfg and starts, stops or restarts the listener as
// needed. Safe to call on config reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr || normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) || a.Token != b.Token
}

// Start is idempotent. The server runs under a restart loop so a transient
// listen failure heals.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("diag.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.addr = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Stop(ctx)
	s.log.Info("diagnostics stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("diagnostics refused to start: non-loopback addr requires token", logx.String("addr", addr))
		// Retrying cannot fix a config error; wait for the next reconfigure.
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("diagnostics listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{Handler: s.Handler(cur), ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.srv, s.addr = nil, ""
		}
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("diagnostics started", logx.String("addr", ln.Addr().String()), logx.String("prefix", normalizePrefix(cur.Prefix)), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler builds the mux for cfg. Exposed for tests.
func (s *Service) Handler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	wrap := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.Handle("/healthz", wrap(http.HandlerFunc(s.serveHealth)))
	if s.registry != nil {
		mux.Handle("/metrics", wrap(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	mux.Handle(prefix, wrap(pprofIndexAt(prefix)))
	mux.Handle(base+"/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle(base+"/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.Handle(base+"/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle(base+"/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	return mux
}

func (s *Service) serveHealth(w http.ResponseWriter, _ *http.Request) {
	var body any = map[string]string{"status": "ok"}
	if s.health != nil {
		body = s.health()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("healthz encode failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && got == "" {
			got = strings.TrimSpace(bearer)
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="motorsched"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so the path is
// rewritten for custom prefixes.
func pprofIndexAt(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	})
}

// isLoopbackAddr reports whether host:port binds only to the local machine.
// An empty host (":6060") listens on every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}
