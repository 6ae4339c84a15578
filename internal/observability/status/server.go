// Package status serves a local read-only view of the running notifier:
// loop state, goroutine counters, the last saved notification and recent bus
// events, plus pprof under /debug.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wknotifier/internal/eventbus"
	"wknotifier/internal/poll"
	"wknotifier/internal/runtime/supervisor"
	"wknotifier/internal/storage"
	logx "wknotifier/pkg/logx"
)

const (
	DefaultAddr    = "127.0.0.1:7391"
	eventRingSize  = 32
	shutdownBudget = 2 * time.Second
)

type Config struct {
	Addr  string
	Token string
}

// Sources are read on every /status request. Nil sources are omitted.
type Sources struct {
	Loop       func() poll.Snapshot
	Goroutines func() supervisor.Counters
	LastSaved  func(ctx context.Context) (storage.Snapshot, bool, error)
}

type Server struct {
	cfg     Config
	src     Sources
	log     logx.Logger
	started time.Time
	version string

	mu     sync.Mutex
	events []eventbus.Event
	addr   string
}

// Report is the /status response body.
type Report struct {
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime"`
	Loop       *poll.Snapshot       `json:"loop,omitempty"`
	Goroutines *supervisor.Counters `json:"goroutines,omitempty"`
	LastSaved  *storage.Snapshot    `json:"last_saved,omitempty"`
	Events     []eventbus.Event     `json:"events,omitempty"`
}

func New(cfg Config, src Sources, version string, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, src: src, log: log, version: version, started: time.Now()}
}

// Addr is the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Track records bus events until ctx ends or the bus closes the channel.
func (s *Server) Track(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(eventRingSize)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.mu.Lock()
			s.events = append(s.events, e)
			if len(s.events) > eventRingSize {
				s.events = s.events[len(s.events)-eventRingSize:]
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Mount("/debug", middleware.Profiler())
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep := Report{
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.src.Loop != nil {
		snap := s.src.Loop()
		rep.Loop = &snap
	}
	if s.src.Goroutines != nil {
		c := s.src.Goroutines()
		rep.Goroutines = &c
	}
	if s.src.LastSaved != nil {
		snap, ok, err := s.src.LastSaved(r.Context())
		switch {
		case err != nil:
			s.log.Debug("status snapshot read failed", logx.Err(err))
		case ok:
			rep.LastSaved = &snap
		}
	}
	s.mu.Lock()
	rep.Events = append([]eventbus.Event(nil), s.events...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
}

func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Run listens and serves until ctx ends, then shuts down and returns nil.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("status server refused to start: non-loopback addr requires a token", logx.String("addr", addr))
		return errors.New("status: insecure bind")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("status server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return errors.New("status server exited unexpectedly")
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		defer cancel()
		_ = srv.Shutdown(sctx)
		<-errCh
		s.log.Info("status server stopped")
		return nil
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
