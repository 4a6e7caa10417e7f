package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"gatebot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

type ServerConfig struct {
	Enabled bool
	Addr    string
}

// Server runs the /metrics listener and follows config changes via Apply.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	m    *Metrics
	srv  *http.Server
	addr string
}

func NewServer(m *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{m: m, log: log.With(logx.String("comp", "metrics"))}
}

// Addr is the bound listen address, empty while stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Apply starts, stops or rebinds the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg ServerConfig) error {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.srv.Addr == cfg.Addr {
		return nil
	}
	s.stopLocked(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Warn("metrics listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func(addr string) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server error", logx.String("addr", addr), logx.Err(err))
		}
	}(s.addr)
	s.log.Info("metrics enabled", logx.String("addr", s.addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.addr = nil, ""

	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("metrics shutdown failed", logx.String("addr", addr), logx.Err(err))
		_ = srv.Close()
		return
	}
	s.log.Info("metrics disabled", logx.String("addr", addr))
}
