// Package httpapi exposes the countdown to presentation clients: a JSON
// snapshot endpoint, a WebSocket frame stream that also carries client
// visibility signals, the event journal and a health report.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"unsealer/internal/countdown"
	"unsealer/internal/journal"
	rtsup "unsealer/internal/runtime/supervisor"
	logx "unsealer/pkg/logx"
)

// Countdown is the part of the controller the HTTP surface needs.
type Countdown interface {
	Snapshot() countdown.Snapshot
	State() countdown.State
	Subscribe(buffer int) (<-chan countdown.Snapshot, func())
	Resume()
	Focus()
}

// Health is an extra payload merged into /healthz.
type Health struct {
	Supervisor rtsup.Snapshot `json:"supervisor"`
	BusDropped uint64         `json:"bus_dropped"`
}

type Options struct {
	Countdown Countdown
	// Journal may be nil when the journal is disabled.
	Journal journal.Journal
	Health  func() Health

	AllowOrigins []string
	Pprof        bool
	// Loopback gates Pprof; set from the listen address by New.
	Loopback bool

	WriteTimeout time.Duration
	Log          logx.Logger
}

// Server serves the router on one listen address until its context ends.
type Server struct {
	addr    string
	handler http.Handler
	log     logx.Logger
}

func New(addr string, opts Options) *Server {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	opts.Log = opts.Log.With(logx.String("comp", "http"))
	opts.Loopback = isLoopbackAddr(addr)
	return &Server{addr: addr, handler: NewRouter(opts), log: opts.Log}
}

func (s *Server) Addr() string { return s.addr }

// Run listens and serves until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so open streams end with it.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	<-stopped
	s.log.Info("http server stopped")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// NewRouter builds the gin engine. The caller decides the gin mode.
func NewRouter(opts Options) *gin.Engine {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	h := &handlers{
		cd:           opts.Countdown,
		journal:      opts.Journal,
		health:       opts.Health,
		log:          opts.Log,
		writeTimeout: opts.WriteTimeout,
		origins:      wsOriginPatterns(opts.AllowOrigins),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Log))
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))

	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	{
		api.GET("/countdown", h.countdown)
		api.GET("/countdown/ws", h.stream)
		api.GET("/phases", h.phases)
		api.GET("/events", h.events)
	}

	if opts.Pprof {
		if opts.Loopback {
			mountPprof(r)
		} else {
			opts.Log.Warn("pprof not mounted: listen addr is not loopback")
		}
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || containsWildcard(origins) {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if strings.HasPrefix(o, "http://") || strings.HasPrefix(o, "https://") {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !log.Enabled(logx.LevelDebug) {
			return
		}
		log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
