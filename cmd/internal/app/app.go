// Package app wires the sockpress runtime: config, logging, the HTTP session
// middleware, the socket server and its route table.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"sockpress/cmd/internal/realtime"
	"sockpress/cmd/internal/routing"
	"sockpress/cmd/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server wiring, the session store, and the socket server
// with the route table bound to it.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	backend  *sessionBackend // nil when sessions are disabled

	sessions *session.Manager // nil when sessions are disabled
	io       *realtime.Server
	routes   *routing.Routing
	mux      *http.ServeMux

	mu           sync.Mutex
	hasListeners bool
}

// New builds the session store, the HTTP session manager, the socket server
// and an empty route table. Nothing listens until Listen or Run.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sessMetrics := session.NewMetrics(reg)

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		mux:      http.NewServeMux(),
	}

	var resolver *session.Resolver
	if cfg.DisableSession {
		r, err := session.NewResolver(session.ResolverConfig{
			Name:           cfg.SessionName,
			DisableSession: true,
			Metrics:        sessMetrics,
			Log:            log,
		})
		if err != nil {
			return nil, err
		}
		resolver = r
		log.Info("session.disabled")
	} else {
		backend, err := newSessionBackend(context.Background(), cfg, log)
		if err != nil {
			return nil, err
		}
		mgr, err := session.NewManager(session.ManagerConfig{
			Name:              cfg.SessionName,
			Secrets:           cfg.SessionSecrets,
			Store:             backend.store,
			Resave:            cfg.SessionResave,
			SaveUninitialized: cfg.SessionSaveUninitialized,
			Cookie: session.CookieOptions{
				MaxAge: cfg.SessionCookieMaxAge,
				Secure: cfg.SessionCookieSecure || cfg.TLSEnabled(),
			},
			Metrics: sessMetrics,
			Log:     log,
		})
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		a.backend = backend
		a.sessions = mgr
		resolver = mgr.Resolver()
	}

	a.io = realtime.NewServer(log, cfg.Socket, realtime.NewMetrics(reg))
	a.routes = routing.New(a.io, resolver, log)
	return a, nil
}

// Route registers target for event on namespace. A *routing.Group target is
// mounted with event as its prefix.
func (a *App) Route(namespace, event string, target routing.Target) error {
	return a.routes.Add(namespace, event, target)
}

// Handle registers target on the root namespace.
func (a *App) Handle(event string, target routing.Target) error {
	return a.routes.Handle(event, target)
}

// HandleFunc registers fn for event on the root namespace.
func (a *App) HandleFunc(event string, fn routing.HandlerFunc) error {
	return a.routes.HandleFunc(event, fn)
}

// Mount merges g under prefix.
func (a *App) Mount(prefix string, g *routing.Group) error {
	return a.routes.Mount(prefix, g)
}

// HTTP is the mux for plain HTTP routes. Requests reaching it carry the
// session (see session.FromContext) unless sessions are disabled.
func (a *App) HTTP() *http.ServeMux { return a.mux }

// IO is the socket server.
func (a *App) IO() *realtime.Server { return a.io }

// Routing is the socket route table.
func (a *App) Routing() *routing.Routing { return a.routes }

// Sessions is the HTTP session manager, nil when sessions are disabled.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Registry is the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Listen binds the route table to the socket server. Only the first call
// binds; later calls are no-ops.
func (a *App) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasListeners {
		return nil
	}
	if err := a.routes.AddListeners(a.io); err != nil {
		return err
	}
	a.hasListeners = true
	return nil
}

// Listening reports whether Listen has bound the route table.
func (a *App) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasListeners
}

// Handler returns the full request handler: operational endpoints, the
// socket server on cfg.SocketPath, and the session-wrapped HTTP mux for
// everything else.
func (a *App) Handler() http.Handler {
	root := http.NewServeMux()
	a.registerOps(root)
	root.Handle(a.cfg.SocketPath, a.io)

	var h http.Handler = a.mux
	if a.sessions != nil {
		h = a.sessions.Middleware(h)
	}
	root.Handle("/", WithCORS(h, a.cfg, a.log))

	return WithSecurityHeaders(WithRequestLogging(root, a.log))
}

// Run binds listeners, serves until ctx ends or the server fails, then shuts
// down the socket server, the HTTP server and the session store.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go a.backend.pruneLoop(pruneCtx, a.cfg.SessionPruneEvery, a.log)

	base := runtimeBaseURLScheme(a.cfg.HTTPAddr, a.scheme())
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"socket_url", wsBaseURL(base)+a.cfg.SocketPath,
		"namespaces", a.routes.Namespaces(),
		"session_store", a.storeKind(),
		"tls", a.cfg.TLSEnabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked socket connections are not tracked by http.Server.Shutdown.
	if err := a.io.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("socket.shutdown.fail", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.backend.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the socket server and the session store without serving.
func (a *App) Close() error {
	err := a.io.Close()
	if cerr := a.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) storeKind() string {
	if a.backend == nil {
		return "disabled"
	}
	return a.backend.kind
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
