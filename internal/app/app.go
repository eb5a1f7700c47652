// Package app wires the voicecore subsystems into a running service.
//
// The App struct owns the HTTP surface and the session [Manager]: New wires
// everything together, Run serves until the context is cancelled, and
// Shutdown tears the server and any live session down in order.
//
// The API is deliberately small:
//
//	POST /v1/session/start  {"language": "Spanish"}  begin a voice session
//	POST /v1/session/stop                            end it
//	GET  /v1/session/status                          current phase
//	GET  /healthz, /readyz, /metrics                 operational endpoints
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/paraguayconcierge/voicecore/internal/config"
	"github.com/paraguayconcierge/voicecore/internal/health"
	"github.com/paraguayconcierge/voicecore/internal/observe"
	"github.com/paraguayconcierge/voicecore/internal/session"
	"github.com/paraguayconcierge/voicecore/pkg/device"
	"github.com/paraguayconcierge/voicecore/pkg/transport"
)

// shutdownTimeout bounds the HTTP server drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// App owns the session manager and the HTTP server around it.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	met     *observe.Metrics
	manager *Manager
	hc      *health.Handler
	srv     *http.Server
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger used by the app and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics injects a metrics bundle instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// New wires the app: session manager, health checks, and the HTTP handler
// chain. The dialer and host are the backend connection factory and the
// audio device host every session will use.
func New(cfg *config.Config, dialer transport.Dialer, host device.Host, opts ...Option) *App {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	a.manager = NewManager(cfg, dialer, host, a.log, a.met)

	a.hc = health.New(
		health.Checker{
			Name: "audio",
			Check: func(context.Context) error {
				if host == nil {
					return errors.New("no audio device host")
				}
				return nil
			},
		},
		health.Checker{
			Name: "transport",
			Check: func(context.Context) error {
				if dialer == nil {
					return errors.New("no transport dialer")
				}
				return nil
			},
		},
	)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a
}

// Manager exposes the session manager, primarily so a config watcher can
// push updated session defaults.
func (a *App) Manager() *Manager { return a.manager }

// Handler builds the full HTTP handler chain: routes wrapped in the
// observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("GET /v1/session/status", a.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.hc.Register(mux)

	return observe.Middleware(a.met)(mux)
}

// Run serves the API until ctx is cancelled, then drains the server and
// stops any live session. Returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("listening", "addr", a.srv.Addr, "tls", true)
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("listening", "addr", a.srv.Addr)
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown drains the HTTP server, then stops the active session so device
// handles are released before the process exits.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.srv.Shutdown(ctx)
	a.manager.Stop()
	if err != nil {
		return fmt.Errorf("app: shutdown: %w", err)
	}
	return nil
}

// startRequest is the body of POST /v1/session/start.
type startRequest struct {
	Language string `json:"language"`
}

// errorResponse is the JSON body of non-2xx API responses.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	info, err := a.manager.Start(r.Context(), req.Language)
	if err != nil {
		writeJSON(w, startStatusCode(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Stop())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Status())
}

// startStatusCode maps session start failures onto HTTP status codes.
func startStatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status. Encoding failures are logged
// and otherwise dropped; the header has already been written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
