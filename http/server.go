// Package http exposes the agent's optional local status surface: an
// operator-facing GET /status (Worker Pool stats), GET /healthz, and,
// when a debug tunnel is configured, GET /debug/ws/{workerID}, built on
// the same chi router/middleware stack as the
// rest of this codebase's HTTP surfaces.
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"mitchell-agent/agent/pool"
	"mitchell-agent/agent/tunnel"
	"mitchell-agent/errors"
	apxmiddlewares "mitchell-agent/http/middleware"
	apxresp "mitchell-agent/http/response"
	"mitchell-agent/logger"
	"mitchell-agent/utils/helpers"
)

type Server struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	Pool           *pool.WorkerPool

	// Tunnel is optional; nil disables the /debug/ws/{workerID} route.
	Tunnel *tunnel.Server
}

func NewServer(l *zap.Logger, allowedOrigins []string, p *pool.WorkerPool, t *tunnel.Server) *Server {
	return &Server{Logger: l, AllowedOrigins: allowedOrigins, Pool: p, Tunnel: t}
}

func (s *Server) Listen(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apxmiddlewares.NewLoggerWithMetrics(s.Logger, &apxmiddlewares.Opts{
		WithReferer:   false,
		WithUserAgent: false,
	}))
	r.Use(middleware.Recoverer)
	r.Use(apxmiddlewares.EnabCors(s.AllowedOrigins))

	r.Get("/healthz", s.ToHTTPHandlerFunc(s.healthz))
	r.Get("/status", s.ToHTTPHandlerFunc(s.status))
	if s.Tunnel != nil {
		r.Get("/debug/ws/{workerID}", s.debugStream)
	}

	errch := make(chan error)
	server := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("starting agent status server", zap.String("addr", addr))
		errch <- server.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) (any, int, error) {
	return map[string]string{"status": "ok"}, http.StatusOK, nil
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) (any, int, error) {
	if s.Pool == nil {
		return map[string]string{"status": "pool not ready"}, http.StatusServiceUnavailable, nil
	}
	stats := s.Pool.Stats()
	body := map[string]interface{}{
		"mode":        stats.Mode,
		"live_count":  stats.LiveCount,
		"min_workers": stats.MinWorkers,
		"max_workers": stats.MaxWorkers,
	}
	if s.Tunnel != nil {
		body["debug_sessions"] = s.Tunnel.Sessions()
	}
	return body, http.StatusOK, nil
}

// debugStream upgrades to a WebSocket and streams screenshots from the
// named worker; it bypasses ToHTTPHandlerFunc because the upgrade takes
// over the response writer directly.
func (s *Server) debugStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "workerID"))
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}
	s.Tunnel.Stream(w, r, id)
}

func (s *Server) ToHTTPHandlerFunc(h func(w http.ResponseWriter, r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response, status, err := h(w, r)
		if err != nil {
			switch err := err.(type) {
			case *errors.Error:
				helpers.PrintStruct(err)
				apxresp.RespondError(w, err)
			default:
				s.Logger.Error("internal error", zap.Error(err))
				apxresp.RespondMessage(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		if response != nil {
			apxresp.RespondJSON(w, status, response)
		}
	}
}
