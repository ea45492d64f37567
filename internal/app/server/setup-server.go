package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"oidkeeper/internal/app/documents"
	"oidkeeper/internal/domain/ports"
)

const healthTimeout = 3 * time.Second

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Error    string `json:"error,omitempty"`
	Sessions int    `json:"sessions"`
}

// Options wires the server to the running components
type Options struct {
	Addr string
	// Registry receives the process collectors and is served on /metrics
	Registry *prometheus.Registry
	// Health is pinged by /healthz; nil means always healthy
	Health ports.HealthChecker
	// StoreType is reported by /healthz
	StoreType string
	// Sessions reports the number of open sessions
	Sessions func() int
	// Documents is served under /objects/ when set
	Documents *documents.Service
	// RateLimit caps object API requests per second, 0 disables the limit
	RateLimit float64
	RateBurst int
	Logger    logr.Logger
}

// SetupServer sets up the HTTP server exposing /metrics, /healthz and the object API
func SetupServer(opts Options) (*http.Server, error) {
	if opts.Addr == "" {
		return nil, errors.New("server address is required")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	err := opts.Registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, errors.Wrap(err, "failed to register go collector")
	}
	err = opts.Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to register process collector")
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	httpMux.HandleFunc("/healthz", healthHandler(opts))
	if opts.Documents != nil {
		h := &objectsHandler{docs: opts.Documents, logger: opts.Logger}
		if opts.RateLimit > 0 {
			burst := opts.RateBurst
			if burst <= 0 {
				burst = 1
			}
			h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		}
		h.register(httpMux)
	}

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return httpServer, nil
}

func healthHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Store: opts.StoreType}
		if opts.Sessions != nil {
			resp.Sessions = opts.Sessions()
		}

		code := http.StatusOK
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := opts.Health.Ping(ctx); err != nil {
				resp.Status = "unavailable"
				resp.Error = err.Error()
				code = http.StatusServiceUnavailable
				opts.Logger.Info("health check failed", "store", opts.StoreType, "error", err.Error())
			}
		}

		writeJSON(w, code, resp)
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down within shutdownTimeout
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	return nil
}
