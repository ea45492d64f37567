package oidkeeper

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"oidkeeper/internal/app/documents"
	"oidkeeper/internal/app/server"
	"oidkeeper/internal/application/lifecycle"
	"oidkeeper/internal/application/session"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/monitoring"
)

func newServeCommand(o *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the object API, /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if addr != "" {
				o.cfg.Metrics.Addr = addr
			}
			if !o.cfg.Metrics.Enabled {
				return errors.New("metrics server is disabled in configuration")
			}

			var sessions *session.Factory
			collector := monitoring.NewCollector(func() int { return sessions.OpenSessions() })
			registry := prometheus.NewRegistry()
			if err := registry.Register(collector); err != nil {
				return errors.Wrap(err, "failed to register collector")
			}

			eventLogger := o.logger.WithName("lifecycle")
			factory, store, cleanup, err := o.sessions(ctx,
				session.WithMetrics(collector),
				session.WithObserver(func(n lifecycle.Notification) {
					if n.Err != nil {
						eventLogger.Info("lifecycle failure", "event", n.Event.String(), "oid", n.Oid.String(), "error", n.Err.Error())
						return
					}
					eventLogger.V(4).Info("lifecycle event", "event", n.Event.String(), "oid", n.Oid.String())
				}),
			)
			if err != nil {
				return err
			}
			defer cleanup()
			sessions = factory

			health, _ := store.(ports.HealthChecker)
			srv, err := server.SetupServer(server.Options{
				Addr:      o.cfg.Metrics.Addr,
				Registry:  registry,
				Health:    health,
				StoreType: string(o.cfg.Store.Type),
				Sessions:  factory.OpenSessions,
				Documents: documents.NewService(factory),
				RateLimit: o.cfg.Metrics.RateLimit,
				RateBurst: o.cfg.Metrics.RateBurst,
				Logger:    o.logger.WithName("http"),
			})
			if err != nil {
				return err
			}

			o.logger.Info("serving", "addr", o.cfg.Metrics.Addr, "store", string(o.cfg.Store.Type))
			return server.Serve(ctx, srv, o.cfg.Metrics.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}
