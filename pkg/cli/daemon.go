package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/keepsake/pkg/config"
	"github.com/platinummonkey/keepsake/pkg/httputil"
	"github.com/platinummonkey/keepsake/pkg/maintenance"
	"github.com/platinummonkey/keepsake/pkg/observability"
)

// Version is reported by the health endpoints and OpenTelemetry resource
var Version = "dev"

func newDaemonCommand() *Command {
	cmd := &Command{
		Name:        "daemon",
		Description: "Run scheduled maintenance and serve the admin API",
		Flags:       flag.NewFlagSet("daemon", flag.ContinueOnError),
		Run:         runDaemon,
	}

	cmd.Flags.Bool("run-once", false, "Run every maintenance job once and exit")
	cmd.Flags.Bool("watch", true, "Reload the log level when the config file changes")

	return cmd
}

func runDaemon(env *Env, args []string) error {
	cmd := newDaemonCommand()
	if err := parseFlags(env, cmd, args); err != nil {
		return err
	}
	runOnce := cmd.Flags.Lookup("run-once").Value.String() == "true"
	watch := cmd.Flags.Lookup("watch").Value.String() == "true"

	ctx, stop := signal.NotifyContext(env.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	s, err := openSession(env, metrics)
	if err != nil {
		return err
	}
	cfg := s.cfg
	log := s.log

	shutdown := observability.NewShutdownManager(log, cfg.Admin.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		// Tracing is optional; keep serving without it.
		log.WithError(err).Warn("Failed to initialize OpenTelemetry")
	} else if providers != nil {
		om, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			log.WithError(err).Warn("Failed to create OpenTelemetry instruments")
		} else {
			metrics.WithOTel(om)
		}
	}

	res, backupID, err := s.migrateWithBackup(ctx, true)
	if err != nil {
		s.Close(context.Background())
		return fmt.Errorf("startup migration failed: %w", err)
	}
	log.WithFields(logrus.Fields{
		"from":     res.FromVersion,
		"to":       res.ToVersion,
		"migrated": res.Migrated,
		"backup":   backupID,
	}).Info("Data version checked")

	runner, err := maintenance.NewRunner(s.store, s.migrations, cfg.Maintenance, log)
	if err != nil {
		s.Close(context.Background())
		return err
	}

	if runOnce {
		runErr := runner.RunOnce(ctx)
		for _, r := range runner.LastResults() {
			status := "ok"
			if r.Error != "" {
				status = r.Error
			}
			fmt.Fprintf(env.Out, "%s: %s (%s)\n", r.Name, r.Detail, status)
		}
		return errors.Join(runErr, s.Close(context.Background()), observability.ShutdownOTel(context.Background(), providers))
	}

	health := observability.NewHealthChecker(Version)
	health.Register("storage", func(ctx context.Context) error {
		_, err := s.store.StorageUsage(ctx)
		return err
	})

	opts := []httputil.AdminOption{
		httputil.WithRunner(runner),
		httputil.WithHealthChecker(health),
	}
	if cfg.Observability.MetricsEnabled {
		opts = append(opts, httputil.WithMetricsHandler(observability.MetricsHandler(registry)))
	}
	handlers := httputil.NewAdminHandlers(s.store, s.migrations, log, opts...)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Admin.Host, cfg.Admin.Port),
		Handler:      otelhttp.NewHandler(httputil.NewAdminRouter(handlers), "keepsake-admin"),
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		s.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	// Stop taking requests, then stop jobs, then flush the store.
	shutdown.Register("admin-http", srv.Shutdown)
	shutdown.Register("maintenance", runner.Stop)
	shutdown.Register("storage", s.Close)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runner.Start()
	log.WithField("addr", ln.Addr().String()).Info("Keepsake daemon started")

	if watch && cfg.File != "" {
		go func() {
			err := config.Watch(ctx, cfg.File, log, func(next *config.Config) {
				log.SetLevel(observability.ParseLevel(next.Observability.LogLevel))
				log.WithField("level", next.Observability.LogLevel).Info("Log level updated; other settings apply on restart")
			})
			if err != nil {
				log.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("admin server failed: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, shutdown.Shutdown(sctx))
}
