package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ldgate/internal/platform/config"
	"ldgate/internal/platform/httpserver"
	"ldgate/internal/platform/logger"
	"ldgate/internal/warden/handler"
	"ldgate/internal/warden/metrics"
	"ldgate/internal/warden/service"
	"ldgate/internal/warden/throttle"
	"ldgate/pkg/platform/audit/publisher"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Minute
	auditBuffer     = 256
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve entitlement checks over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			cfg, err := config.WardenFromEnv()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log)

			srv, err := newServer(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer srv.close()
			return srv.run(cmd.Context())
		},
	}
}

// server is one running warden: its store, limiter and HTTP listener.
type server struct {
	cfg        config.Warden
	log        *slog.Logger
	http       *http.Server
	limiter    *throttle.Limiter
	audit      *publisher.Publisher
	closeStore func() error
}

func newServer(ctx context.Context, cfg config.Warden, log *slog.Logger) (*server, error) {
	sign, err := signer(cfg, true)
	if err != nil {
		return nil, err
	}
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWithRegistry(reg)
	auditPublisher := publisher.NewPublisher(b.audit,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)

	svc, err := service.New(b.store, sign,
		service.WithTokenTTL(cfg.TokenTTL),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		auditPublisher.Close()
		return nil, errors.Join(err, b.close())
	}

	limiter := throttle.New(cfg.ChecksPerMinute, time.Minute)
	h := handler.New(svc,
		handler.WithLimiter(limiter),
		handler.WithLogger(log),
		handler.WithMetrics(m),
		handler.WithAuditPublisher(auditPublisher),
		handler.WithGatherer(reg),
	)

	return &server{
		cfg:        cfg,
		log:        log,
		http:       httpserver.New(cfg.Addr, h.Router()),
		limiter:    limiter,
		audit:      auditPublisher,
		closeStore: b.close,
	}, nil
}

// run serves until ctx ends, then drains in-flight requests.
func (s *server) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("warden listening", "addr", s.cfg.Addr, "store", s.cfg.Store)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.limiter.Run(ctx, pruneInterval)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down warden")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *server) close() {
	s.audit.Close()
	if err := s.closeStore(); err != nil {
		s.log.Warn("failed to close store", "error", err)
	}
}
