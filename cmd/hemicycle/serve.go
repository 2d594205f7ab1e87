package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"hemicycle.org/internal/archive"
	"hemicycle.org/internal/auth"
	"hemicycle.org/internal/config"
	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/enrich"
	"hemicycle.org/internal/httpapi"
	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/query"
	"hemicycle.org/internal/refresh"
	"hemicycle.org/internal/stream"
	"hemicycle.org/internal/votes"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the query API and the refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			return serveRun(cmd.Context(), cfg)
		},
	}
}

func newFetcher(cfg *config.Config) *archive.Fetcher {
	return archive.New(
		archive.WithClient(&http.Client{Timeout: cfg.FetchTimeout}),
		archive.WithTempDir(cfg.TempDir),
		archive.WithMaxEntrySize(cfg.MaxEntrySize),
	)
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	logger := commonRun(cfg)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store := dataset.NewStore()
	events := stream.New()
	scheduler := refresh.New(store, newFetcher(cfg), cfg.Sources(),
		refresh.WithInterval(cfg.RefreshInterval),
		refresh.WithPublisher(events),
	)

	opts := []query.Option{
		query.WithGroupPrefix(cfg.GroupPrefix),
		query.WithResolver(votes.NewResolver(0)),
	}
	if ec := enrich.New(cfg.EnrichConfig()); ec.Enabled() {
		opts = append(opts, query.WithEnricher(ec))
		logger.Info("enrichment enabled", "base_url", cfg.Enrich.BaseURL, "resource", cfg.Enrich.Resource)
	}
	queries := query.New(store, opts...)

	apiOpts := []httpapi.Option{
		httpapi.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		httpapi.WithCORSOrigins(cfg.CORS.Origins...),
	}
	if tokens, err := auth.NewTokens(cfg.Auth.Secret); err == nil {
		apiOpts = append(apiOpts, httpapi.WithTokens(tokens))
	} else {
		logger.Warn("refresh trigger is unauthenticated", "reason", err)
	}
	api := httpapi.New(version, store, queries, scheduler, events, apiOpts...)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcLis = lis
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if grpcLis != nil {
		grpcSrv := grpc.NewServer()
		health := httpapi.NewGRPCHealth(store)
		health.Register(grpcSrv)
		g.Go(func() error {
			health.Follow(gctx, events)
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(cfg.ShutdownTimeout):
				grpcSrv.Stop()
			}
			return nil
		})
		g.Go(func() error {
			logger.Info("grpc health listening", "addr", grpcLis.Addr().String())
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	logger.Info("stopped")
	return err
}
