package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storypool/internal/api"
	"storypool/internal/config"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(a *app) *cobra.Command {
	var noLoop bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool loop and the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, !noLoop)
		},
	}
	cmd.Flags().BoolVar(&noLoop, "no-loop", false, "Serve the API without running the pool loop")
	return cmd
}

func runServe(ctx context.Context, a *app, loop bool) error {
	s, err := a.openStack(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	handler := api.NewServer(s.admin, s.hub, s.registry, a.cfg.Server, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if loop {
		g.Go(func() error {
			return s.runner.Run(ctx)
		})
	}
	g.Go(func() error {
		s.enricher.Run(ctx)
		return nil
	})
	if a.configRead {
		g.Go(func() error {
			return config.Watch(ctx, a.configPath, s.live, a.logger.Named("config"))
		})
	}
	g.Go(func() error {
		a.logger.Info("admin api listening", zap.String("addr", srv.Addr), zap.Bool("loop", loop))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
