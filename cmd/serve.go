package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/api"
)

const shutdownGrace = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prospect API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		return listenAndServe(ctx, &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewServer(serverDeps(env)).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	},
}

// listenAndServe runs srv until ctx is done, then drains in-flight requests
// for up to shutdownGrace.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	})
	return g.Wait()
}

// serverDeps maps env onto the API. Services left nil stay nil interfaces so
// their routes answer 503.
func serverDeps(env *appEnv) api.Deps {
	deps := api.Deps{
		Store:       env.Store,
		MaxBatch:    cfg.Scoring.BatchMaxCount,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if env.Enrich != nil {
		deps.Enricher = env.Enrich
	}
	if env.Engine != nil {
		deps.Scorer = env.Engine
	}
	if env.Optimizer != nil {
		deps.Batch = env.Optimizer
	}
	if env.Convert != nil {
		deps.Converter = env.Convert
	}
	return deps
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
