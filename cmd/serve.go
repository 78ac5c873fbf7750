package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cgem-lab/strainboard/internal/metrics"
	"github.com/cgem-lab/strainboard/internal/server"
)

var (
	serveAddr       string
	serveNoPreload  bool
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the strain dashboard and request API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rec := metrics.New(true)
		a, err := newInventory(ctx, rec)
		if err != nil {
			return err
		}
		if err := a.withRequests(ctx, rec); err != nil {
			return err
		}
		defer a.Close()

		addr := cfg.ListenAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		srv := &http.Server{
			Addr: addr,
			Handler: server.New(&server.Handler{
				Engine:       a.engine,
				Requests:     a.service,
				Metrics:      rec,
				Logger:       logger,
				AfterRefresh: a.reloadContacts,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logger),
		}

		g, gctx := errgroup.WithContext(ctx)
		if !serveNoPreload {
			g.Go(func() error {
				// A failed first load is not fatal: the API reports it and
				// /api/v1/refresh can retry.
				if err := a.engine.Start(gctx); err != nil {
					logger.Error("initial inventory load", zap.Error(err))
				}
				return nil
			})
		}
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(sctx)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().BoolVar(&serveNoPreload, "no-preload", false, "do not load the inventory before the first request")
}
