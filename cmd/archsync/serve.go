package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"archsync/internal/app"
	"archsync/internal/config"
)

func serveCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API for sync, search and proposal governance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if !cfg.GraphEnabled {
				return fmt.Errorf("%w: serve requires ARCHSYNC_GRAPH_ENABLED", config.ErrConfiguration)
			}
			if err := cfg.ValidateGraph(); err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			httpServer := app.NewHTTPServer(rt.service(), cfg.CORSOrigin)
			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      2 * time.Minute,
				IdleTimeout:       60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info("archsync API listening", "addr", cfg.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("shutdown error", "error", err)
			}
			log.Info("archsync API stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from API_ADDR)")
	return cmd
}
