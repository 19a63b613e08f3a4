package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentdesk/internal/app"
	"agentdesk/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if v := viper.GetString("server.addr"); v != "" {
				cfg.Server.Addr = v
			}
			if viper.IsSet("server.base_path") {
				cfg.Server.BasePath = viper.GetString("server.base_path")
			}
			logger := app.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store.Ping(ctx); err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				logger.Warn("jwt secret not configured; login returns no bearer token")
			}

			handler, err := server.New(server.Config{
				Engine:      a.Engine,
				Directory:   a.Directory,
				BasePath:    cfg.Server.BasePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				Auth:        server.AuthConfig{AdminToken: cfg.Server.AdminToken, Logger: logger},
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, a.Store, cfg.Webhooks, logger.With("component", "webhooks"))

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving agentdesk API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "store", cfg.Store.Driver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("base-path", "", "API base path")
	cmd.Flags().String("admin-token", "", "admin token for /admin and /reports")
	cmd.Flags().String("jwt-secret", "", "secret used to sign login tokens")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("admin_token", cmd.Flags().Lookup("admin-token"))
	_ = viper.BindPFlag("jwt_secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
