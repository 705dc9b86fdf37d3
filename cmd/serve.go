package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/basit/fileshare-workspaces/handlers"
	"github.com/basit/fileshare-workspaces/jobs"
	"github.com/basit/fileshare-workspaces/routes"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWTSecret(); err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			h := handlers.New(handlers.Config{
				DB:             a.db,
				Workspaces:     a.workspaces,
				Files:          a.files,
				Users:          a.users,
				Logger:         log,
				MaxUploadBytes: cfg.MaxUploadBytes,
				BaseURL:        cfg.BaseURL,
			})
			router := routes.NewRouter(ctx, routes.RouterConfig{
				Handler:        h,
				Verifier:       a.users,
				Logger:         log,
				CORSOrigins:    cfg.CORSOrigins,
				RateLimitRPS:   cfg.RateLimitRPS,
				RateLimitBurst: cfg.RateLimitBurst,
			})

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				log.WithField("port", cfg.Port).Info("server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Fatal("server stopped")
				}
			}()

			var reaperDone <-chan struct{}
			if cfg.ReaperEnabled {
				reaper := jobs.NewReaper(a.files, cfg.ReaperInterval, cfg.RecycleBinRetention, log)
				reaperDone = reaper.Start(ctx)
				log.WithField("interval", cfg.ReaperInterval).Info("cleanup job started")
			}

			shutdownCtx, forceShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer forceShutdown()

			exitCode := <-gfshutdown.GracefulShutdown(shutdownCtx, shutdownTimeout, map[string]gfshutdown.Operation{
				"http-server": func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
				"background": func(ctx context.Context) error {
					cancel()
					if reaperDone == nil {
						return nil
					}
					select {
					case <-reaperDone:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			})
			if exitCode != 0 {
				log.WithField("exit_code", exitCode).Warn("shutdown completed with errors")
				a.close()
				os.Exit(exitCode)
			}
			log.Info("shutdown completed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port, overrides PORT")
	return cmd
}
