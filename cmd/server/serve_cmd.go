package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/phenobatch/internal/auth"
	"github.com/rpattn/phenobatch/internal/db"
	"github.com/rpattn/phenobatch/internal/ingestion"
	"github.com/rpattn/phenobatch/internal/middleware"
	"github.com/rpattn/phenobatch/migrations"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch_upload API and run the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := db.RunMigrations(migrations.FS, cfg.Database, log.WithField("component", "migrate")); err != nil {
					return err
				}
			}

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			api := ingestion.NewHTTPHandler(ingestion.HandlerDependencies{
				Jobs:         a.jobs,
				Uploads:      a.uploads,
				Snapshots:    a.snapshots,
				Scheduler:    a.scheduler,
				Views:        a.views,
				IngestionLog: a.errorLog,
				Logger:       log.WithField("component", "http"),
			})

			mux := http.NewServeMux()
			mux.Handle("/batch_upload", auth.PersonMiddleware(api))
			mux.Handle("/batch_upload/", auth.PersonMiddleware(api))
			if cfg.Metrics.Enabled {
				mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			}
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				if err := a.conn.Pool.Ping(r.Context()); err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			corsHandler := cors.New(cors.Options{
				AllowedOrigins:   cfg.HTTP.AllowedOrigins,
				AllowCredentials: true,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
				AllowedHeaders:   []string{"*"},
			})

			server := &http.Server{
				Addr:         cfg.HTTP.Addr,
				Handler:      corsHandler.Handler(middleware.LoggingMiddleware(log.WithField("component", "http"))(mux)),
				ReadTimeout:  60 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.WithField("addr", cfg.HTTP.Addr).Info("starting batch_upload API")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "http server")
				}
				return nil
			})
			if cfg.Scheduler.Enabled {
				g.Go(func() error {
					log.WithField("poll_interval", cfg.Scheduler.PollInterval).Info("starting job scheduler")
					err := a.scheduler.Run(gctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending migrations before serving")
	return cmd
}
