package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ai-nwanne/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhooks over HTTP and run the scheduled auto-poster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.Logger

			noCron, _ := cmd.Flags().GetBool("no-cron")
			sched := scheduler.New(log, scheduler.WithJobTimeout(5*time.Minute))
			if !noCron {
				err := sched.Add("autopost", a.Config.AutoPostSchedule, func(ctx context.Context) error {
					_, err := a.AutoPost.Run(ctx)
					return err
				})
				if err != nil {
					return err
				}
				sched.Start()
			}

			srv := &http.Server{
				Addr:              a.Config.HTTPAddr,
				Handler:           a.Handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if !noCron {
				if err := sched.Stop(shutdownCtx); err != nil {
					log.Warn("scheduler did not stop cleanly", "err", err)
				}
			}
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().Bool("no-cron", false, "Do not run the auto-poster on AUTOPOST_SCHEDULE.")
	return cmd
}
