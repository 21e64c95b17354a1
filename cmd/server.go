package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/heaven-sync/internal/attempts"
	"github.com/example/heaven-sync/internal/auth"
	"github.com/example/heaven-sync/internal/migrate"
	"github.com/example/heaven-sync/internal/scheduler"
	"github.com/example/heaven-sync/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the webhook + attempt scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ctx, cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.RequireServer(); err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(cfg.AuthTokenBcrypt)
			if err != nil {
				return err
			}

			d, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			syncer, catalog, err := newSyncer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			repo := attempts.NewRepo(d)
			logger.Info("worker starting", "worker_id", repo.Owner(), "lease", cfg.AttemptLease)
			sched := scheduler.New(repo, syncer, cfg.PollInterval, cfg.Concurrency)
			sched.Lease = cfg.AttemptLease

			ws := &web.Server{
				Auth:      verifier,
				Attempts:  repo,
				Catalog:   catalog,
				DB:        d,
				Notify:    sched.Notify,
				Version:   Version,
				Logger:    logger,
				StartedAt: time.Now(),
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
					return err
				}
				return nil
			})
			g.Go(func() error {
				err := web.Start(gctx, cfg.ListenAddr, ws.Routes())
				// a listener failure stops the scheduler too
				cancel()
				return err
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
