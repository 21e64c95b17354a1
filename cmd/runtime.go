package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/heaven-sync/internal/artifacts"
	"github.com/example/heaven-sync/internal/browser"
	"github.com/example/heaven-sync/internal/config"
	"github.com/example/heaven-sync/internal/db"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/heaven"
	"github.com/example/heaven-sync/internal/logging"
)

// loadConfig reads the environment and installs the configured logger on
// the returned context.
func loadConfig(ctx context.Context) (context.Context, config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return ctx, config.Config{}, nil, err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logging.ContextWithLogger(ctx, logger), cfg, logger, nil
}

func openDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL, int32(cfg.Concurrency+4))
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return d, nil
}

func artifactStore(ctx context.Context, cfg config.Config) (heaven.ArtifactStore, error) {
	s3cfg := artifacts.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
		Prefix:    "heavensync",
	}
	if !s3cfg.Enabled() {
		return artifacts.NewDirStore(cfg.ArtifactDir), nil
	}
	store, err := artifacts.NewS3Store(s3cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return store, nil
}

// newSyncer builds the browser-driven core from configuration.
func newSyncer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*heaven.Syncer, reservation.Catalog, error) {
	if err := cfg.RequireRemote(); err != nil {
		return nil, nil, err
	}
	catalog, err := reservation.LoadCatalog(cfg.CourseMapFile)
	if err != nil {
		return nil, nil, err
	}
	store, err := artifactStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	launcher := browser.NewLauncher(browserOptions(cfg), logger)

	timing := heaven.DefaultTiming()
	timing.Element = cfg.ElementTimeout
	timing.Navigation = cfg.NavigationTimeout
	timing = timing.Scaled(cfg.SettleScale)

	remote := heaven.DefaultRemote()
	remote.BaseURL = cfg.HeavenURL

	syncer := heaven.NewSyncer(heaven.FromLauncher(launcher), heaven.Config{
		Remote:      remote,
		Credentials: heaven.Credentials{User: cfg.HeavenUser, Password: cfg.HeavenPass},
		Catalog:     catalog,
		Location:    cfg.Timezone,
		Timing:      timing,
	}, &heaven.Recorder{Store: store})
	return syncer, catalog, nil
}

func browserOptions(cfg config.Config) browser.Options {
	opts := browser.DefaultOptions()
	opts.ExecPath = cfg.ChromePath
	opts.UserAgent = cfg.UserAgent
	opts.Headless = cfg.Headless
	opts.LaunchTimeout = cfg.LaunchTimeout
	return opts
}
