// Package node wires a gridstore node together: it opens the configured store
// backend, registers every stash, connects the blob service and runs until it
// is asked to stop.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gridstore/internal/blobstorage"
	"github.com/dmitrijs2005/gridstore/internal/blobstorage/miniodriver"
	"github.com/dmitrijs2005/gridstore/internal/blobstorage/s3driver"
	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/config"
	"github.com/dmitrijs2005/gridstore/internal/logging"
	"github.com/dmitrijs2005/gridstore/internal/models"
	"github.com/dmitrijs2005/gridstore/internal/stashes"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/dmitrijs2005/gridstore/internal/store/badgerstore"
	"github.com/dmitrijs2005/gridstore/internal/store/memory"
	"github.com/dmitrijs2005/gridstore/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// seams for tests
var (
	openPostgres = func(ctx context.Context, dsn string) (store.Backend, error) {
		return postgres.Open(ctx, dsn)
	}
	openBadger = func(dir string) (store.Backend, error) {
		return badgerstore.Open(dir)
	}
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	flushLogger func() error
	store       *store.DocumentStore
	stashes     *stashes.Stashes
	blobs       *blobstorage.Service
}

// NewApp opens every dependency of the node. A backend that cannot be reached
// fails construction; nothing is retried.
func NewApp(ctx context.Context, cfg *config.Config, out io.Writer) (*App, error) {
	logger, flush, err := newLogger(cfg.LogFormat, out)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	ds := store.NewDocumentStore(backend, store.Credentials(cfg.RootCredentials), logger)
	st, err := stashes.Open(ctx, ds)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("stash init error: %w", err)
	}

	dial, err := newDialer(cfg)
	if err != nil {
		_ = ds.Close()
		return nil, err
	}
	client := blobstorage.NewClient(dial, blobstorage.Options{
		ChunkSize:   cfg.BlobChunkSize,
		ReadURLTTL:  cfg.BlobReadURLTTL,
		WriteURLTTL: cfg.BlobWriteURLTTL,
	}, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		flushLogger: flush,
		store:       ds,
		stashes:     st,
		blobs:       blobstorage.NewService(client, st.Blobs, logger),
	}, nil
}

func newLogger(format string, out io.Writer) (logging.Logger, func() error, error) {
	noFlush := func() error { return nil }
	switch format {
	case config.LogText:
		return logging.NewText(out, slog.LevelInfo), noFlush, nil
	case config.LogZap:
		z, err := logging.NewZapProduction()
		if err != nil {
			return nil, nil, err
		}
		return z, func() error {
			// stderr cannot be synced on most terminals
			if err := z.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
				return err
			}
			return nil
		}, nil
	default:
		return logging.NewJSON(out, slog.LevelInfo), noFlush, nil
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return memory.NewBackend(), nil
	case config.StorePostgres:
		return openPostgres(ctx, cfg.DatabaseDSN)
	case config.StoreBadger:
		return openBadger(cfg.BadgerPath)
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", common.ErrorValidation, cfg.StoreBackend)
}

func newDialer(cfg *config.Config) (blobstorage.Dialer, error) {
	switch cfg.BlobDriver {
	case config.BlobDriverS3:
		return s3driver.Dialer(s3driver.Config{
			Endpoint:  cfg.BlobEndpointURL(),
			Region:    cfg.BlobRegion,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
		}), nil
	case config.BlobDriverMinio:
		return miniodriver.Dialer(miniodriver.Config{
			Endpoint:  cfg.BlobEndpoint(),
			Region:    cfg.BlobRegion,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			Secure:    cfg.BlobSecure,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown blob driver %q", common.ErrorValidation, cfg.BlobDriver)
}

func (app *App) Stashes() *stashes.Stashes   { return app.stashes }
func (app *App) Blobs() *blobstorage.Service { return app.blobs }
func (app *App) Logger() logging.Logger      { return app.logger }

// bootstrap makes sure the node has its settings record and reports uploads
// left open by a previous run.
func (app *App) bootstrap(ctx context.Context) error {
	root := app.store.Root()

	settings, err := app.stashes.Settings.Get(ctx, root)
	if errors.Is(err, common.ErrorNotFound) {
		name, _ := os.Hostname()
		settings = models.NewNodeSettings()
		settings.NodeID = uuid.New()
		settings.Name = name
		settings.DeploymentType = "single_container"
		if settings, err = app.stashes.Settings.Set(ctx, root, settings); err != nil {
			return fmt.Errorf("create node settings: %w", err)
		}
		app.logger.Info(ctx, "node settings created", "node_id", settings.NodeID)
	} else if err != nil {
		return fmt.Errorf("load node settings: %w", err)
	}

	if err := app.ensureRootUser(ctx); err != nil {
		return err
	}

	latest, err := app.stashes.Sync.GetLatest(ctx, root)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if latest != nil {
		app.logger.Info(ctx, "sync state loaded", "state", latest.ID, "objects", len(latest.Objects))
	}

	pending, err := app.stashes.Blobs.GetByState(ctx, root, models.UploadInProgress)
	if err != nil {
		return fmt.Errorf("load pending uploads: %w", err)
	}
	if len(pending) > 0 {
		app.logger.Warn(ctx, "uploads left in progress", "count", len(pending))
	}

	app.logger.Info(ctx, "node ready", "node_id", settings.NodeID, "name", settings.Name)
	return nil
}

// ensureRootUser creates the configured admin user unless it exists.
func (app *App) ensureRootUser(ctx context.Context) error {
	if app.config.RootEmail == "" {
		return nil
	}
	root := app.store.Root()

	_, err := app.stashes.Users.GetByEmail(ctx, root, app.config.RootEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("load root user: %w", err)
	}

	u := models.NewUser()
	u.Email = app.config.RootEmail
	u.Name = "root"
	u.Role = models.RoleAdmin
	if err := u.SetPassword(app.config.RootPassword); err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}
	if _, err := app.stashes.Users.Set(ctx, root, u); err != nil {
		return fmt.Errorf("create root user: %w", err)
	}
	app.logger.Info(ctx, "root user created", "email", u.Email)
	return nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run bootstraps the node and blocks until ctx is cancelled or a termination
// signal arrives, then shuts down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting node...",
		"store", app.config.StoreBackend,
		"blob_driver", app.config.BlobDriver)

	app.initSignalHandler(ctx, cancelFunc)

	if err := app.bootstrap(ctx); err != nil {
		app.logger.Error(ctx, "bootstrap failed", "error", err)
		return multierror.Append(err, app.Shutdown(context.Background())).ErrorOrNil()
	}

	<-ctx.Done()
	return app.Shutdown(context.Background())
}

// Shutdown closes the store and flushes the logger, reporting every failure.
func (app *App) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := app.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	app.logger.Info(ctx, "node stopped")
	if err := app.flushLogger(); err != nil {
		result = multierror.Append(result, fmt.Errorf("flush logger: %w", err))
	}
	return result.ErrorOrNil()
}
