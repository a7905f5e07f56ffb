// Package app wires configuration into the printtrack services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/allocator"
	"github.com/thatjpcsguy/printtrack/internal/blob"
	"github.com/thatjpcsguy/printtrack/internal/config"
	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/hooks"
	"github.com/thatjpcsguy/printtrack/internal/lifecycle"
	"github.com/thatjpcsguy/printtrack/internal/parts"
	"github.com/thatjpcsguy/printtrack/internal/production"
	"github.com/thatjpcsguy/printtrack/internal/registry"
	"github.com/thatjpcsguy/printtrack/internal/store"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// App holds the services built from one configuration.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      *store.Store
	Boxes      *registry.Registry
	Parts      *parts.Registry
	Allocator  *allocator.Allocator
	Labeler    *allocator.Labeler
	Units      *lifecycle.Service
	Blobs      blob.Store
	Production *production.Service
	Hooks      *hooks.Runner

	tracing *tracing.Provider
}

// Options override parts of the wiring.
type Options struct {
	// Logger replaces the logger built from the config.
	Logger *zap.Logger
	// Blobs replaces the blob store built from the config.
	Blobs blob.Store
	// HooksDir is where .printtrack/hooks is looked up.
	HooksDir string
}

// Open builds every service from cfg. Close releases what Open acquired.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}

	mode, err := production.ParseMode(cfg.Allocation.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Import.DefaultStage != "" {
		if _, err := domain.ParseStage(cfg.Import.DefaultStage); err != nil {
			return nil, fmt.Errorf("invalid import.default_stage: %w", err)
		}
	}

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	tracer := tp.Tracer()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	blobs := opts.Blobs
	if blobs == nil {
		blobs, err = newBlobStore(ctx, cfg.Blob)
		if err != nil {
			_ = s.Close()
			_ = tp.Shutdown(ctx)
			return nil, err
		}
	}

	boxes := registry.New(s, logger)
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   s,
		Boxes:   boxes,
		Parts:   parts.New(s, logger),
		Units:   lifecycle.New(s, boxes, logger, tracer),
		Blobs:   blobs,
		tracing: tp,
		Allocator: allocator.New(s, boxes, allocator.Options{
			MaxAttempts:    cfg.Allocation.MaxAttempts,
			InitialBackoff: cfg.Allocation.Backoff,
			MaxBackoff:     cfg.Allocation.MaxBackoff,
			Strategy:       allocator.Strategy(cfg.Allocation.Strategy),
		}, logger, tracer),
		Labeler: allocator.NewLabeler(s, cfg.Allocation.LabelTTL, logger, tracer),
		Hooks: hooks.NewRunner(opts.HooksDir, map[hooks.HookType]string{
			hooks.PostRegister: cfg.Hooks.PostRegister,
			hooks.PostDefect:   cfg.Hooks.PostDefect,
			hooks.PostComplete: cfg.Hooks.PostComplete,
		}),
	}
	a.Production = production.New(production.Deps{
		Parts:     a.Parts,
		Allocator: a.Allocator,
		Labeler:   a.Labeler,
		Units:     a.Units,
		Blobs:     a.Blobs,
		Mode:      mode,
		Logger:    logger,
		Tracer:    tracer,
	})
	return a, nil
}

// DefaultStage is the stage imported units start at.
func (a *App) DefaultStage() domain.Stage {
	stage, err := domain.ParseStage(a.Config.Import.DefaultStage)
	if err != nil {
		return domain.StagePrinted
	}
	return stage
}

// Project is the configured project id.
func (a *App) Project() domain.ProjectID {
	return domain.ProjectID(a.Config.Project)
}

// Progress aggregates the progress rows of a project.
func (a *App) Progress(ctx context.Context) ([]domain.ProgressRow, error) {
	ps, err := a.Parts.List(ctx, a.Project())
	if err != nil {
		return nil, err
	}
	units, err := a.Units.ListByProject(ctx, a.Project())
	if err != nil {
		return nil, err
	}
	return lifecycle.AggregateProgress(ps, units), nil
}

// Close flushes traces and closes the store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Prefix:         cfg.S3.Prefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			URLExpiry:      cfg.S3.URLExpiry,
		})
	case "local", "":
		return blob.NewLocalStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("%w: unknown blob backend %q", domain.ErrValidation, cfg.Backend)
	}
}
