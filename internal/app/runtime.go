// Package app assembles the pipeline and its supporting services from
// configuration. The API server and the local CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/config"
	"github.com/ledgerlens/ledgerlens/internal/feedback"
	feedbackpostgres "github.com/ledgerlens/ledgerlens/internal/feedback/postgres"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/judge"
	"github.com/ledgerlens/ledgerlens/internal/lexicon"
	"github.com/ledgerlens/ledgerlens/internal/maintenance"
	"github.com/ledgerlens/ledgerlens/internal/migrations"
	"github.com/ledgerlens/ledgerlens/internal/nlparse"
	"github.com/ledgerlens/ledgerlens/internal/pipeline"
	"github.com/ledgerlens/ledgerlens/internal/query"
	"github.com/ledgerlens/ledgerlens/internal/safety"
	"github.com/ledgerlens/ledgerlens/internal/sqlbuild"
	"github.com/ledgerlens/ledgerlens/internal/storage"
	s3store "github.com/ledgerlens/ledgerlens/internal/storage/s3"
)

type Runtime struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *catalog.Registry
	// Watcher is nil unless a schema file is configured with watching on.
	Watcher     *catalog.Watcher
	DB          *sql.DB
	Feedback    *feedback.Store
	FeedbackDB  *feedbackpostgres.Log
	ObjectStore storage.ObjectStore
	Pipeline    *pipeline.Service
	Maintenance *maintenance.Service

	closers []func() error
}

type Options struct {
	// SkipDatabase builds a translation-only runtime; Execute then reports
	// that no connection is available.
	SkipDatabase bool
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if err := rt.loadCatalog(); err != nil {
		return rt, err
	}
	if !opts.SkipDatabase {
		db, err := query.Open(ctx, query.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return rt, fmt.Errorf("open execution database: %w", err)
		}
		rt.DB = db
		rt.closers = append(rt.closers, db.Close)
	}
	if err := rt.openFeedback(ctx); err != nil {
		return rt, err
	}
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return rt, fmt.Errorf("initialize object store: %w", err)
		}
		rt.ObjectStore = objectStore
	}

	judgeImpl, err := buildJudge(cfg)
	if err != nil {
		return rt, err
	}
	rt.Pipeline, err = rt.buildPipeline(judgeImpl)
	if err != nil {
		return rt, err
	}
	rt.Maintenance = rt.buildMaintenance()
	return rt, nil
}

func (rt *Runtime) loadCatalog() error {
	path := rt.Config.Catalog.SchemaFile
	if path == "" {
		rt.Registry = catalog.NewRegistry(catalog.ERP())
		return nil
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load schema file: %w", err)
	}
	rt.Registry = catalog.NewRegistry(cat)
	if rt.Config.Catalog.Watch {
		rt.Watcher = catalog.NewWatcher(path, rt.Registry, rt.Logger)
	}
	return nil
}

func (rt *Runtime) openFeedback(ctx context.Context) error {
	cfg := rt.Config.Feedback
	var log feedback.Log
	switch cfg.Backend {
	case "memory":
		log = feedback.NewMemoryLog()
	case "file":
		fileLog, err := feedback.NewFileLog(cfg.FilePath, rt.Logger)
		if err != nil {
			return fmt.Errorf("open feedback file: %w", err)
		}
		log = fileLog
	case "postgres":
		db, err := feedbackpostgres.Open(ctx, feedbackpostgres.DBConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    rt.Config.Database.MaxOpenConns,
			MaxIdleConns:    rt.Config.Database.MaxIdleConns,
			ConnMaxIdleTime: rt.Config.Database.ConnMaxIdleTime,
			ConnMaxLifetime: rt.Config.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open feedback database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		if err := requireCurrentSchema(ctx, db); err != nil {
			return err
		}
		rt.FeedbackDB = feedbackpostgres.NewLog(db)
		log = rt.FeedbackDB
	default:
		return fmt.Errorf("unsupported feedback backend %q", cfg.Backend)
	}

	store, err := feedback.NewStore(ctx, log, rt.Logger)
	if err != nil {
		return fmt.Errorf("load feedback log: %w", err)
	}
	rt.Feedback = store
	return nil
}

// requireCurrentSchema refuses to start against a feedback database that
// ledgerlens-migrate has not brought up to date.
func requireCurrentSchema(ctx context.Context, db *sql.DB) error {
	pending, err := migrations.NewRunner().Pending(ctx, db)
	if err != nil {
		return fmt.Errorf("check feedback schema: %w", err)
	}
	if len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for _, state := range pending {
			names = append(names, fmt.Sprintf("%d_%s", state.Version, state.Name))
		}
		return fmt.Errorf("feedback schema has %d pending migration(s) (%s); run ledgerlens-migrate", len(pending), strings.Join(names, ", "))
	}
	return nil
}

func buildJudge(cfg config.Config) (judge.Judge, error) {
	if !cfg.AI.JudgeEnabled {
		return nil, nil
	}
	j, err := judge.NewOpenAIJudge(judge.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize quality judge: %w", err)
	}
	return j, nil
}

func (rt *Runtime) buildPipeline(j judge.Judge) (*pipeline.Service, error) {
	cfg := rt.Config
	dialect, err := sqlbuild.DialectByName(cfg.Database.DialectName())
	if err != nil {
		return nil, err
	}
	validator := safety.New(rt.Logger)

	var defaultTenant *intent.Tenant
	if cfg.Tenant.Enabled {
		defaultTenant = &intent.Tenant{UserID: cfg.Tenant.DefaultUserID, CompanyName: cfg.Tenant.DefaultCompanyName}
	}

	return pipeline.New(pipeline.Options{
		Catalog: rt.Registry,
		Parser: nlparse.New(lexicon.NewResolver(), nlparse.Options{
			MaxLimit: cfg.Parser.MaxLimit,
			History:  rt.Feedback,
			Logger:   rt.Logger,
		}),
		Builder: sqlbuild.New(sqlbuild.Options{
			Dialect: dialect,
			Tenant: sqlbuild.TenantColumns{
				Enabled:       cfg.Tenant.Enabled,
				UserColumn:    cfg.Tenant.UserColumn,
				CompanyColumn: cfg.Tenant.CompanyColumn,
			},
			Logger: rt.Logger,
		}),
		Validator:     validator,
		Gateway:       query.NewGateway(rt.DB, validator, rt.Logger),
		Feedback:      rt.Feedback,
		Judge:         j,
		JudgeTimeout:  cfg.AI.Timeout,
		DefaultTenant: defaultTenant,
		AutoFeedback:  cfg.Feedback.AutoRecord,
		Logger:        rt.Logger,
	})
}

func (rt *Runtime) buildMaintenance() *maintenance.Service {
	svc := &maintenance.Service{
		Feedback: rt.Feedback,
		Config: maintenance.Config{
			RebuildInterval:  rt.Config.Feedback.RebuildEvery,
			ArchiveInterval:  rt.Config.Archive.Interval,
			ArchiveRetention: rt.Config.Archive.Retention,
		},
		Logger: rt.Logger,
	}
	var archiveOpts []feedback.ArchiverOption
	if rt.FeedbackDB != nil {
		svc.Runs = rt.FeedbackDB
		archiveOpts = append(archiveOpts, feedback.WithWatermarkSource(rt.FeedbackDB))
	}
	if rt.ObjectStore != nil {
		svc.ObjectStore = rt.ObjectStore
		svc.Archiver = feedback.NewArchiver(rt.Feedback, rt.ObjectStore, rt.Logger, archiveOpts...)
	}
	return svc
}

// Close releases database handles in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
