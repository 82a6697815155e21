package app

import (
	"context"
	"log/slog"

	cfg "github.com/clinicore/report-exporter/config"
	"github.com/clinicore/report-exporter/internal/artifact"
	cache "github.com/clinicore/report-exporter/internal/cache/redis"
	"github.com/clinicore/report-exporter/internal/datasource"
	"github.com/clinicore/report-exporter/internal/errors"
	httphandler "github.com/clinicore/report-exporter/internal/handler/http"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/notifier"
	"github.com/clinicore/report-exporter/internal/render"
	"github.com/clinicore/report-exporter/internal/server"
	"github.com/clinicore/report-exporter/internal/service"
	"github.com/clinicore/report-exporter/internal/store"
	"github.com/clinicore/report-exporter/internal/store/postgres"
)

type App struct {
	config   *cfg.AppConfig
	log      *slog.Logger
	exitCh   chan error
	shutdown func(ctx context.Context) error

	Store     store.Store
	cache     *cache.RedisCache
	artifacts *artifact.Store
	renderer  render.Renderer
	source    datasource.DataSource
	notifier  notifier.Notifier

	executor   *Executor
	dispatcher *Dispatcher

	templateService service.TemplateService
	historyService  service.HistoryService

	server *server.Server
}

// New creates a fully initialized App.
func New(config *cfg.AppConfig, shutdown func(ctx context.Context) error) (*App, error) {
	app := &App{
		config:   config,
		log:      slog.Default(),
		shutdown: shutdown,
		exitCh:   make(chan error),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initRedis(); err != nil {
		return nil, err
	}
	if err := app.initPipeline(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}
	if err := app.initServer(); err != nil {
		return nil, err
	}

	return app, nil
}

// --------- Private init methods ---------

func (app *App) initStore() error {
	if app.config.Database == nil {
		return errors.Internal("database config is nil")
	}
	app.Store = postgres.New(app.config.Database)
	return nil
}

func (app *App) initRedis() error {
	redisCache, err := cache.NewRedisCache(app.config.Redis.Addr, app.config.Redis.Password, app.config.Redis.DB)
	if err != nil {
		return errors.Internal("unable to initialize Redis", errors.WithCause(err))
	}
	app.cache = redisCache
	return nil
}

func (app *App) initPipeline() error {
	artifacts, err := artifact.NewStore(app.config.Export.ArtifactDir)
	if err != nil {
		return errors.Internal("unable to initialize artifact store", errors.WithCause(err))
	}
	app.artifacts = artifacts
	app.renderer = render.New()

	views := make(map[model.Category]string, len(app.config.Export.SourceViews))
	for category, view := range app.config.Export.SourceViews {
		views[model.Category(category)] = view
	}
	pg, ok := app.Store.(*postgres.Store)
	if !ok {
		return errors.Internal("data source requires the postgres store")
	}
	app.source, err = datasource.NewPostgres(pg, views)
	if err != nil {
		return err
	}

	// Delivery is optional: without mailgun credentials jobs still run,
	// recipients are just marked failed.
	if app.config.Mailgun != nil && app.config.Mailgun.Key != "" {
		mg, err := notifier.NewMailgunNotifier(app.config.Mailgun)
		if err != nil {
			return err
		}
		app.notifier = mg
	}

	app.executor, err = NewExecutor(
		app.Store.Template(),
		app.Store.Job(),
		app.Store.History(),
		app.cache,
		app.source,
		app.renderer,
		app.artifacts,
		app.config.Export.JobTimeout,
		app.log,
	)
	if err != nil {
		return err
	}

	app.dispatcher, err = NewDispatcher(
		app.Store.Job(),
		app.Store.History(),
		app.notifier,
		app.config.Export.DeliveryConcurrency,
		app.log,
	)
	return err
}

func (app *App) initServices() error {
	templateService, err := service.NewTemplateService(
		app.Store.Template(),
		app.renderer,
		app.executor,
		app.config.Export.RetentionDays,
		app.log,
	)
	if err != nil {
		return err
	}
	app.templateService = templateService

	historyService, err := service.NewHistoryService(
		app.Store.History(),
		app.Store.Job(),
		app.artifacts,
		app.cache,
		app.log,
	)
	if err != nil {
		return err
	}
	app.historyService = historyService
	return nil
}

func (app *App) initServer() error {
	router := httphandler.NewRouter(app.templateService, app.historyService)
	srv, err := server.BuildServer(app.config.HTTP.Addr, app.config.Consul, router, app.exitCh)
	if err != nil {
		return errors.Internal("failed to build server", errors.WithCause(err))
	}
	app.server = srv
	return nil
}

// Start opens the store, recovers interrupted jobs, then runs the HTTP
// server, workers and scheduler until exit.
func (app *App) Start(ctx context.Context) error {
	if err := app.Store.Open(); err != nil {
		return errors.Internal("failed to open store", errors.WithCause(err))
	}

	if err := app.RecoverInterrupted(ctx); err != nil {
		return err
	}

	go app.server.Start()
	app.StartExportWorkers(ctx)
	app.StartScheduler(ctx)

	return <-app.exitCh
}

// Stop gracefully shuts down all services.
func (app *App) Stop() error {
	slog.Info("report_exporter.main.stop_starting")

	if app.server != nil {
		app.server.Stop()
		slog.Info("server stopped")
	}

	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			slog.Error("store close error", "err", err)
		} else {
			slog.Info("store closed")
		}
	}

	if app.cache != nil {
		if err := app.cache.Clear(); err != nil {
			slog.Error("redis cache clear error", "err", err)
		} else {
			slog.Info("redis cache cleared")
		}
	}

	if app.shutdown != nil {
		if err := app.shutdown(context.Background()); err != nil {
			slog.Error("shutdown hook error", "err", err)
		} else {
			slog.Info("shutdown hook executed")
		}
	}

	slog.Info("report_exporter.main.stop_complete")
	return nil
}
