// Package app wires the store, services and router from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository"
	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/scheduler"
	"github.com/wadjakorntonsri/go-scanlink/pkg/config"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/services"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

// DemoSeed keeps sample dashboards stable across restarts.
const DemoSeed = 20240611

type App struct {
	Config    *config.Config
	Gateway   ports.LinkGateway
	Recorder  *services.Recorder
	Redirects *services.RedirectService
	Dashboard *services.Aggregator
	Links     *services.LinkService
	Router    http.Handler

	log logrus.FieldLogger
}

func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	gateway, err := repository.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithGateway(cfg, gateway, logger)
}

// NewWithGateway wires everything around an already opened gateway.
func NewWithGateway(cfg *config.Config, gateway ports.LinkGateway, logger logrus.FieldLogger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var demo services.Source
	if cfg.DashboardDemoFallback {
		demo = services.NewDemoSource(DemoSeed)
	}
	dashboard, err := services.NewAggregator(gateway, demo, services.AggregatorOptions{
		CacheTTL:  cfg.DashboardCacheTTL,
		CacheSize: cfg.DashboardCacheSize,
		LinkLimit: cfg.DashboardLinkLimit,
		Location:  loc,
	}, logger)
	if err != nil {
		return nil, err
	}

	recorder := services.NewRecorder(gateway, services.RecorderOptions{
		QueueSize:    cfg.RecordQueueSize,
		Workers:      cfg.RecordWorkers,
		WriteTimeout: cfg.RecordTimeout,
	}, logger)
	resolver := services.NewResolver(gateway, cfg.ResolveTimeout, logger)

	a := &App{
		Config:    cfg,
		Gateway:   gateway,
		Recorder:  recorder,
		Redirects: services.NewRedirectService(resolver, recorder, cfg.RedirectGraceDelay, logger),
		Dashboard: dashboard,
		Links:     services.NewLinkService(gateway, dashboard, logger),
		log:       logger.WithField("component", "app"),
	}
	a.Router = handler.NewRouter(cfg, handler.Services{
		Links:     a.Links,
		Dashboard: a.Dashboard,
		Redirects: a.Redirects,
	}, logger)
	return a, nil
}

// Scheduler returns a cron scheduler with the cache purge and, when the
// store supports it, the maintenance job registered. It is not started.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.log)
	if err := s.AddCachePurge(scheduler.PurgeSchedule, a.Dashboard); err != nil {
		return nil, err
	}
	if m, ok := a.Gateway.(ports.Maintainer); ok {
		if err := s.AddMaintenance(scheduler.MaintenanceSchedule, m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (a *App) Logger() logrus.FieldLogger {
	return a.log
}

// Close drains queued scans, then closes the store.
func (a *App) Close(ctx context.Context) error {
	recErr := a.Recorder.Close(ctx)
	if recErr != nil {
		a.log.WithError(recErr).Warn("Scan queue not fully drained")
	}
	return errors.Join(recErr, a.Gateway.Close())
}
