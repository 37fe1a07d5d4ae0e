package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wave-collocation-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/wave-collocation-service/internal/adapter/kafka"
	"github.com/couchcryptid/wave-collocation-service/internal/adapter/netcdf"
	"github.com/couchcryptid/wave-collocation-service/internal/catalog"
	"github.com/couchcryptid/wave-collocation-service/internal/collocation"
	"github.com/couchcryptid/wave-collocation-service/internal/config"
	"github.com/couchcryptid/wave-collocation-service/internal/gridcache"
	"github.com/couchcryptid/wave-collocation-service/internal/gridfile"
	"github.com/couchcryptid/wave-collocation-service/internal/observability"
	"github.com/couchcryptid/wave-collocation-service/internal/pipeline"
	"github.com/couchcryptid/wave-collocation-service/internal/region"
	"github.com/couchcryptid/wave-collocation-service/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	reader := netcdf.NewReader(logger)
	cache := gridcache.New(reader, cfg.GridCacheSize, metrics, gridcache.WithOnEvict(func(k gridcache.Key) {
		logger.Debug("grid axes evicted", "path", k.Path)
	}))
	resolver := gridfile.NewResolver(logger, metrics)
	masker := region.NewMasker(cat, resolver, cache, clock, logger)
	engine := collocation.NewEngine(masker, logger, metrics, collocation.WithWorkers(cfg.Workers))

	lead := gridfile.Best()
	if h, ok := cfg.LeadTimeHours(); ok {
		lead = gridfile.Fixed(h)
	}

	var observations pipeline.ObservationSource = netcdf.NewObservationFiles(cfg.ObsPattern, cfg.ObsPlatform, logger)
	if cfg.ObsSource == config.ObsSourceStation {
		observations = netcdf.NewStationFiles(cfg.ObsPattern, cfg.ObsPlatform, cfg.StationLat, cfg.StationLon, logger)
		logger.Info("station observations", "platform", cfg.ObsPlatform, "lat", cfg.StationLat, "lon", cfg.StationLon)
	}

	stages := pipeline.Stages{
		Files:        resolver,
		Axes:         cache,
		Fields:       reader,
		Observations: observations,
		Regions:      masker,
		Collocator:   engine,
	}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		stages.Publisher = writer
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka sink disabled")
	}

	p := pipeline.New(cat, stages, pipeline.Settings{
		Model:            cfg.Model,
		Variable:         cfg.Variable,
		Region:           cfg.Region,
		ObsVariable:      cfg.ObsVariable,
		MaskObservations: cfg.MaskObservations,
		Start:            cfg.StartDate,
		End:              cfg.EndDate,
		Step:             cfg.DateIncrement,
		Lead:             lead,
		MaxLeadTime:      cfg.MaxLeadTime,
		DistanceLimitKm:  cfg.DistanceLimitKm,
		TimeWindow:       cfg.TimeWindow,
	}, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, cat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	var sched *scheduler.Scheduler
	if cfg.ScheduleInterval > 0 {
		sched = scheduler.New(p, cfg.ScheduleInterval, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler start error", "error", err)
			stop()
		}
		logger.Info("operational mode", "interval", cfg.ScheduleInterval)
	} else {
		// A one-off run shuts the service down when it finishes.
		go func() {
			defer stop()
			sum, err := p.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("collocation run failed", "error", err)
				runErr <- err
				return
			}
			logger.Info("collocation run complete",
				"dates", sum.Dates, "collocated", sum.Collocated, "skipped", sum.Skipped, "records", sum.Records)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	select {
	case <-runErr:
		os.Exit(1)
	default:
	}
}
