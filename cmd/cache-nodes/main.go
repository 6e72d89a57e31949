package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/osmresolve/internal/config"
	"github.com/freeeve/osmresolve/internal/httpapi"
	"github.com/freeeve/osmresolve/internal/logx"
	"github.com/freeeve/osmresolve/internal/nodecache"
	"github.com/freeeve/osmresolve/internal/resolver"
)

func main() {
	// .env must be loaded before flags read their environment defaults
	dotenvErr := config.LoadDotEnv()
	load := config.RegisterFlags(flag.CommandLine, "sequential")
	flag.Parse()

	cfg, cfgErr := load()
	logger, runID := logx.WithRun(logx.NewLogger(cfg.LogLevel), "cache-nodes")
	if dotenvErr != nil {
		logger.Fatal().Err(dotenvErr).Msg("load .env")
	}
	if cfgErr != nil {
		logger.Fatal().Err(cfgErr).Msg("invalid configuration")
	}
	advice, err := nodecache.ParseAdviceList(cfg.Advice)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid advice")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []nodecache.Option{
		nodecache.WithRecordWidth(cfg.RecordWidth),
		nodecache.WithPageSize(cfg.PageSize),
	}
	if cfg.StrictAdvice {
		opts = append(opts, nodecache.WithStrictAdvice())
	}
	store, err := nodecache.OpenStore(cfg.Backend, cfg.CachePath, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("open node cache")
	}
	defer store.Close()
	logger.Info().
		Str("cache", cfg.CachePath).
		Str("backend", cfg.Backend).
		Int("record_width", cfg.RecordWidth).
		Msg("opened node cache")

	if err := nodecache.ApplyAdvice(store, advice, cfg.StrictAdvice, logger); err != nil {
		logger.Fatal().Err(err).Msg("advise node cache")
	}

	pop, err := resolver.NewPopulator(resolver.PopulateConfig{
		Workers:     cfg.Workers,
		Backend:     cfg.Backend,
		RunID:       runID,
		ReportEvery: cfg.ReportEvery,
		Logger:      logger,
	}, cfg.PBFPath, cfg.CachePath, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("create populator")
	}

	if cfg.MetricsAddr != "" {
		srv := httpapi.NewServer(cfg.MetricsAddr, httpapi.NewRouter(logger, "cache-nodes", runID, func() any {
			return pop.Progress()
		}))
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	total, err := pop.Run(ctx)
	if err != nil {
		store.Close()
		logger.Fatal().Err(err).Msg("population failed")
	}

	logger.Info().
		Object("stats", total).
		Dur("dur", time.Since(start)).
		Msg("node cache complete")
}
