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
	"github.com/freeeve/osmresolve/internal/stats"
)

func main() {
	// .env must be loaded before flags read their environment defaults
	dotenvErr := config.LoadDotEnv()
	load := config.RegisterFlags(flag.CommandLine, "random")
	flag.Parse()

	cfg, cfgErr := load()
	logger, runID := logx.WithRun(logx.NewLogger(cfg.LogLevel), "resolve")
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

	meta, err := nodecache.CheckComplete(cfg.CachePath, cfg.RecordWidth)
	if err != nil {
		logger.Fatal().Err(err).Str("cache", cfg.CachePath).Msg("node cache unusable, run cache-nodes first")
	}
	logger.Info().
		Str("cache", cfg.CachePath).
		Uint64("nodes", meta.Nodes).
		Int64("max_id", meta.MaxID).
		Str("populated_by", meta.RunID).
		Msg("node cache complete")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []nodecache.Option{
		nodecache.WithRecordWidth(cfg.RecordWidth),
		nodecache.WithPageSize(cfg.PageSize),
		nodecache.WithReadOnly(),
	}
	if cfg.StrictAdvice {
		opts = append(opts, nodecache.WithStrictAdvice())
	}
	store, err := nodecache.OpenStore(cfg.Backend, cfg.CachePath, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("open node cache")
	}
	defer store.Close()

	if err := nodecache.ApplyAdvice(store, advice, cfg.StrictAdvice, logger); err != nil {
		logger.Fatal().Err(err).Msg("advise node cache")
	}

	res, err := resolver.New(resolver.Config{
		Workers:     cfg.Workers,
		ChunkSize:   cfg.ChunkSize(),
		Unbounded:   cfg.Unbounded,
		ReportEvery: cfg.ReportEvery,
		Logger:      logger,
	}, cfg.PBFPath, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("create resolver")
	}

	if cfg.MetricsAddr != "" {
		srv := httpapi.NewServer(cfg.MetricsAddr, httpapi.NewRouter(logger, "resolve", runID, func() any {
			return res.Progress()
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

	logger.Info().
		Str("pbf", cfg.PBFPath).
		Int64("chunk_size", cfg.ChunkSize()).
		Bool("unbounded", cfg.Unbounded).
		Int("workers", cfg.Workers).
		Msg("resolution started")

	start := time.Now()
	result, err := res.Resolve(ctx)
	if err != nil {
		store.Close()
		logger.Fatal().Err(err).Msg("resolution failed")
	}

	logger.Info().
		Int("passes", result.Passes).
		Int64("max_ref", result.MaxRef).
		Object("total", result.Total).
		Float64("resolved_ratio", stats.Ratio(result.Total.Resolved, result.Total.Ways)).
		Dur("dur", time.Since(start)).
		Msg("resolution finished")
}
