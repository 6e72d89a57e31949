// Package resolver resolves the node references of every way in a PBF
// container against a node location cache.
//
// Resolution runs in passes. Each pass handles the ways whose largest node
// reference falls inside one chunk of node ids and defers the rest, so a
// run touches the cache in bounded, increasing id windows. Passes continue
// until the chunk covers the largest reference seen. The first pass also
// finds the first blob that holds anything but nodes; later passes seek
// straight to it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/osmresolve/internal/metrics"
	"github.com/freeeve/osmresolve/internal/nodecache"
	"github.com/freeeve/osmresolve/internal/osmpbf"
	"github.com/freeeve/osmresolve/internal/stats"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid resolver configuration")

// Config configures a Resolver.
type Config struct {
	Workers     int            // blob workers per pass
	ChunkSize   int64          // node ids per pass; ignored when Unbounded
	Unbounded   bool           // resolve everything in a single pass
	ReportEvery time.Duration  // progress log period, stats.DefaultInterval if 0
	Logger      zerolog.Logger // Logger
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Pass     int                `json:"pass"`
	Chunk    Chunk              `json:"chunk"`
	From     int64              `json:"from_offset"` // offset the pass started reading at
	Stats    stats.ResolveStats `json:"stats"`
	Duration time.Duration      `json:"duration_ns"`
}

// Result is the outcome of a resolution run.
type Result struct {
	Passes int                `json:"passes"`
	Chunks []PassResult       `json:"chunks"`
	Total  stats.ResolveStats `json:"total"`
	MaxRef int64              `json:"max_ref"`
}

// Progress is the live state of a run, as served on /progress.
type Progress struct {
	Pass      int                `json:"pass"`
	Chunk     Chunk              `json:"chunk"`
	Blocks    uint64             `json:"blocks"`
	Current   stats.ResolveStats `json:"current"`
	Completed []PassResult       `json:"completed"`
	MaxRef    int64              `json:"max_ref"`
}

// Resolver runs the passes of one resolution run.
type Resolver struct {
	cfg   Config
	path  string
	store nodecache.Store
	state *RunState
	log   zerolog.Logger

	mu        sync.Mutex
	pass      int
	chunk     Chunk
	agg       *stats.Aggregator[stats.ResolveStats]
	completed []PassResult
}

// New creates a resolver for the container at path. store must hold the
// locations of every node of the container.
func New(cfg Config, path string, store nodecache.Store) (*Resolver, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if !cfg.Unbounded && cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = stats.DefaultInterval
	}
	return &Resolver{
		cfg:   cfg,
		path:  path,
		store: store,
		state: NewRunState(),
		log:   cfg.Logger,
	}, nil
}

// State returns the run state shared by the passes.
func (r *Resolver) State() *RunState {
	return r.state
}

// Resolve runs passes until every way has been handled. Any error aborts
// the run; no partial result is returned.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	chunk := Chunk{Start: 0, Size: r.cfg.ChunkSize}
	if r.cfg.Unbounded {
		chunk = Unbounded
	}

	res := &Result{}
	for pass := 1; ; pass++ {
		pr, err := r.runPass(ctx, pass, chunk)
		if err != nil {
			return nil, fmt.Errorf("pass %d over chunk %s: %w", pass, chunk, err)
		}
		res.Passes = pass
		res.Chunks = append(res.Chunks, pr)
		res.Total = res.Total.Merge(pr.Stats)

		if chunk.Last() || r.state.MaxRef() < chunk.End() {
			break
		}
		chunk = chunk.Next()
	}
	res.MaxRef = r.state.MaxRef()
	return res, nil
}

func (r *Resolver) runPass(ctx context.Context, pass int, chunk Chunk) (PassResult, error) {
	log := r.log.With().
		Int("pass", pass).
		Int64("chunk_start", chunk.Start).
		Int64("chunk_end", chunk.End()).
		Logger()

	from := int64(-1)
	if off, ok := r.state.SkipOffset(); ok {
		from = off
		log.Info().Int64("offset", off).Msg("skipping to first non-point blob")
	}

	agg := stats.Spawn[stats.ResolveStats]("resolve", r.cfg.ReportEvery, log, nil)
	r.mu.Lock()
	r.pass, r.chunk, r.agg = pass, chunk, agg
	r.mu.Unlock()

	metrics.ChunkStart.Set(float64(chunk.Start))
	metrics.ChunkEnd.Set(float64(chunk.End()))
	log.Info().Msg("pass started")
	start := time.Now()

	err := scanBlocks(ctx, r.path, from, r.cfg.Workers, metrics.PhaseResolve, func() blockFunc {
		acc := r.store.Accessor()
		return func(b *osmpbf.Block) error {
			s := r.resolveBlock(acc, chunk, b)
			if err := acc.Err(); err != nil {
				return err
			}
			agg.Send(s)
			return nil
		}
	})
	agg.Close()
	total := agg.Wait()
	if err != nil {
		return PassResult{}, err
	}

	pr := PassResult{
		Pass:     pass,
		Chunk:    chunk,
		From:     max(from, 0),
		Stats:    total,
		Duration: time.Since(start),
	}
	r.mu.Lock()
	r.completed = append(r.completed, pr)
	r.mu.Unlock()

	metrics.PassesTotal.Inc()
	metrics.MaxRefID.Set(float64(r.state.MaxRef()))
	log.Info().
		Object("stats", total).
		Int64("max_ref", r.state.MaxRef()).
		Dur("dur", pr.Duration).
		Msg("pass finished")
	return pr, nil
}

// resolveBlock handles the ways of one block whose largest reference lies
// in chunk, and records the block in the run state.
func (r *Resolver) resolveBlock(acc nodecache.Accessor, chunk Chunk, b *osmpbf.Block) stats.ResolveStats {
	var s stats.ResolveStats
	blockMax := int64(-1)

	for w := range b.Ways() {
		maxRef, ok := w.MaxRef()
		if !ok {
			if chunk.Start == 0 {
				s.Ways++
				s.Empty++
			}
			continue
		}
		blockMax = max(blockMax, maxRef)
		if !chunk.Contains(maxRef) {
			s.Deferred++
			continue
		}

		s.Ways++
		missing := false
		for _, id := range w.Refs {
			c, found := acc.Lookup(id)
			if !found {
				s.NodesMissing++
				missing = true
				continue
			}
			s.NodesResolved++
			s.BBox = s.BBox.Add(c)
		}
		if missing {
			s.Errors++
		} else {
			s.Resolved++
		}
	}

	if b.HasNonPoint() {
		r.state.ObserveNonPoint(b.Offset)
	}
	r.state.ObserveRef(blockMax)

	metrics.WaysTotal.WithLabelValues(metrics.OutcomeResolved).Add(float64(s.Resolved))
	metrics.WaysTotal.WithLabelValues(metrics.OutcomeDeferred).Add(float64(s.Deferred))
	metrics.WaysTotal.WithLabelValues(metrics.OutcomeEmpty).Add(float64(s.Empty))
	metrics.WaysTotal.WithLabelValues(metrics.OutcomeError).Add(float64(s.Errors))
	return s
}

// Progress returns a snapshot of the running resolution.
func (r *Resolver) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Progress{
		Pass:      r.pass,
		Chunk:     r.chunk,
		Completed: append([]PassResult(nil), r.completed...),
		MaxRef:    r.state.MaxRef(),
	}
	if r.agg != nil {
		p.Current, p.Blocks = r.agg.Latest()
	}
	return p
}
