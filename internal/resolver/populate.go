package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/osmresolve/internal/metrics"
	"github.com/freeeve/osmresolve/internal/nodecache"
	"github.com/freeeve/osmresolve/internal/osmpbf"
	"github.com/freeeve/osmresolve/internal/stats"
)

// PopulateConfig configures a Populator.
type PopulateConfig struct {
	Workers     int
	Backend     string         // recorded in the cache metadata
	RunID       string         // recorded in the cache metadata
	ReportEvery time.Duration  // progress log period, stats.DefaultInterval if 0
	Logger      zerolog.Logger // Logger
}

// Populator writes the location of every node of a container into a
// cache.
type Populator struct {
	cfg       PopulateConfig
	pbfPath   string
	cachePath string
	store     nodecache.Store
	log       zerolog.Logger

	mu  sync.Mutex
	agg *stats.Aggregator[stats.NodeStats]
}

// NewPopulator creates a populator reading pbfPath into store, whose file
// lives at cachePath.
func NewPopulator(cfg PopulateConfig, pbfPath, cachePath string, store nodecache.Store) (*Populator, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = stats.DefaultInterval
	}
	return &Populator{
		cfg:       cfg,
		pbfPath:   pbfPath,
		cachePath: cachePath,
		store:     store,
		log:       cfg.Logger,
	}, nil
}

// Run reads the whole container once. The cache is emptied first, so ids
// absent from the container read as unresolved even when the file held an
// earlier population. The cache metadata is marked incomplete before the
// first write and complete only after every record has been synced, so an
// interrupted run leaves a cache that resolution refuses.
func (p *Populator) Run(ctx context.Context) (stats.NodeStats, error) {
	meta := &nodecache.Metadata{
		RecordWidth: p.store.RecordWidth(),
		Backend:     p.cfg.Backend,
		Source:      p.pbfPath,
		RunID:       p.cfg.RunID,
	}
	if err := nodecache.SaveMetadata(p.cachePath, meta); err != nil {
		return stats.NodeStats{}, err
	}
	if err := p.store.Reset(); err != nil {
		return stats.NodeStats{}, fmt.Errorf("reset node cache: %w", err)
	}

	agg := stats.Spawn[stats.NodeStats]("populate", p.cfg.ReportEvery, p.log, nil)
	p.mu.Lock()
	p.agg = agg
	p.mu.Unlock()

	p.log.Info().Str("pbf", p.pbfPath).Int("workers", p.cfg.Workers).Msg("population started")
	start := time.Now()

	err := scanBlocks(ctx, p.pbfPath, -1, p.cfg.Workers, metrics.PhasePopulate, func() blockFunc {
		acc := p.store.Accessor()
		return func(b *osmpbf.Block) error {
			s := stats.NodeStats{Blocks: 1}
			for n := range b.Nodes() {
				c := nodecache.FromNano(n.Lat, n.Lon)
				if err := acc.Set(n.ID, c); err != nil {
					return fmt.Errorf("node %d: %w", n.ID, err)
				}
				s = s.AddNode(n.ID, c)
			}
			metrics.NodesWrittenTotal.Add(float64(s.Nodes))
			agg.Send(s)
			return nil
		}
	})
	agg.Close()
	total := agg.Wait()
	if err != nil {
		return stats.NodeStats{}, err
	}

	if err := p.store.Sync(); err != nil {
		return stats.NodeStats{}, err
	}
	meta.Nodes = total.Nodes
	meta.MinID = total.MinID
	meta.MaxID = total.MaxID
	meta.Complete = true
	if err := nodecache.SaveMetadata(p.cachePath, meta); err != nil {
		return stats.NodeStats{}, err
	}

	p.log.Info().Object("stats", total).Dur("dur", time.Since(start)).Msg("population finished")
	return total, nil
}

// Progress returns the latest node statistics of the running population.
func (p *Populator) Progress() stats.NodeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.agg == nil {
		return stats.NodeStats{}
	}
	s, _ := p.agg.Latest()
	return s
}
