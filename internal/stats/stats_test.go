package stats

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/osmresolve/internal/nodecache"
)

func randomBBox(rng *rand.Rand) BBox {
	if rng.Intn(4) == 0 {
		return BBox{}
	}
	var b BBox
	for i := 0; i < 1+rng.Intn(3); i++ {
		b = b.Add(nodecache.Coordinate{
			Lat: int32(rng.Intn(1_800_000_001) - 900_000_000),
			Lon: int32(rng.Intn(2_000_000_000) - 1_000_000_000),
		})
	}
	return b
}

func randomResolve(rng *rand.Rand) ResolveStats {
	return ResolveStats{
		Ways:          uint64(rng.Intn(1000)),
		Resolved:      uint64(rng.Intn(1000)),
		Deferred:      uint64(rng.Intn(1000)),
		Empty:         uint64(rng.Intn(10)),
		Errors:        uint64(rng.Intn(10)),
		NodesResolved: uint64(rng.Intn(100000)),
		NodesMissing:  uint64(rng.Intn(100)),
		BBox:          randomBBox(rng),
	}
}

func randomNodes(rng *rand.Rand) NodeStats {
	var s NodeStats
	for i := 0; i < rng.Intn(5); i++ {
		s = s.AddNode(rng.Int63n(1<<40), nodecache.Coordinate{Lat: int32(rng.Intn(1000)), Lon: int32(rng.Intn(1000))})
	}
	s.Blocks = uint64(rng.Intn(3))
	return s
}

func TestResolveStatsMergeLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a, b, c := randomResolve(rng), randomResolve(rng), randomResolve(rng)
		require.Equal(t, b.Merge(a), a.Merge(b), "commutative")
		require.Equal(t, a.Merge(b.Merge(c)), a.Merge(b).Merge(c), "associative")
		require.Equal(t, a, a.Merge(ResolveStats{}), "identity")
	}
}

func TestNodeStatsMergeLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		a, b, c := randomNodes(rng), randomNodes(rng), randomNodes(rng)
		require.Equal(t, b.Merge(a), a.Merge(b), "commutative")
		require.Equal(t, a.Merge(b.Merge(c)), a.Merge(b).Merge(c), "associative")
		require.Equal(t, a, NodeStats{}.Merge(a), "identity")
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := make([]ResolveStats, 50)
	for i := range values {
		values[i] = randomResolve(rng)
	}
	var forward ResolveStats
	for _, v := range values {
		forward = forward.Merge(v)
	}
	for trial := 0; trial < 20; trial++ {
		perm := rng.Perm(len(values))
		var got ResolveStats
		for _, i := range perm {
			got = got.Merge(values[i])
		}
		require.Equal(t, forward, got, "order %v", perm)
	}
}

func TestBBox(t *testing.T) {
	var b BBox
	require.False(t, b.Valid)
	b = b.Add(nodecache.Coordinate{Lat: 10, Lon: -5})
	b = b.Add(nodecache.Coordinate{Lat: -3, Lon: 20})
	require.Equal(t, BBox{Valid: true, MinLat: -3, MinLon: -5, MaxLat: 10, MaxLon: 20}, b)
	require.Equal(t, b, b.Union(BBox{}))
	require.Equal(t, b, BBox{}.Union(b))
}

func TestNodeStatsAddNode(t *testing.T) {
	var s NodeStats
	s = s.AddNode(50, nodecache.Coordinate{Lat: 1, Lon: 1})
	s = s.AddNode(7, nodecache.Coordinate{Lat: 2, Lon: 2})
	s = s.AddNode(90, nodecache.Coordinate{Lat: 3, Lon: 3})
	require.Equal(t, uint64(3), s.Nodes)
	require.Equal(t, int64(7), s.MinID)
	require.Equal(t, int64(90), s.MaxID)
}

func TestRatio(t *testing.T) {
	require.Zero(t, Ratio(1, 0))
	require.Equal(t, 0.3333, Ratio(1, 3))
}

func TestAggregatorFinal(t *testing.T) {
	agg := Spawn[ResolveStats]("test", 0, zerolog.Nop(), nil)

	const producers = 8
	const perProducer = 1000
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				agg.Send(ResolveStats{Ways: 1, Resolved: 1, BBox: BBox{}.Add(nodecache.Coordinate{Lat: int32(i), Lon: int32(-i)})})
			}
		}()
	}
	wg.Wait()
	agg.Close()
	agg.Close()

	got := agg.Wait()
	require.Equal(t, uint64(producers*perProducer), got.Ways)
	require.Equal(t, uint64(producers*perProducer), got.Resolved)
	require.Equal(t, BBox{Valid: true, MinLat: 0, MinLon: -(perProducer - 1), MaxLat: perProducer - 1, MaxLon: 0}, got.BBox)
	latest, n := agg.Latest()
	require.Equal(t, got, latest)
	require.Equal(t, uint64(producers*perProducer), n)
}

func TestAggregatorEmpty(t *testing.T) {
	agg := Spawn[NodeStats]("empty", time.Hour, zerolog.Nop(), nil)
	agg.Close()
	require.Equal(t, NodeStats{}, agg.Wait())
}

func TestAggregatorPeriodicSnapshot(t *testing.T) {
	snaps := make(chan ResolveStats, 100)
	var finals int
	var mu sync.Mutex
	agg := Spawn("periodic", 5*time.Millisecond, zerolog.Nop(), func(s ResolveStats, final bool) {
		if final {
			mu.Lock()
			finals++
			mu.Unlock()
			return
		}
		select {
		case snaps <- s:
		default:
		}
	})

	agg.Send(ResolveStats{Ways: 3})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Ways == 3 {
				agg.Close()
				agg.Wait()
				mu.Lock()
				defer mu.Unlock()
				require.Equal(t, 1, finals)
				return
			}
		case <-deadline:
			require.Fail(t, "no periodic snapshot with the sent value")
		}
	}
}
