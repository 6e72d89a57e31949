// Package stats holds the statistics produced by population and resolution
// runs, and the aggregator that reduces per-worker values into one.
//
// Every stats type is a value with a Merge method that is associative and
// commutative, with the zero value as identity. Workers may therefore send
// partial results in any order and any grouping.
package stats

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/freeeve/osmresolve/internal/nodecache"
)

// Mergeable is implemented by values the Aggregator can reduce and log.
type Mergeable[T any] interface {
	Merge(other T) T
	zerolog.LogObjectMarshaler
}

// BBox is a bounding box in 1e-7 degree units. The zero value is the empty
// box, the identity of Union.
type BBox struct {
	Valid  bool  `json:"valid"`
	MinLat int32 `json:"min_lat"`
	MinLon int32 `json:"min_lon"`
	MaxLat int32 `json:"max_lat"`
	MaxLon int32 `json:"max_lon"`
}

// Add returns b extended to cover c.
func (b BBox) Add(c nodecache.Coordinate) BBox {
	if !b.Valid {
		return BBox{Valid: true, MinLat: c.Lat, MinLon: c.Lon, MaxLat: c.Lat, MaxLon: c.Lon}
	}
	b.MinLat = min(b.MinLat, c.Lat)
	b.MinLon = min(b.MinLon, c.Lon)
	b.MaxLat = max(b.MaxLat, c.Lat)
	b.MaxLon = max(b.MaxLon, c.Lon)
	return b
}

// Union returns the smallest box covering b and o.
func (b BBox) Union(o BBox) BBox {
	switch {
	case !o.Valid:
		return b
	case !b.Valid:
		return o
	}
	return BBox{
		Valid:  true,
		MinLat: min(b.MinLat, o.MinLat),
		MinLon: min(b.MinLon, o.MinLon),
		MaxLat: max(b.MaxLat, o.MaxLat),
		MaxLon: max(b.MaxLon, o.MaxLon),
	}
}

// MarshalZerologObject writes the box in degrees.
func (b BBox) MarshalZerologObject(e *zerolog.Event) {
	if !b.Valid {
		e.Bool("empty", true)
		return
	}
	e.Float64("min_lat", float64(b.MinLat)/nodecache.Scale).
		Float64("min_lon", float64(b.MinLon)/nodecache.Scale).
		Float64("max_lat", float64(b.MaxLat)/nodecache.Scale).
		Float64("max_lon", float64(b.MaxLon)/nodecache.Scale)
}

// ResolveStats counts the outcome of resolving ways.
type ResolveStats struct {
	Ways          uint64 `json:"ways"`
	Resolved      uint64 `json:"resolved"`
	Deferred      uint64 `json:"deferred"`
	Empty         uint64 `json:"empty"`
	Errors        uint64 `json:"errors"`
	NodesResolved uint64 `json:"nodes_resolved"`
	NodesMissing  uint64 `json:"nodes_missing"`
	BBox          BBox   `json:"bbox"`
}

// Merge returns the sum of s and o.
func (s ResolveStats) Merge(o ResolveStats) ResolveStats {
	return ResolveStats{
		Ways:          s.Ways + o.Ways,
		Resolved:      s.Resolved + o.Resolved,
		Deferred:      s.Deferred + o.Deferred,
		Empty:         s.Empty + o.Empty,
		Errors:        s.Errors + o.Errors,
		NodesResolved: s.NodesResolved + o.NodesResolved,
		NodesMissing:  s.NodesMissing + o.NodesMissing,
		BBox:          s.BBox.Union(o.BBox),
	}
}

func (s ResolveStats) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("ways", s.Ways).
		Uint64("resolved", s.Resolved).
		Uint64("deferred", s.Deferred).
		Uint64("empty", s.Empty).
		Uint64("errors", s.Errors).
		Uint64("nodes_resolved", s.NodesResolved).
		Uint64("nodes_missing", s.NodesMissing).
		Object("bbox", s.BBox)
}

// NodeStats counts the nodes written during population.
type NodeStats struct {
	Nodes  uint64 `json:"nodes"`
	Blocks uint64 `json:"blocks"`
	MinID  int64  `json:"min_id"`
	MaxID  int64  `json:"max_id"`
	BBox   BBox   `json:"bbox"`
}

// AddNode returns s with one more node counted.
func (s NodeStats) AddNode(id int64, c nodecache.Coordinate) NodeStats {
	if s.Nodes == 0 {
		s.MinID, s.MaxID = id, id
	} else {
		s.MinID = min(s.MinID, id)
		s.MaxID = max(s.MaxID, id)
	}
	s.Nodes++
	s.BBox = s.BBox.Add(c)
	return s
}

// Merge returns the sum of s and o. Id bounds are only taken from values
// that counted at least one node.
func (s NodeStats) Merge(o NodeStats) NodeStats {
	out := NodeStats{
		Nodes:  s.Nodes + o.Nodes,
		Blocks: s.Blocks + o.Blocks,
		BBox:   s.BBox.Union(o.BBox),
	}
	switch {
	case s.Nodes == 0 && o.Nodes == 0:
	case s.Nodes == 0:
		out.MinID, out.MaxID = o.MinID, o.MaxID
	case o.Nodes == 0:
		out.MinID, out.MaxID = s.MinID, s.MaxID
	default:
		out.MinID = min(s.MinID, o.MinID)
		out.MaxID = max(s.MaxID, o.MaxID)
	}
	return out
}

func (s NodeStats) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("nodes", s.Nodes).
		Uint64("blocks", s.Blocks).
		Int64("min_id", s.MinID).
		Int64("max_id", s.MaxID).
		Object("bbox", s.BBox)
}

// Ratio returns part/total, or 0 when total is 0.
func Ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 10000
}
