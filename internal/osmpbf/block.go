package osmpbf

import "iter"

// Node is a point entity. Lat and Lon are in nanodegrees.
type Node struct {
	ID  int64
	Lat int64
	Lon int64
}

// Way is an edge entity: an ordered list of node references.
type Way struct {
	ID   int64
	Refs []int64
}

// MaxRef returns the largest referenced node id, and false for a way with
// no references.
func (w *Way) MaxRef() (int64, bool) {
	if len(w.Refs) == 0 {
		return 0, false
	}
	m := w.Refs[0]
	for _, id := range w.Refs[1:] {
		if id > m {
			m = id
		}
	}
	return m, true
}

// denseNodes holds the columns of a DenseNodes message, delta-decoded.
// Coordinates stay in raw granularity units until iterated.
type denseNodes struct {
	ids  []int64
	lats []int64
	lons []int64
}

// Group is one primitive group of a block.
type Group struct {
	plain      []Node
	dense      denseNodes
	Ways       []Way
	Relations  int
	Changesets int

	granularity int64
	latOffset   int64
	lonOffset   int64
}

// Nodes yields every point entity of the group, plain and dense encodings
// alike. The sequence can be iterated any number of times.
func (g *Group) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for _, n := range g.plain {
			if !yield(n) {
				return
			}
		}
		for i, id := range g.dense.ids {
			n := Node{
				ID:  id,
				Lat: g.latOffset + g.granularity*g.dense.lats[i],
				Lon: g.lonOffset + g.granularity*g.dense.lons[i],
			}
			if !yield(n) {
				return
			}
		}
	}
}

// NodeCount returns the number of point entities in the group.
func (g *Group) NodeCount() int {
	return len(g.plain) + len(g.dense.ids)
}

// HasNonPoint reports whether the group holds ways, relations or
// changesets.
func (g *Group) HasNonPoint() bool {
	return len(g.Ways) > 0 || g.Relations > 0 || g.Changesets > 0
}

// Block is the decoded contents of one data blob. It owns all of its groups
// and entities; drop it once consumed.
type Block struct {
	Offset int64
	Groups []Group
}

// HasNonPoint reports whether any group holds a non-point entity.
func (b *Block) HasNonPoint() bool {
	for i := range b.Groups {
		if b.Groups[i].HasNonPoint() {
			return true
		}
	}
	return false
}

// Nodes yields the point entities of every group in order.
func (b *Block) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for i := range b.Groups {
			for n := range b.Groups[i].Nodes() {
				if !yield(n) {
					return
				}
			}
		}
	}
}

// Ways yields the edge entities of every group in order.
func (b *Block) Ways() iter.Seq[*Way] {
	return func(yield func(*Way) bool) {
		for i := range b.Groups {
			ways := b.Groups[i].Ways
			for j := range ways {
				if !yield(&ways[j]) {
					return
				}
			}
		}
	}
}
