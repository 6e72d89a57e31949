package osmpbf

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PrimitiveBlock field numbers.
const (
	blockStringTable = 1
	blockGroup       = 2
	blockGranularity = 17
	blockLatOffset   = 19
	blockLonOffset   = 20
)

// PrimitiveGroup field numbers.
const (
	groupNodes      = 1
	groupDense      = 2
	groupWays       = 3
	groupRelations  = 4
	groupChangesets = 5
)

// Node, DenseNodes, Way field numbers.
const (
	nodeID  = 1
	nodeLat = 8
	nodeLon = 9

	denseID  = 1
	denseLat = 8
	denseLon = 9

	wayID   = 1
	wayRefs = 8
)

const defaultGranularity = 100

// Decode decompresses and decodes the blob. It returns nil and no error for
// blobs that carry no entities (header and unknown blob types).
func (b *Blob) Decode() (*Block, error) {
	if b.Type != TypeData {
		return nil, nil
	}
	payload, err := b.Payload()
	if err != nil {
		return nil, err
	}
	block, err := decodePrimitiveBlock(payload)
	if err != nil {
		return nil, corruptf(b.Offset, "primitive block: %v", err)
	}
	block.Offset = b.Offset
	return block, nil
}

func decodePrimitiveBlock(data []byte) (*Block, error) {
	var (
		groups      [][]byte
		granularity int64 = defaultGranularity
		latOffset   int64
		lonOffset   int64
	)
	err := eachField(data, func(f field) error {
		switch f.number {
		case blockGroup:
			groups = append(groups, f.bytes)
		case blockGranularity:
			granularity = int64(int32(f.num))
		case blockLatOffset:
			latOffset = int64(f.num)
		case blockLonOffset:
			lonOffset = int64(f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if granularity <= 0 {
		return nil, fmt.Errorf("granularity %d", granularity)
	}

	block := &Block{Groups: make([]Group, len(groups))}
	for i, gb := range groups {
		g := &block.Groups[i]
		g.granularity = granularity
		g.latOffset = latOffset
		g.lonOffset = lonOffset
		if err := decodeGroup(g, gb); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
	}
	return block, nil
}

func decodeGroup(g *Group, data []byte) error {
	return eachField(data, func(f field) error {
		switch f.number {
		case groupNodes:
			n, err := decodeNode(f.bytes)
			if err != nil {
				return err
			}
			n.Lat = g.latOffset + g.granularity*n.Lat
			n.Lon = g.lonOffset + g.granularity*n.Lon
			g.plain = append(g.plain, n)
		case groupDense:
			return decodeDense(&g.dense, f.bytes)
		case groupWays:
			w, err := decodeWay(f.bytes)
			if err != nil {
				return err
			}
			g.Ways = append(g.Ways, w)
		case groupRelations:
			g.Relations++
		case groupChangesets:
			g.Changesets++
		}
		return nil
	})
}

// decodeNode returns the node with coordinates still in granularity units.
func decodeNode(data []byte) (Node, error) {
	var n Node
	var hasLat, hasLon bool
	err := eachField(data, func(f field) error {
		switch f.number {
		case nodeID:
			n.ID = protowire.DecodeZigZag(f.num)
		case nodeLat:
			n.Lat, hasLat = protowire.DecodeZigZag(f.num), true
		case nodeLon:
			n.Lon, hasLon = protowire.DecodeZigZag(f.num), true
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	if !hasLat || !hasLon {
		return Node{}, fmt.Errorf("node %d without coordinates", n.ID)
	}
	return n, nil
}

func decodeDense(d *denseNodes, data []byte) error {
	// Delta coding restarts in every DenseNodes message.
	var ids, lats, lons []int64
	err := eachField(data, func(f field) error {
		var err error
		switch f.number {
		case denseID:
			ids, err = appendSint64s(ids, f, true)
		case denseLat:
			lats, err = appendSint64s(lats, f, true)
		case denseLon:
			lons, err = appendSint64s(lons, f, true)
		}
		return err
	})
	if err != nil {
		return err
	}
	if len(lats) != len(ids) || len(lons) != len(ids) {
		return fmt.Errorf("dense nodes: %d ids, %d lats, %d lons", len(ids), len(lats), len(lons))
	}
	d.ids = append(d.ids, ids...)
	d.lats = append(d.lats, lats...)
	d.lons = append(d.lons, lons...)
	return nil
}

func decodeWay(data []byte) (Way, error) {
	var w Way
	err := eachField(data, func(f field) error {
		var err error
		switch f.number {
		case wayID:
			w.ID = int64(f.num)
		case wayRefs:
			w.Refs, err = appendSint64s(w.Refs, f, true)
		}
		return err
	})
	return w, err
}
