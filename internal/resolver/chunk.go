package resolver

import (
	"fmt"
	"math"
)

// Chunk is the half-open node id range [Start, Start+Size) resolved by one
// pass.
type Chunk struct {
	Start int64
	Size  int64
}

// Unbounded is the single chunk covering every addressable id.
var Unbounded = Chunk{Start: 0, Size: math.MaxInt64}

// End returns one past the last id of the chunk, saturating at
// math.MaxInt64.
func (c Chunk) End() int64 {
	if c.Size > math.MaxInt64-c.Start {
		return math.MaxInt64
	}
	return c.Start + c.Size
}

// Contains reports whether id lies inside the chunk.
func (c Chunk) Contains(id int64) bool {
	return id >= c.Start && id < c.End()
}

// Next returns the chunk following c.
func (c Chunk) Next() Chunk {
	return Chunk{Start: c.End(), Size: c.Size}
}

// Last reports whether no id after the chunk can be addressed.
func (c Chunk) Last() bool {
	return c.End() == math.MaxInt64
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%d, %d)", c.Start, c.End())
}
