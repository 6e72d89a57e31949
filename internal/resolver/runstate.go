package resolver

import (
	"math"
	"sync/atomic"
)

// RunState is the progress shared by every pass of one resolution run.
// Workers update it concurrently; both values move in one direction only.
type RunState struct {
	maxRef        atomic.Int64
	firstNonPoint atomic.Int64 // math.MaxInt64 while unknown
}

// NewRunState returns a state with no reference seen and no non-point
// block located.
func NewRunState() *RunState {
	s := &RunState{}
	s.maxRef.Store(-1)
	s.firstNonPoint.Store(math.MaxInt64)
	return s
}

// ObserveRef raises the largest referenced node id to id.
func (s *RunState) ObserveRef(id int64) {
	for {
		cur := s.maxRef.Load()
		if id <= cur || s.maxRef.CompareAndSwap(cur, id) {
			return
		}
	}
}

// ObserveNonPoint lowers the offset of the first blob holding non-point
// entities to offset.
func (s *RunState) ObserveNonPoint(offset int64) {
	for {
		cur := s.firstNonPoint.Load()
		if offset >= cur || s.firstNonPoint.CompareAndSwap(cur, offset) {
			return
		}
	}
}

// MaxRef returns the largest node id referenced by any way seen so far, or
// -1.
func (s *RunState) MaxRef() int64 {
	return s.maxRef.Load()
}

// SkipOffset returns the offset of the first blob with non-point entities,
// and false while none has been seen.
func (s *RunState) SkipOffset() (int64, bool) {
	off := s.firstNonPoint.Load()
	if off == math.MaxInt64 {
		return -1, false
	}
	return off, true
}
