package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the default period between progress snapshots.
const DefaultInterval = 60 * time.Second

// Aggregator reduces values sent by any number of producers into one
// accumulator owned by a single goroutine.
type Aggregator[T Mergeable[T]] struct {
	name       string
	interval   time.Duration
	log        zerolog.Logger
	onSnapshot func(T, bool)

	in   chan T
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	latest   T
	received uint64
	final    T
}

// Spawn starts an aggregator. Every interval the current accumulator is
// logged and passed to onSnapshot (if not nil) with final=false; after
// Close it is passed once more with final=true. An interval <= 0 disables
// periodic snapshots.
func Spawn[T Mergeable[T]](name string, interval time.Duration, log zerolog.Logger, onSnapshot func(snap T, final bool)) *Aggregator[T] {
	a := &Aggregator[T]{
		name:       name,
		interval:   interval,
		log:        log.With().Str("aggregator", name).Logger(),
		onSnapshot: onSnapshot,
		in:         make(chan T, 64),
		done:       make(chan struct{}),
	}
	go a.run()
	return a
}

// Send hands v to the aggregator. It blocks only while the buffer is full.
// Send must not be called after Close.
func (a *Aggregator[T]) Send(v T) {
	a.in <- v
}

// Close signals that no more values will be sent. It is safe to call more
// than once.
func (a *Aggregator[T]) Close() {
	a.once.Do(func() { close(a.in) })
}

// Wait blocks until every sent value has been merged after Close and
// returns the final accumulator.
func (a *Aggregator[T]) Wait() T {
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final
}

// Latest returns the most recent snapshot and the number of values merged
// into it.
func (a *Aggregator[T]) Latest() (T, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.received
}

func (a *Aggregator[T]) run() {
	defer close(a.done)

	var tick <-chan time.Time
	if a.interval > 0 {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var acc T
	var n uint64
	for {
		select {
		case v, ok := <-a.in:
			if !ok {
				a.publish(acc, n, true)
				return
			}
			acc = acc.Merge(v)
			n++
		case <-tick:
			a.publish(acc, n, false)
		}
	}
}

func (a *Aggregator[T]) publish(acc T, n uint64, final bool) {
	a.mu.Lock()
	a.latest = acc
	a.received = n
	if final {
		a.final = acc
	}
	a.mu.Unlock()

	if !final {
		a.log.Info().Uint64("received", n).Object("stats", acc).Msg("progress")
	}
	if a.onSnapshot != nil {
		a.onSnapshot(acc, final)
	}
}
