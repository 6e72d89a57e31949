package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freeeve/osmresolve/internal/metrics"
	"github.com/freeeve/osmresolve/internal/osmpbf"
)

// blockFunc consumes one decoded data block. Each worker gets its own.
type blockFunc func(b *osmpbf.Block) error

// scanBlocks streams the data blobs of the container at path, starting at
// offset from (or the beginning when from < 0), and decodes and consumes
// them on workers goroutines. newWorker is called once per worker.
//
// The reader goroutine only frames blobs; decompression and decoding run on
// the workers. The first error cancels the scan and is returned.
func scanBlocks(ctx context.Context, path string, from int64, workers int, phase string, newWorker func() blockFunc) error {
	r, err := osmpbf.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if from > 0 {
		if err := r.Seek(from); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	blobs := make(chan *osmpbf.Blob, 2*workers)

	g.Go(func() error {
		defer close(blobs)
		for {
			b, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if b.Type == osmpbf.TypeHeader {
				if _, err := b.DecodeHeader(); err != nil {
					return err
				}
				continue
			}
			select {
			case blobs <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := 0; i < workers; i++ {
		consume := newWorker()
		g.Go(func() error {
			for b := range blobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				block, err := b.Decode()
				if err != nil {
					return err
				}
				if block == nil {
					continue
				}
				metrics.BlobsDecodedTotal.WithLabelValues(phase).Inc()
				metrics.BlobDecodeDurationMs.WithLabelValues(phase).Observe(float64(time.Since(start).Microseconds()) / 1000)
				if err := consume(block); err != nil {
					return fmt.Errorf("blob at offset %d: %w", b.Offset, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}
