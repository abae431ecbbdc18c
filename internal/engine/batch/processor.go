// Package batch splits record sets into fixed-size batches and drives their
// sequential processing. Each batch is handed to a commit handler exactly
// once; a failing handler stops the whole sequence.
package batch

import (
	"context"
	"sync"

	logger "github.com/rookline/chessync/internal/support/logger"
)

// Handler commits one batch. index is the zero-based batch position within
// the full sequence of total batches. An error aborts processing; already
// committed batches stay committed.
type Handler[T any] func(ctx context.Context, index, total int, items []T) error

// Stats holds cumulative processing counters across Process calls. They feed
// observability only.
type Stats struct {
	BatchesRun  int // BatchesRun counts every batch handed to a handler, failed batches included.
	RecordsSeen int // RecordsSeen counts every record handed to a handler.
	BatchSize   int // BatchSize is the configured batch size.
}

// Processor drives sequential batch processing of a record slice.
type Processor[T any] struct {
	batchSize int

	mu          sync.Mutex
	batchesRun  int
	recordsSeen int
}

// NewProcessor creates a Processor with the given batch size.
// A non-positive size falls back to 1.
func NewProcessor[T any](batchSize int) *Processor[T] {
	if batchSize < 1 {
		logger.Warnf("Batch size %d is not positive; falling back to 1.", batchSize)
		batchSize = 1
	}
	return &Processor[T]{batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (p *Processor[T]) BatchSize() int {
	return p.batchSize
}

// NumBatches returns how many batches n items produce: ceil(n / batchSize).
func (p *Processor[T]) NumBatches(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + p.batchSize - 1) / p.batchSize
}

// Stats returns the cumulative processing counters.
func (p *Processor[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		BatchesRun:  p.batchesRun,
		RecordsSeen: p.recordsSeen,
		BatchSize:   p.batchSize,
	}
}

// Reset zeroes the counters without touching the batch size.
func (p *Processor[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchesRun = 0
	p.recordsSeen = 0
}

func (p *Processor[T]) countBatch(records int) {
	p.mu.Lock()
	p.batchesRun++
	p.recordsSeen += records
	p.mu.Unlock()
}

// Process splits items into batches and invokes handler for each in order,
// starting at batch startIndex (earlier batches are assumed committed by a
// previous run). The final batch may be smaller than the batch size.
//
// The handler's error is returned unmodified, so callers can classify it
// with errors.Is. Processing also stops between batches when ctx is
// cancelled, returning ctx.Err().
func (p *Processor[T]) Process(ctx context.Context, items []T, startIndex int, handler Handler[T]) error {
	if startIndex < 0 {
		startIndex = 0
	}
	total := p.NumBatches(len(items))
	for index := startIndex; index < total; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lo := index * p.batchSize
		hi := lo + p.batchSize
		if hi > len(items) {
			hi = len(items)
		}

		p.countBatch(hi - lo)
		if err := handler(ctx, index, total, items[lo:hi]); err != nil {
			logger.Debugf("Batch %d/%d failed: %v", index+1, total, err)
			return err
		}
	}
	return nil
}
