package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Dispatcher hands a document to whatever runs ingestion. It returns once the
// task is queued, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, docID string) error
}

// PoolDispatcher runs ingestion in process on an ants pool.
type PoolDispatcher struct {
	pool    *ants.Pool
	proc    *Processor
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewPoolDispatcher(proc *Processor, size int, timeout time.Duration, log *slog.Logger) (*PoolDispatcher, error) {
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PoolDispatcher{pool: pool, proc: proc, timeout: timeout, log: log.With("component", "dispatcher")}, nil
}

func (d *PoolDispatcher) Dispatch(_ context.Context, docID string) error {
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		res := d.proc.Process(ctx, docID)
		d.log.Debug("ingest task finished", "document_id", docID, "status", string(res.Status), "chunks", res.ChunkCount)
	})
	if err != nil {
		d.wg.Done()
		return fmt.Errorf("submit ingest task: %w", err)
	}
	return nil
}

// Wait blocks until every submitted task has finished.
func (d *PoolDispatcher) Wait() {
	d.wg.Wait()
}

func (d *PoolDispatcher) Close() {
	d.wg.Wait()
	d.pool.Release()
}
