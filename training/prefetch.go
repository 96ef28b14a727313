package training

import (
	"context"
	"fmt"
	"sync"
)

// PrefetchLoader wraps a DataLoader and assembles batches on a
// background goroutine so the epoch loop never waits on sample
// loading. A single worker preserves the inner loader's batch order.
type PrefetchLoader struct {
	inner DataLoader
	depth int

	batchChannel chan *Batch
	errorChannel chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex    sync.Mutex
	started  bool
	produced uint64
}

// PrefetchConfig holds configuration for a PrefetchLoader
type PrefetchConfig struct {
	Depth int // number of batches to keep ready (default: 3)
}

// NewPrefetchLoader creates a prefetching wrapper around inner. The
// background worker starts on the first call to Next.
func NewPrefetchLoader(inner DataLoader, config PrefetchConfig) (*PrefetchLoader, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: inner loader cannot be nil", ErrInvalidArgument)
	}
	if config.Depth <= 0 {
		config.Depth = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PrefetchLoader{
		inner:        inner,
		depth:        config.Depth,
		batchChannel: make(chan *Batch, config.Depth),
		errorChannel: make(chan error, 1),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Len returns the number of batches in an epoch
func (pl *PrefetchLoader) Len() int {
	return pl.inner.Len()
}

// Dataset exposes the wrapped loader's dataset
func (pl *PrefetchLoader) Dataset() Dataset {
	return pl.inner.Dataset()
}

// Next returns the next prefetched batch, (nil, nil) at epoch end
func (pl *PrefetchLoader) Next() (*Batch, error) {
	pl.mutex.Lock()
	if !pl.started {
		pl.started = true
		pl.wg.Add(1)
		go pl.worker()
	}
	pl.mutex.Unlock()

	select {
	case batch, ok := <-pl.batchChannel:
		if !ok {
			return nil, nil
		}
		return batch, nil
	case err := <-pl.errorChannel:
		return nil, err
	case <-pl.ctx.Done():
		return nil, fmt.Errorf("prefetch loader stopped")
	}
}

// Stop cancels the worker and releases any queued batches. After Stop
// the loader cannot be reused.
func (pl *PrefetchLoader) Stop() {
	pl.cancel()
	pl.wg.Wait()

	pl.mutex.Lock()
	defer pl.mutex.Unlock()
	for {
		select {
		case batch, ok := <-pl.batchChannel:
			if !ok {
				return
			}
			batch.Release()
		default:
			return
		}
	}
}

// Produced reports how many batches the worker has assembled
func (pl *PrefetchLoader) Produced() uint64 {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()
	return pl.produced
}

func (pl *PrefetchLoader) worker() {
	defer pl.wg.Done()

	for {
		batch, err := pl.inner.Next()
		if err != nil {
			select {
			case pl.errorChannel <- err:
			case <-pl.ctx.Done():
			}
			return
		}
		if batch == nil {
			close(pl.batchChannel)
			return
		}

		select {
		case pl.batchChannel <- batch:
			pl.mutex.Lock()
			pl.produced++
			pl.mutex.Unlock()
		case <-pl.ctx.Done():
			batch.Release()
			return
		}
	}
}
