package application

import (
	"context"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Dispatcher runs jobs on a fixed pool of workers. Jobs submitted with the
// same key run one at a time in submission order, jobs with different keys
// may run concurrently.
type Dispatcher interface {
	// Do runs fn on the worker owning key and waits for its result. Once
	// picked by a worker, fn runs to completion even if ctx is done in the
	// meantime.
	Do(ctx context.Context, key string, fn func() error) error
	// Go runs fn in background. At most as many background jobs as workers
	// run at the same time.
	Go(ctx context.Context, fn func(ctx context.Context)) error
	Stop()
}

type job struct {
	fn   func() error
	done chan error
}

type dispatcher struct {
	shards []chan job
	sem    *semaphore.Weighted
	wg     *sync.WaitGroup
	quit   chan struct{}
	lock   *sync.RWMutex
	closed bool
}

// NewDispatcher ...
func NewDispatcher(numWorkers int) Dispatcher {
	return newDispatcher(numWorkers)
}

func newDispatcher(numWorkers int) *dispatcher {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	d := &dispatcher{
		shards: make([]chan job, numWorkers),
		sem:    semaphore.NewWeighted(int64(numWorkers)),
		wg:     &sync.WaitGroup{},
		quit:   make(chan struct{}),
		lock:   &sync.RWMutex{},
	}
	for i := range d.shards {
		d.shards[i] = make(chan job)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d
}

func (d *dispatcher) work(jobs chan job) {
	defer d.wg.Done()

	for {
		select {
		case <-d.quit:
			return
		case j := <-jobs:
			j.done <- j.fn()
		}
	}
}

func (d *dispatcher) Do(ctx context.Context, key string, fn func() error) error {
	d.lock.RLock()
	if d.closed {
		d.lock.RUnlock()
		return ErrServiceUnavailable
	}
	d.lock.RUnlock()

	j := job{fn, make(chan error, 1)}
	select {
	case d.shards[d.shardOf(key)] <- j:
	case <-d.quit:
		return ErrServiceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) Go(ctx context.Context, fn func(ctx context.Context)) error {
	d.lock.RLock()
	if d.closed {
		d.lock.RUnlock()
		return ErrServiceUnavailable
	}
	d.wg.Add(1)
	d.lock.RUnlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.wg.Done()
		return err
	}
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

func (d *dispatcher) Stop() {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	d.lock.Unlock()

	d.wg.Wait()
	log.Debug("dispatcher stopped")
}

func (d *dispatcher) shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}
