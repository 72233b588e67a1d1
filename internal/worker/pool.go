// Package worker implements WorkerPool: a fixed set of N worker
// threads, each running a generic processing loop, offering k logical ports
// of concurrency per thread. Grounded on internal/server/pool.go's BotPool —
// its register/unregister channels and mutex-guarded map generalize here
// into per-worker generations and a free/taken port list, and its
// triggerMatch debounce channel generalizes into the free-port condition
// variable that take_port waits on.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/metrics"
)

// DataFunc builds one worker's per-worker resource (spec's
// "per_worker_data_fn"); it is called once per worker generation, including
// on crash replacement.
type DataFunc[T any] func(ctx context.Context, workerIndex int) (T, error)

// EntryFunc is the generic worker body (spec's "script/entry"): it runs for
// the life of one worker generation and blocks until ctx is canceled. A
// return while ctx is still live is treated as an unexpected crash.
type EntryFunc[T any] func(ctx context.Context, workerIndex int, data T) error

// Port is one logical unit of concurrency on a worker (spec: "with
// parallelism_per_thread = k, each thread offers k logical ports"). Handle
// is the worker's shared per-worker resource built by DataFunc.
type Port[T any] struct {
	id         uint64
	workerIdx  int
	generation uint64
	Handle     T

	crashed  chan struct{}
	crashErr error
}

// Crashed is closed if the port's owning worker generation dies while the
// port is held. Callers holding a taken port should select on this
// alongside their own work to detect a crash and fail with CrashErr.
func (p *Port[T]) Crashed() <-chan struct{} { return p.crashed }

// CrashErr is valid once Crashed is closed.
func (p *Port[T]) CrashErr() error { return p.crashErr }

// Stats summarizes pool health (spec's crash/replacement bookkeeping,
// generalized from BotPool's statsMu-guarded botStats map).
type Stats struct {
	Workers  int
	Crashed  int64
	Replaced int64
	Free     int
	Taken    int
}

// Pool is the WorkerPool.
type Pool[T any] struct {
	logger zerolog.Logger
	scope  *metrics.Scope

	nThreads             int
	parallelismPerThread int
	dataFn               DataFunc[T]
	entryFn              EntryFunc[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	cond       *sync.Cond
	free       []*Port[T]
	taken      map[uint64]*Port[T]
	errored    map[uint64]bool
	nextPortID uint64
	generation map[int]uint64
	activeData map[int]T

	closed     bool
	terminated bool

	crashedCount  int64
	replacedCount int64
}

// New constructs a Pool of nThreads worker generations, each offering
// parallelismPerThread logical ports, without starting them. Call Start to
// launch the worker goroutines.
func New[T any](nThreads, parallelismPerThread int, dataFn DataFunc[T], entryFn EntryFunc[T], logger zerolog.Logger, scope *metrics.Scope) *Pool[T] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		logger:               logger.With().Str("component", "worker_pool").Logger(),
		scope:                scope,
		nThreads:             nThreads,
		parallelismPerThread: parallelismPerThread,
		dataFn:               dataFn,
		entryFn:              entryFn,
		ctx:                  ctx,
		cancel:               cancel,
		taken:                make(map[uint64]*Port[T]),
		errored:              make(map[uint64]bool),
		generation:           make(map[int]uint64),
		activeData:           make(map[int]T),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines.
func (p *Pool[T]) Start() {
	for i := 0; i < p.nThreads; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool[T]) runWorker(idx int) {
	defer p.wg.Done()
	for {
		if p.ctx.Err() != nil {
			return
		}

		data, err := p.dataFn(p.ctx, idx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Int("worker", idx).Msg("worker data_fn failed, retrying")
			continue
		}

		gen := p.beginGeneration(idx, data)
		err = p.entryFn(p.ctx, idx, data)

		if p.ctx.Err() != nil {
			p.endGenerationClean(idx, gen)
			return
		}

		p.endGenerationCrashed(idx, gen, err)
	}
}

func (p *Pool[T]) beginGeneration(idx int, data T) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen := p.generation[idx] + 1
	p.generation[idx] = gen
	p.activeData[idx] = data

	for i := 0; i < p.parallelismPerThread; i++ {
		p.nextPortID++
		port := &Port[T]{id: p.nextPortID, workerIdx: idx, generation: gen, Handle: data, crashed: make(chan struct{})}
		p.free = append(p.free, port)
	}
	p.cond.Broadcast()
	return gen
}

func (p *Pool[T]) endGenerationClean(idx int, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeFreePortsLocked(idx, gen)
	delete(p.activeData, idx)
}

func (p *Pool[T]) endGenerationCrashed(idx int, gen uint64, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeFreePortsLocked(idx, gen)
	delete(p.activeData, idx)

	reason := errs.New(errs.WorkerCrashed, "worker.pool", cause)
	for id, port := range p.taken {
		if port.workerIdx != idx || port.generation != gen || p.errored[id] {
			continue
		}
		p.errored[id] = true
		port.crashErr = reason
		close(port.crashed)
	}

	p.crashedCount++
	if !p.closed && !p.terminated {
		p.replacedCount++
	}
	p.logger.Warn().Err(cause).Int("worker", idx).Msg("worker crashed, replacing")
	p.cond.Broadcast()
}

func (p *Pool[T]) removeFreePortsLocked(idx int, gen uint64) {
	kept := p.free[:0]
	for _, port := range p.free {
		if port.workerIdx == idx && port.generation == gen {
			continue
		}
		kept = append(kept, port)
	}
	p.free = kept
}

// TakePort suspends until a free port is available, or fails with
// Terminated/Overloaded if the pool is shutting down, or with ctx.Err() if
// ctx is done first.
func (p *Pool[T]) TakePort(ctx context.Context) (*Port[T], error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 {
		if p.terminated {
			return nil, errs.Of(errs.Terminated)
		}
		if p.closed {
			return nil, errs.Of(errs.Overloaded)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.cond.Wait()
	}

	port := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.taken[port.id] = port
	return port, nil
}

// GivePort returns port to the free list. An unknown port panics unless it
// is a known errored port, which is silently dropped.
func (p *Pool[T]) GivePort(port *Port[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()

	if _, ok := p.taken[port.id]; ok {
		delete(p.taken, port.id)
		if p.errored[port.id] {
			delete(p.errored, port.id)
			return
		}
		if !p.closed && !p.terminated {
			p.free = append(p.free, port)
		}
		return
	}

	if p.errored[port.id] {
		delete(p.errored, port.id)
		return
	}

	panic(fmt.Sprintf("worker: give_port called with unknown port %d", port.id))
}

// Close drains in-flight work (all taken ports returned) then requests a
// clean shutdown per worker; after it returns, TakePort fails with
// Overloaded.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed || p.terminated {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	for len(p.taken) > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.scope.Close()
}

// Terminate cancels immediately; every in-flight port's Crashed channel
// fires with Terminated rather than waiting for work to drain.
func (p *Pool[T]) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true

	for id, port := range p.taken {
		if p.errored[id] {
			continue
		}
		p.errored[id] = true
		port.crashErr = errs.Of(errs.Terminated)
		close(port.crashed)
	}
	p.free = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.scope.Close()
}

// Stats reports current pool health.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:  p.nThreads,
		Crashed:  p.crashedCount,
		Replaced: p.replacedCount,
		Free:     len(p.free),
		Taken:    len(p.taken),
	}
}

func (p *Pool[T]) snapshotData() map[int]T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]T, len(p.activeData))
	for k, v := range p.activeData {
		out[k] = v
	}
	return out
}

func sortedIdxs[T any](data map[int]T) []int {
	idxs := make([]int, 0, len(data))
	for idx := range data {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// Map broadcasts fn to every live worker's data and waits for all results,
// bypassing the free/taken port discipline (spec: "map(fn) -> [T; N]"). If
// any invocation errors, Map returns that error and the rest are still
// awaited via errgroup's first-error cancellation of ctx.
func Map[T, R any](ctx context.Context, p *Pool[T], fn func(ctx context.Context, workerIdx int, data T) (R, error)) ([]R, error) {
	data := p.snapshotData()
	idxs := sortedIdxs(data)

	results := make([]R, len(idxs))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range idxs {
		i, idx := i, idx
		g.Go(func() error {
			r, err := fn(gctx, idx, data[idx])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type futureResult[R any] struct {
	val R
	err error
}

// Future is one outstanding result from MapAsync.
type Future[R any] struct {
	ch chan futureResult[R]
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// MapAsync broadcasts fn to every live worker's data, returning a Future
// per worker that resolves independently (spec: "map_async(fn) ->
// [Future<T>; N]").
func MapAsync[T, R any](ctx context.Context, p *Pool[T], fn func(ctx context.Context, workerIdx int, data T) (R, error)) []*Future[R] {
	data := p.snapshotData()
	idxs := sortedIdxs(data)

	futures := make([]*Future[R], len(idxs))
	for i, idx := range idxs {
		f := &Future[R]{ch: make(chan futureResult[R], 1)}
		futures[i] = f
		go func(idx int) {
			r, err := fn(ctx, idx, data[idx])
			f.ch <- futureResult[R]{val: r, err: err}
		}(idx)
	}
	return futures
}
