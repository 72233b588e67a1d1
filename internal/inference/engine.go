// Package inference implements the per-model batching server:
// BatchPredictProfile's admission and batching algorithm, turning a stream
// of single-state predict requests into Model.PredictOnBatch calls under a
// (size, latency) contract.
//
// The engine has exactly two batch slots: current, which accumulates
// admissions (created empty, grown by admission, sealed at execution,
// discarded after all sinks are resolved), and an in-flight execution. At
// most one execution runs at a time; a full current batch waits for the
// in-flight one to finish before it is sealed and started, and new
// arrivals suspend rather than open a third slot.
package inference

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/tensor"
)

// Config is a BatchPredictProfile's per-model configuration.
type Config struct {
	MaxBatchSize int
	MaxWait      time.Duration
}

type request struct {
	inputs   tensor.EncodedState
	resultCh chan submitResult
	arrival  time.Time
}

type submitResult struct {
	out tensor.Output
	err error
}

type pendingBatch struct {
	requests []request
}

// Engine is one BatchPredictProfile bound to a single named model.
type Engine struct {
	profileName string
	modelMu     sync.RWMutex // guards m across SwapWeights vs. execute
	m           model.Model
	meta        model.Metadata
	cfg         Config
	clock       quartz.Clock
	logger      zerolog.Logger
	scope       *metrics.Scope

	mu         sync.Mutex
	cond       *sync.Cond
	current    *pendingBatch
	executing  bool
	timer      *quartz.Timer
	closed     bool
	terminated bool
	drainWG    sync.WaitGroup
}

// New constructs an Engine for model m under profileName, using a real
// clock. Use NewWithClock to inject a quartz.Mock for deterministic tests
// of the max_wait timer.
func New(profileName string, m model.Model, cfg Config, logger zerolog.Logger, scope *metrics.Scope) *Engine {
	return NewWithClock(profileName, m, cfg, logger, scope, quartz.NewReal())
}

func NewWithClock(profileName string, m model.Model, cfg Config, logger zerolog.Logger, scope *metrics.Scope, clock quartz.Clock) *Engine {
	e := &Engine{
		profileName: profileName,
		m:           m,
		meta:        m.Metadata(),
		cfg:         cfg,
		clock:       clock,
		logger:      logger.With().Str("component", "inference_engine").Str("profile", profileName).Logger(),
		scope:       scope,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Submit admits one predict request and blocks until it is resolved or ctx
// is done.
func (e *Engine) Submit(ctx context.Context, inputs tensor.EncodedState) (tensor.Output, error) {
	if err := inputs.ValidateAgainst(e.meta.InputShapes); err != nil {
		return nil, errs.New(errs.Shape, "inference.submit", err)
	}
	if err := inputs.ValidateInputRange(); err != nil {
		return nil, errs.New(errs.Value, "inference.submit", err)
	}

	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return nil, errs.Of(errs.Terminated)
	}
	if e.closed {
		e.mu.Unlock()
		return nil, errs.Of(errs.Overloaded)
	}

	for e.current != nil && len(e.current.requests) >= e.cfg.MaxBatchSize && e.executing {
		e.cond.Wait()
		if e.terminated {
			e.mu.Unlock()
			return nil, errs.Of(errs.Terminated)
		}
	}

	if e.current == nil {
		e.current = &pendingBatch{}
	}

	req := request{inputs: inputs, resultCh: make(chan submitResult, 1), arrival: e.clock.Now()}
	e.current.requests = append(e.current.requests, req)
	queueLen := len(e.current.requests)

	var toRun *pendingBatch
	if queueLen == e.cfg.MaxBatchSize {
		e.stopTimerLocked()
		if !e.executing {
			toRun = e.current
			e.current = nil
			e.executing = true
		}
	} else if e.timer == nil {
		e.armTimerLocked()
	}
	e.mu.Unlock()

	if toRun != nil {
		e.runBatch(toRun)
	}

	select {
	case res := <-req.resultCh:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) armTimerLocked() {
	e.drainWG.Add(1)
	e.timer = e.clock.AfterFunc(e.cfg.MaxWait, func() {
		defer e.drainWG.Done()
		e.onTimerFire()
	})
}

// stopTimerLocked cancels a pending timer. If Stop reports the timer was
// stopped before firing, its AfterFunc callback will never run, so its
// drainWG count is compensated here; if Stop reports it already fired (or
// is running), the callback's own deferred Done balances it instead.
func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		if e.timer.Stop() {
			e.drainWG.Done()
		}
		e.timer = nil
	}
}

func (e *Engine) onTimerFire() {
	e.mu.Lock()
	e.timer = nil
	// Boundary case: timer expiry with an empty batch is a no-op.
	if e.current == nil || len(e.current.requests) == 0 {
		e.mu.Unlock()
		return
	}
	if e.executing {
		// A full batch is already executing; this batch stays current and
		// will be picked up by afterExecute once that finishes.
		e.mu.Unlock()
		return
	}
	toRun := e.current
	e.current = nil
	e.executing = true
	e.mu.Unlock()

	e.runBatch(toRun)
}

// runBatch executes one sealed batch asynchronously.
func (e *Engine) runBatch(b *pendingBatch) {
	e.drainWG.Add(1)
	go func() {
		defer e.drainWG.Done()
		e.execute(b)
		e.afterExecute()
	}()
}

func (e *Engine) execute(b *pendingBatch) {
	stopTimer := e.scope.StartTimer("batch_latency_seconds")
	defer stopTimer()
	e.scope.Histogram("batch_size").Record(float64(len(b.requests)))

	now := e.clock.Now()
	for _, r := range b.requests {
		e.scope.Histogram("queue_latency_seconds").Record(now.Sub(r.arrival).Seconds())
	}

	states := make([]tensor.EncodedState, len(b.requests))
	for i, r := range b.requests {
		states[i] = r.inputs
	}

	stacked, err := tensor.Stack(states, e.meta.InputShapes)
	if err != nil {
		e.dispatchError(b, errs.New(errs.Shape, "inference.execute", err))
		return
	}

	e.modelMu.RLock()
	result, err := e.m.PredictOnBatch(context.Background(), stacked)
	e.modelMu.RUnlock()
	if err != nil {
		e.dispatchError(b, errs.New(errs.ModelError, "inference.execute", err))
		return
	}

	outputs, err := e.toOutputs(result, len(b.requests))
	if err != nil {
		e.dispatchError(b, errs.New(errs.Shape, "inference.execute", err))
		return
	}

	e.mu.Lock()
	terminated := e.terminated
	e.mu.Unlock()

	for i, r := range b.requests {
		if terminated {
			r.resultCh <- submitResult{err: errs.Of(errs.Terminated)}
			continue
		}
		if err := outputs[i].ValidateFinite(); err != nil {
			r.resultCh <- submitResult{err: errs.New(errs.Value, "inference.execute", err)}
			continue
		}
		r.resultCh <- submitResult{out: outputs[i]}
	}
}

func (e *Engine) toOutputs(result model.BatchResult, batch int) ([]tensor.Output, error) {
	return result.ToOutputs(e.meta, batch)
}

func (e *Engine) dispatchError(b *pendingBatch, err error) {
	for _, r := range b.requests {
		r.resultCh <- submitResult{err: err}
	}
}

// afterExecute runs after one execution finishes: it seals and starts the
// current batch if it filled while the prior batch was in flight, or if it
// is non-empty with no timer armed (its timer fired, or Close stopped it,
// during that execution), and wakes any Submit calls that were suspended on
// backpressure.
func (e *Engine) afterExecute() {
	e.mu.Lock()
	e.executing = false

	var toRun *pendingBatch
	if e.current != nil && (len(e.current.requests) == e.cfg.MaxBatchSize ||
		(len(e.current.requests) > 0 && e.timer == nil)) {
		toRun = e.current
		e.current = nil
		e.executing = true
		e.stopTimerLocked()
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	if toRun != nil {
		e.runBatch(toRun)
	}
}

// Close drains the current batch (executing it even if not full) and waits
// for any in-flight execution to finish, then rejects further submits with
// Overloaded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTimerLocked()

	var toRun *pendingBatch
	if e.current != nil && len(e.current.requests) > 0 && !e.executing {
		toRun = e.current
		e.current = nil
		e.executing = true
	}
	e.mu.Unlock()

	if toRun != nil {
		e.runBatch(toRun)
	}
	e.drainWG.Wait()
	e.scope.Close()
}

// SwapWeights replaces the model instance this engine calls, blocking until
// any batch currently executing has finished first. Any batch whose
// execute() has not yet acquired modelMu.RLock when this call acquires the
// write lock observes newModel; any batch already mid-call finishes against
// the model it started with. This is the engine-local half of the "no
// batch executes during a weight swap" invariant; ModelRegistry calls it
// once per profile attached to the swapped model.
func (e *Engine) SwapWeights(newModel model.Model) {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	e.m = newModel
}

// Terminate cancels immediately: every pending sink (queued or already
// dispatched to the model) resolves with Terminated.
func (e *Engine) Terminate() {
	e.mu.Lock()
	e.terminated = true
	var toFail *pendingBatch
	if e.current != nil {
		toFail = e.current
		e.current = nil
	}
	e.stopTimerLocked()
	e.cond.Broadcast()
	e.mu.Unlock()

	if toFail != nil {
		for _, r := range toFail.requests {
			r.resultCh <- submitResult{err: errs.Of(errs.Terminated)}
		}
	}
}
