// Package gamepool implements GamePool: a thread pool of
// GameWorkers with an add(args) -> GameResult entry point and a streaming
// collect_experience() channel, built atop internal/worker.Pool. Grounded
// on internal/server/pool.go's BotPool again, this time for its
// pool-of-workers-plus-streaming-results shape.
package gamepool

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/gameworker"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/worker"
)

// Registrar is the subset of ModelRegistry GamePool forwards
// register_model_port/load_local_model onto. Every worker
// already shares one ModelRegistry (see DESIGN.md), so these calls need no
// true per-worker broadcast: configuring the shared registry once is
// equivalent.
type Registrar interface {
	Configure(name, profileName string, cfg inference.Config) error
	Load(name string, snap model.Snapshot, loadFn func(model.Snapshot) (model.Model, error)) error
}

// Pool schedules GameConfigs over a bounded set of GameWorkers.
type Pool struct {
	registrar Registrar
	wp        *worker.Pool[*gameworker.Worker]
	expCh     chan experience.TrainingExample

	logger zerolog.Logger
	scope  *metrics.Scope
}

// New builds and starts a Pool of nThreads workers, each offering
// parallelismPerThread logical ports. gw is shared across every worker generation:
// it is stateless per-game, so there is nothing worker-local to build
// per DataFunc call.
func New(nThreads, parallelismPerThread int, registrar Registrar, gw *gameworker.Worker, logger zerolog.Logger, scope *metrics.Scope) *Pool {
	logger = logger.With().Str("component", "game_pool").Logger()

	dataFn := func(context.Context, int) (*gameworker.Worker, error) {
		return gw, nil
	}
	entryFn := func(ctx context.Context, _ int, _ *gameworker.Worker) error {
		<-ctx.Done()
		return nil
	}

	wp := worker.New(nThreads, parallelismPerThread, dataFn, entryFn, logger, scope.Child("worker_pool"))
	wp.Start()

	return &Pool{
		registrar: registrar,
		wp:        wp,
		expCh:     make(chan experience.TrainingExample, nThreads*parallelismPerThread),
		logger:    logger,
		scope:     scope,
	}
}

// RegisterModelPort attaches a remote-model inference profile so games can
// subscribe to it by name.
func (p *Pool) RegisterModelPort(name, profileName string, cfg inference.Config) error {
	return p.registrar.Configure(name, profileName, cfg)
}

// LoadLocalModel loads a named model from a snapshot.
func (p *Pool) LoadLocalModel(name string, snap model.Snapshot, loadFn func(model.Snapshot) (model.Model, error)) error {
	return p.registrar.Load(name, snap, loadFn)
}

// Add takes a free port, plays the game, and releases the port. Any error
// is wrapped into GameResult.Err rather than propagated, except
// for a failure to even obtain a port (pool closed/terminated/ctx
// canceled), which is reported the same way for a uniform caller contract.
func (p *Pool) Add(ctx context.Context, cfg gameworker.GameConfig) gameworker.GameResult {
	names := [2]string{cfg.Agents[0].Name, cfg.Agents[1].Name}

	port, err := p.wp.TakePort(ctx)
	if err != nil {
		return gameworker.GameResult{ID: cfg.ID, Agents: names, Err: err}
	}
	defer p.wp.GivePort(port)

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-port.Crashed():
			cancel()
		case <-playCtx.Done():
		}
	}()

	if cfg.ExperienceConfig != nil && cfg.ExperienceConfig.Sink == nil {
		ec := *cfg.ExperienceConfig
		ec.Sink = p.expCh
		cfg.ExperienceConfig = &ec
	}

	result := port.Handle.Play(playCtx, cfg)
	if result.Err != nil {
		select {
		case <-port.Crashed():
			result.Err = port.CrashErr()
		default:
		}
	}
	return result
}

// CollectExperience returns the channel TrainingExamples from every game
// run through this pool are streamed onto, until Close drains and closes it
//.
func (p *Pool) CollectExperience() <-chan experience.TrainingExample {
	return p.expCh
}

// Stats reports the underlying worker pool's health.
func (p *Pool) Stats() worker.Stats {
	return p.wp.Stats()
}

// Close drains in-flight games, then stops every worker and closes the
// experience channel.
func (p *Pool) Close() {
	p.wp.Close()
	close(p.expCh)
}

// Terminate stops every worker immediately, failing any in-flight Add call
// with errs.Terminated. The experience channel is left open: Add calls
// already past port acquisition may still be writing to it, and the channel
// only closes when the pool is closed normally, not terminated.
func (p *Pool) Terminate() {
	p.wp.Terminate()
}
