// Command alphatrain drives one self-play training run end to end: load a
// config, register models and inference profiles, roll out games against a
// fixed opponent mix, train on the resulting experience, evaluate, and
// repeat for the configured number of iterations. Grounded on
// cmd/spawner/main.go's kong-parsed flags, zerolog console setup, and
// signal.Notify-driven graceful shutdown, generalized from "spawn bots
// against an embedded server" to "drive EpisodeDriver iterations against a
// GamePool".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	charmlog "github.com/charmbracelet/log"
	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/config"
	"github.com/lox/alphatrain/internal/episode"
	"github.com/lox/alphatrain/internal/gamepool"
	"github.com/lox/alphatrain/internal/gameworker"
	"github.com/lox/alphatrain/internal/inferclient"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/monitor"
	"github.com/lox/alphatrain/internal/pokersim"
	"github.com/lox/alphatrain/internal/registry"
	"github.com/lox/alphatrain/internal/tensor"
	"github.com/lox/alphatrain/internal/trainer"
	"github.com/lox/alphatrain/internal/trainerproc"
)

var cli struct {
	Config string `kong:"default='alphatrain.hcl',help='Path to the training config file'"`

	Threads     int `kong:"default='4',help='GamePool worker threads'"`
	Parallelism int `kong:"default='4',help='Games run per worker thread at once'"`

	LearnerModel   string  `kong:"default='main',help='Name of the model the learner plays as'"`
	LearnerProfile string  `kong:"default='default',help='Inference profile the learner subscribes to'"`
	LearningRate   float64 `kong:"default='0.01',help='SGD learning rate for the built-in Linear model'"`

	NoTUI    bool   `kong:"help='Disable the live dashboard, log progress instead'"`
	LogLevel string `kong:"help='Log level (debug|info|warn|error), overrides the config file'"`
}

func main() {
	kong.Parse(&cli)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alphatrain: %v\n", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.Run.LogLevel = cli.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "alphatrain: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parseLevel(cfg.Run.LogLevel)).
		With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info().Msg("shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("training run failed")
	}
}

func run(ctx context.Context, cfg *config.File, logger zerolog.Logger) error {
	scope := metrics.NewRoot(logger)
	defer scope.Close()

	reg := registry.New(logger, scope.Child("registry"))
	if err := loadModels(reg, cfg); err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	if err := configureProfiles(reg, cfg); err != nil {
		return fmt.Errorf("configure profiles: %w", err)
	}

	sim := pokersim.New()
	gw := gameworker.New(reg, sim, inferclient.Bounds{Min: -1, Max: 1}, nil, logger, scope.Child("gameworker"))
	pool := gamepool.New(cli.Threads, cli.Parallelism, reg, gw, logger, scope.Child("gamepool"))
	defer pool.Close()

	tp := trainerproc.New(cfg.Trainer.Command, cfg.Trainer.Args, nil, logger.With().Str("component", "trainer").Logger())

	learnerExploit := gameworker.ExploitSpec{
		Kind:        gameworker.ExploitModel,
		ModelName:   cli.LearnerModel,
		ProfileName: cli.LearnerProfile,
	}

	var events chan monitor.Event
	if !cli.NoTUI {
		events = make(chan monitor.Event, 64)
	}

	driver := episode.New(episode.Config{
		Pool:             pool,
		Trainer:          tp,
		Opponents:        buildOpponents(cfg),
		LearnerName:      "learner",
		LearnerExploit:   learnerExploit,
		ModelName:        cli.LearnerModel,
		TrainConfig:      trainerConfig(cfg.Trainer),
		NElements:        1,
		MaxTurns:         cfg.Run.MaxTurns,
		NumExampleFiles:  cfg.Run.NumExampleFiles,
		FreshExamplePath: freshExamplePath,
		Logger:           logger,
		Scope:            scope.Child("episode"),
	})

	runIterations := func() error {
		defer func() {
			if events != nil {
				close(events)
			}
		}()
		for i := 0; i < cfg.Run.Iterations; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := driver.RunIteration(ctx, i)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", i, err)
			}
			logIterationResult(logger, i, result)
			saveSnapshots(reg, cfg, logger)
			if events != nil {
				for name, o := range result.Eval {
					events <- monitor.Event{Iteration: i, Stage: monitor.StageEval, Opponent: name, Wins: o.Wins, Losses: o.Losses, Ties: o.Ties}
				}
				events <- monitor.Event{Iteration: i, Done: true}
			}
		}
		return nil
	}

	if events == nil {
		return runIterations()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runIterations() }()

	tuiLogger := charmlog.New(os.Stderr)
	if err := monitor.Run(tuiLogger, events); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return <-errCh
}

// loadModels registers every configured model under the Linear reference
// implementation (internal/model.Linear), since no external snapshot loader
// is wired in. A real deployment supplies its own Model and loadFn here;
// the opaque contract doesn't care which.
func loadModels(reg *registry.Registry, cfg *config.File) error {
	for _, m := range cfg.Models {
		m := m
		meta := model.Metadata{
			Name:        m.Name,
			InputShapes: []tensor.Shape{tensor.Shape(m.InputShape)},
			ActionCount: m.ActionCount,
		}
		loadFn := func(model.Snapshot) (model.Model, error) {
			if m.SnapshotPath != "" {
				if lm, err := model.LoadLinear(m.SnapshotPath, meta, cli.LearningRate); err == nil {
					return lm, nil
				}
			}
			return model.NewLinear(meta, cli.LearningRate), nil
		}
		if err := reg.Load(m.Name, model.Snapshot{}, loadFn); err != nil {
			return fmt.Errorf("model %q: %w", m.Name, err)
		}
	}
	return nil
}

// saveSnapshots persists every model configured with a SnapshotPath, for
// models whose registered implementation supports it (only Linear does;
// any other Model just isn't snapshotted by this loop).
func saveSnapshots(reg *registry.Registry, cfg *config.File, logger zerolog.Logger) {
	for _, m := range cfg.Models {
		if m.SnapshotPath == "" {
			continue
		}
		mdl, err := reg.Model(m.Name)
		if err != nil {
			continue
		}
		lm, ok := mdl.(*model.Linear)
		if !ok {
			continue
		}
		if err := lm.Save(m.SnapshotPath); err != nil {
			logger.Warn().Err(err).Str("model", m.Name).Msg("save snapshot failed")
		}
	}
}

func configureProfiles(reg *registry.Registry, cfg *config.File) error {
	for _, p := range cfg.Profiles {
		infCfg := inference.Config{
			MaxBatchSize: p.MaxBatchSize,
			MaxWait:      time.Duration(p.MaxWaitMillis) * time.Millisecond,
		}
		if err := reg.Configure(p.Model, p.Name, infCfg); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}

func buildOpponents(cfg *config.File) []episode.Opponent {
	opponents := make([]episode.Opponent, 0, len(cfg.Opponents))
	for _, o := range cfg.Opponents {
		spec := gameworker.ExploitSpec{RandomSeed: o.RandomSeed, MoveOnly: o.MoveOnly}
		switch o.Kind {
		case "model":
			spec.Kind = gameworker.ExploitModel
			spec.ModelName = o.Model
			spec.ProfileName = o.Profile
		case "random":
			spec.Kind = gameworker.ExploitRandom
		}
		opponents = append(opponents, episode.Opponent{Name: o.Name, Exploit: spec, NumGames: o.NumGames})
	}
	return opponents
}

func trainerConfig(t config.TrainerBlock) trainer.Config {
	return trainer.Config{
		Epochs:               t.Epochs,
		BatchSize:            t.BatchSize,
		OptimizerHyperparams: t.OptimizerParams,
		AlgorithmVariant:     t.AlgorithmVariant,
		Seed:                 t.Seed,
	}
}

// freshExamplePath hands episode.Driver a unique temp file path per call;
// os.CreateTemp's pattern-expansion guarantees uniqueness even when called
// repeatedly with the same iteration number.
func freshExamplePath(iteration int) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("alphatrain-iter%d-*.bin", iteration))
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return path, nil
}

func logIterationResult(logger zerolog.Logger, iteration int, result episode.IterationResult) {
	for name, o := range result.Eval {
		logger.Info().Int("iteration", iteration).Str("opponent", name).
			Int("wins", o.Wins).Int("losses", o.Losses).Int("ties", o.Ties).
			Msg("iteration eval result")
	}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
