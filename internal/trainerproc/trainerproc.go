// Package trainerproc implements Trainer by spawning an
// external process per call, the same way internal/spawner.BotSpawner
// spawns bot processes: build an env, start a child, stream its output,
// tear it down on context cancellation. Progress is decoded from NDJSON
// lines on the child's stdout; the request (model name, config, example
// paths) is written as one JSON line on its stdin.
package trainerproc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/trainer"
)

// request is the one JSON line written to the child's stdin.
type request struct {
	ModelName    string         `json:"model_name"`
	Config       trainer.Config `json:"config"`
	ExamplePaths []string       `json:"example_paths"`
}

// progressLine is one NDJSON line read from the child's stdout.
type progressLine struct {
	Kind       string  `json:"kind"`
	NumBatches int     `json:"num_batches"`
	Index      int     `json:"index"`
	Loss       float64 `json:"loss"`
	Message    string  `json:"message"`
}

// Trainer spawns command/args as a subprocess per Train call.
type Trainer struct {
	command string
	args    []string
	env     map[string]string
	logger  zerolog.Logger
}

// New builds a Trainer that spawns command with args for every Train call.
// env is merged into the child's environment alongside the parent's.
func New(command string, args []string, env map[string]string, logger zerolog.Logger) *Trainer {
	return &Trainer{
		command: command,
		args:    args,
		env:     env,
		logger:  logger.With().Str("component", "trainer_process").Logger(),
	}
}

// Train implements trainer.Trainer.
func (t *Trainer) Train(ctx context.Context, modelName string, config trainer.Config, examplePaths []string, onProgress trainer.OnProgress) error {
	proc := newProcess(ctx, t.command, t.args, t.env, t.logger)

	stdin, lines, err := proc.start(func(line string) {
		t.logger.Info().Str("model", modelName).Msg(line)
	})
	if err != nil {
		return fmt.Errorf("trainerproc: %w", err)
	}

	req := request{ModelName: modelName, Config: config, ExamplePaths: examplePaths}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(req); err != nil {
		proc.stop()
		return fmt.Errorf("trainerproc: write request: %w", err)
	}
	if err := stdin.Close(); err != nil {
		proc.stop()
		return fmt.Errorf("trainerproc: close stdin: %w", err)
	}

	var trainErr error
	for raw := range lines {
		var pl progressLine
		if err := json.Unmarshal([]byte(raw), &pl); err != nil {
			t.logger.Warn().Str("line", raw).Msg("trainer emitted unparseable progress line")
			continue
		}
		switch pl.Kind {
		case "start":
			onProgress(trainer.Event{Kind: trainer.EventStart, NumBatches: pl.NumBatches})
		case "batch":
			onProgress(trainer.Event{Kind: trainer.EventBatch, Index: pl.Index, Loss: pl.Loss})
		case "epoch":
			onProgress(trainer.Event{Kind: trainer.EventEpoch, Index: pl.Index, Loss: pl.Loss})
		case "error":
			trainErr = fmt.Errorf("trainerproc: %s", pl.Message)
		case "done":
		default:
			t.logger.Warn().Str("kind", pl.Kind).Msg("unknown trainer progress kind")
		}
	}

	if err := proc.wait(); err != nil {
		if trainErr != nil {
			return trainErr
		}
		return fmt.Errorf("trainerproc: process exited: %w", err)
	}
	return trainErr
}
