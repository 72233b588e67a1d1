// Package trainer defines the Trainer contract: an opaque,
// external training step the core drives but never interprets the
// internals of. internal/trainerproc supplies the real, subprocess-backed
// implementation; this package only fixes the interface and the progress
// event shapes every implementation must emit.
package trainer

import "context"

// Config is an enumerated record of training hyperparameters. The driver
// never interprets its contents beyond threading it through to
// Trainer.Train.
type Config struct {
	Epochs               int
	BatchSize            int
	OptimizerHyperparams map[string]float64
	AlgorithmVariant     string
	Seed                 *int64
}

// EventKind tags one of the three progress events a Trainer can emit.
type EventKind string

const (
	EventStart EventKind = "start"
	EventBatch EventKind = "batch"
	EventEpoch EventKind = "epoch"
)

// Event is one progress update from a running Train call.
type Event struct {
	Kind EventKind

	// NumBatches is set on EventStart.
	NumBatches int

	// Index is the batch or epoch index, set on EventBatch/EventEpoch.
	Index int

	// Loss is the reported loss, set on EventBatch/EventEpoch.
	Loss float64
}

// OnProgress receives one Event per progress update. Implementations of Trainer must call it synchronously, in
// order, from whatever goroutine observes the event.
type OnProgress func(Event)

// Trainer is the opaque external training contract. The core
// treats both Config and the trainer's own internals as opaque; it only
// needs a stream of progress events and a final error.
type Trainer interface {
	// Train trains modelName using the examples at examplePaths, reporting
	// progress through onProgress, and returns once training has
	// completed or failed.
	Train(ctx context.Context, modelName string, config Config, examplePaths []string, onProgress OnProgress) error
}
