// Package model defines the opaque Model contract:
// the core never looks inside a model's layer graph or optimizer, only at
// its declared shapes and its predict_on_batch/update entry points.
package model

import (
	"context"
	"fmt"

	"github.com/lox/alphatrain/internal/tensor"
)

// Snapshot is an opaque, transportable bundle representing a model's
// architecture and weights. The core never inspects its
// contents; it only hands it to Load/SwapWeights.
type Snapshot struct {
	// Format names the serialization the snapshot bytes use; the core
	// does not interpret it.
	Format string
	Bytes  []byte
}

// Metadata is immutable for the lifetime of a named model: input shapes,
// output length, and optional distributional-value support size.
type Metadata struct {
	Name string

	InputShapes []tensor.Shape
	ActionCount int

	// SupportSize is 0 for a scalar-Q model, or the number of atoms in a
	// distributional value head. When non-zero, Support must
	// have exactly this many entries.
	SupportSize int
	Support     []float64
}

// BatchResult is what PredictOnBatch returns for a batch of size B.
// Exactly one of Scalar or Dist is populated, matching SupportSize.
type BatchResult struct {
	// Scalar is row-major [B, ActionCount], used when SupportSize == 0.
	Scalar []float64
	// Dist is row-major [B, ActionCount, SupportSize], used when
	// SupportSize > 0; the engine reduces it via tensor.ReduceDistribution.
	Dist []float64
}

// Model is the opaque per-name model instance a ModelRegistry owns. An
// implementation wraps whatever neural-network runtime the caller chose;
// the core only ever calls the methods below.
type Model interface {
	Metadata() Metadata

	// PredictOnBatch evaluates a stacked batch and returns one result row
	// per input. Implementations must be safe to call concurrently with
	// Update only when no swap is in flight; ModelRegistry enforces this.
	PredictOnBatch(ctx context.Context, inputs tensor.StackedInputs) (BatchResult, error)

	// Update performs one optimizer step and returns the training loss.
	// The core treats config as opaque; it never interprets
	// TrainConfig's contents, only passes it through.
	Update(ctx context.Context, batch TrainingBatch, config TrainConfig) (loss float64, err error)

	// Close releases any resources held by the model (e.g. device
	// memory). Called by the registry on Unload, after every profile's
	// pending batches drain; SwapWeights does not close the replaced model.
	Close() error
}

// ToOutputs converts a BatchResult of the given batch size into per-request
// Output rows, reducing a distributional result via its fixed support
// vector. Shared
// by InferenceEngine.execute and the Local InferenceClient variant, which
// both turn one Model.PredictOnBatch call into per-request rows.
func (r BatchResult) ToOutputs(meta Metadata, batch int) ([]tensor.Output, error) {
	actionCount := meta.ActionCount
	var scalar []float64
	if meta.SupportSize > 0 {
		if len(r.Dist) != batch*actionCount*meta.SupportSize {
			return nil, fmt.Errorf("model returned %d distributional values, want %d", len(r.Dist), batch*actionCount*meta.SupportSize)
		}
		scalar = tensor.ReduceDistribution(r.Dist, batch, actionCount, meta.SupportSize, meta.Support)
	} else {
		if len(r.Scalar) != batch*actionCount {
			return nil, fmt.Errorf("model returned %d scalar values, want %d", len(r.Scalar), batch*actionCount)
		}
		scalar = r.Scalar
	}

	outputs := make([]tensor.Output, batch)
	for i := 0; i < batch; i++ {
		row := make(tensor.Output, actionCount)
		for a := 0; a < actionCount; a++ {
			row[a] = float32(scalar[i*actionCount+a])
		}
		outputs[i] = row
	}
	return outputs, nil
}

// TrainingBatch is an opaque handle to a batch of training examples handed
// to Update; the core does not interpret its contents, only threads it
// through from the Trainer.
type TrainingBatch struct {
	Paths []string
}

// TrainConfig is an enumerated record of training hyperparameters: the
// driver does not interpret its contents beyond what it needs to report
// progress.
type TrainConfig struct {
	Epochs               int
	BatchSize            int
	OptimizerHyperparams map[string]float64
	AlgorithmVariant     string
	Seed                 *int64
}
