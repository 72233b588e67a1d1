package inferclient

import (
	"context"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/tensor"
)

// Local is the Local InferenceClient variant: it calls a model.Model directly with a batch of one,
// for a worker that hosts its own copy of the model rather than sharing a
// ModelRegistry profile.
type Local struct {
	m      model.Model
	meta   model.Metadata
	bounds Bounds
}

// NewLocal wraps m for direct, unbatched predict calls.
func NewLocal(m model.Model, bounds Bounds) *Local {
	return &Local{m: m, meta: m.Metadata(), bounds: bounds}
}

func (c *Local) Predict(ctx context.Context, state tensor.EncodedState) (tensor.Output, error) {
	if err := validateInput(state, c.meta.InputShapes); err != nil {
		return nil, err
	}

	stacked, err := tensor.Stack([]tensor.EncodedState{state}, c.meta.InputShapes)
	if err != nil {
		return nil, errs.New(errs.Shape, "inferclient.local.predict", err)
	}

	result, err := c.m.PredictOnBatch(ctx, stacked)
	if err != nil {
		return nil, errs.New(errs.ModelError, "inferclient.local.predict", err)
	}

	rows, err := result.ToOutputs(c.meta, 1)
	if err != nil {
		return nil, errs.New(errs.Shape, "inferclient.local.predict", err)
	}
	out := rows[0]

	if err := validateOutput(out, c.bounds); err != nil {
		return nil, err
	}
	return out, nil
}
