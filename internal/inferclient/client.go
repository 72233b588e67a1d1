// Package inferclient implements InferenceClient: a uniform
// predict(state) -> Output capability an Agent uses without caring whether
// the model lives in the same process (Local) or is reached through a
// message port (Remote). Both variants share identical validation; they
// differ only in how they get from inputs to a raw Output.
package inferclient

import (
	"context"
	"math"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/tensor"
)

// Client is the InferenceClient contract, identical across variants.
type Client interface {
	Predict(ctx context.Context, state tensor.EncodedState) (tensor.Output, error)
}

// Bounds configures the stricter of the two output-validation variants:
// every output is required to be finite and fall inside [Min, Max] when
// interpreted as a value.
type Bounds struct {
	Min float32
	Max float32
}

// UnboundedValues skips the range half of output validation (finiteness is
// still always enforced) for models whose output isn't a bounded value.
func UnboundedValues() Bounds {
	return Bounds{Min: float32(math.Inf(-1)), Max: float32(math.Inf(1))}
}

// validateInput applies the shared input validation every variant requires:
// shape and range on the way in. validateOutput below covers finiteness and
// value range on the way out.
func validateInput(state tensor.EncodedState, shapes []tensor.Shape) error {
	if err := state.ValidateAgainst(shapes); err != nil {
		return errs.New(errs.Shape, "inferclient.predict", err)
	}
	if err := state.ValidateInputRange(); err != nil {
		return errs.New(errs.Value, "inferclient.predict", err)
	}
	return nil
}

func validateOutput(out tensor.Output, bounds Bounds) error {
	if err := out.ValidateFinite(); err != nil {
		return errs.New(errs.Value, "inferclient.predict", err)
	}
	if err := out.ValidateValueRange(bounds.Min, bounds.Max); err != nil {
		return errs.New(errs.Value, "inferclient.predict", err)
	}
	return nil
}
