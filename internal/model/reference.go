package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/alphatrain/internal/exampleio"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/fileutil"
	"github.com/lox/alphatrain/internal/tensor"
)

// Linear is a minimal built-in Model: every input tensor flattened into one
// vector, mapped to ActionCount values by a single weight matrix, trained by
// plain SGD against a one-step bootstrapped target. It exists so cmd/alphatrain
// has something concrete to load by default; it is not part of the opaque
// contract itself, just one implementation of it.
type Linear struct {
	meta Metadata
	w    *mat.Dense // ActionCount x inputDim
	lr   float64
}

// NewLinear builds a Linear model with zero-initialized weights.
func NewLinear(meta Metadata, learningRate float64) *Linear {
	inputDim := 0
	for _, s := range meta.InputShapes {
		inputDim += s.Len()
	}
	return &Linear{
		meta: meta,
		w:    mat.NewDense(meta.ActionCount, inputDim, nil),
		lr:   learningRate,
	}
}

func (m *Linear) Metadata() Metadata { return m.meta }

func (m *Linear) PredictOnBatch(_ context.Context, in tensor.StackedInputs) (BatchResult, error) {
	rows, cols := m.w.Dims()
	x := mat.NewDense(cols, in.Batch, flattenBatch(in, cols))

	var y mat.Dense
	y.Mul(m.w, x) // rows (ActionCount) x batch

	scalar := make([]float64, in.Batch*rows)
	for b := 0; b < in.Batch; b++ {
		for a := 0; a < rows; a++ {
			scalar[b*rows+a] = y.At(a, b)
		}
	}
	return BatchResult{Scalar: scalar}, nil
}

// flattenBatch lays out in's per-position buffers as one row-major
// [inputDim, Batch] matrix, position by position then element by element,
// matching the order flattenState uses for a single EncodedState.
func flattenBatch(in tensor.StackedInputs, inputDim int) []float64 {
	out := make([]float64, inputDim*in.Batch)
	row := 0
	for i, sh := range in.Shapes {
		l := sh.Len()
		for k := 0; k < l; k++ {
			for b := 0; b < in.Batch; b++ {
				out[row*in.Batch+b] = float64(in.Data[i][b*l+k])
			}
			row++
		}
	}
	return out
}

// Update performs one SGD pass over the TrainingExamples framed in
// batch.Paths, regressing each example's chosen action's value towards its
// reward plus the model's own bootstrap of the next state (a one-step TD
// target), skipping the bootstrap when the example is terminal.
func (m *Linear) Update(_ context.Context, batch TrainingBatch, _ TrainConfig) (float64, error) {
	examples, err := loadExamples(batch.Paths)
	if err != nil {
		return 0, fmt.Errorf("model.linear: update: %w", err)
	}
	if len(examples) == 0 {
		return 0, nil
	}

	rows, cols := m.w.Dims()
	var totalLoss float64
	for _, ex := range examples {
		x := flattenState(ex.State, cols)
		target := float64(ex.Reward)
		if !ex.Terminal {
			nx := flattenState(ex.NextState, cols)
			best := math.Inf(-1)
			for a := 0; a < rows; a++ {
				if v := dotRow(m.w, a, nx); v > best {
					best = v
				}
			}
			target += best
		}

		action := int(ex.Action)
		pred := dotRow(m.w, action, x)
		delta := pred - target
		totalLoss += delta * delta

		for j := 0; j < cols; j++ {
			grad := 2 * delta * x[j]
			m.w.Set(action, j, m.w.At(action, j)-m.lr*grad)
		}
	}
	return totalLoss / float64(len(examples)), nil
}

func (m *Linear) Close() error { return nil }

// linearWeights is Linear's on-disk snapshot format: its weight matrix
// dimensions and row-major values, enough to reconstruct the mat.Dense
// NewLinear started from.
type linearWeights struct {
	Rows, Cols int
	Values     []float64
}

// Save writes the model's current weights to path, atomically (spec
// GLOSSARY's Snapshot is "opaque, transportable"; this is one concrete
// encoding of it for the Linear model specifically).
func (m *Linear) Save(path string) error {
	rows, cols := m.w.Dims()
	data, err := json.Marshal(linearWeights{Rows: rows, Cols: cols, Values: m.w.RawMatrix().Data})
	if err != nil {
		return fmt.Errorf("model.linear: save: marshal: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("model.linear: save: %w", err)
	}
	return nil
}

// LoadLinear reads weights previously written by Save. meta and
// learningRate are supplied by the caller, same as NewLinear, since a
// Snapshot carries only weights, not a model's full configuration.
func LoadLinear(path string, meta Metadata, learningRate float64) (*Linear, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model.linear: load: %w", err)
	}
	var w linearWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("model.linear: load: unmarshal: %w", err)
	}
	return &Linear{
		meta: meta,
		w:    mat.NewDense(w.Rows, w.Cols, w.Values),
		lr:   learningRate,
	}, nil
}

func dotRow(w *mat.Dense, row int, x []float64) float64 {
	var sum float64
	for j, v := range x {
		sum += w.At(row, j) * v
	}
	return sum
}

// flattenState lays out one EncodedState as a flat vector in the same
// position-then-element order flattenBatch uses, zero-padding a terminal
// example's zero-shaped next_state out to inputDim.
func flattenState(s tensor.EncodedState, inputDim int) []float64 {
	out := make([]float64, 0, inputDim)
	for _, vec := range s {
		for _, v := range vec {
			out = append(out, float64(v))
		}
	}
	for len(out) < inputDim {
		out = append(out, 0)
	}
	return out[:inputDim]
}

func loadExamples(paths []string) ([]experience.TrainingExample, error) {
	var all []experience.TrainingExample
	for _, p := range paths {
		exs, err := exampleio.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		all = append(all, exs...)
	}
	return all, nil
}
