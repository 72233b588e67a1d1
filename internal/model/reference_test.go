package model

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/exampleio"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/tensor"
)

func testMetadata() Metadata {
	return Metadata{Name: "main", InputShapes: []tensor.Shape{{4}}, ActionCount: 2}
}

func TestLinearPredictOnBatchShapesOutput(t *testing.T) {
	t.Parallel()
	m := NewLinear(testMetadata(), 0.01)

	states := []tensor.EncodedState{
		{tensor.Vector{0.1, 0.2, 0.3, 0.4}},
		{tensor.Vector{-0.1, -0.2, -0.3, -0.4}},
	}
	in, err := tensor.Stack(states, m.Metadata().InputShapes)
	require.NoError(t, err)

	result, err := m.PredictOnBatch(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, result.Scalar, 2*m.Metadata().ActionCount)
}

func TestLinearUpdateReducesLossOnRepeatedExamples(t *testing.T) {
	t.Parallel()
	m := NewLinear(testMetadata(), 0.05)

	path := filepath.Join(t.TempDir(), "examples.bin")
	w, err := exampleio.NewWriter(path)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, w.Write(experience.TrainingExample{
			State:     tensor.EncodedState{{0.5, 0.5, 0.5, 0.5}},
			Action:    0,
			Reward:    1,
			NextState: tensor.ZeroState(1),
			Terminal:  true,
		}))
	}
	require.NoError(t, w.Close())

	batch := TrainingBatch{Paths: []string{path}}
	firstLoss, err := m.Update(context.Background(), batch, TrainConfig{})
	require.NoError(t, err)

	var lastLoss float64
	for i := 0; i < 20; i++ {
		lastLoss, err = m.Update(context.Background(), batch, TrainConfig{})
		require.NoError(t, err)
	}
	assert.Less(t, lastLoss, firstLoss)
}

func TestLinearUpdateEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	m := NewLinear(testMetadata(), 0.05)

	path := filepath.Join(t.TempDir(), "empty.bin")
	w, err := exampleio.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	loss, err := m.Update(context.Background(), TrainingBatch{Paths: []string{path}}, TrainConfig{})
	require.NoError(t, err)
	assert.Zero(t, loss)
}
