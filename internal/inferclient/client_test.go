package inferclient

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/tensor"
)

type fixedModel struct {
	meta model.Metadata
	row  []float64
}

func (m *fixedModel) Metadata() model.Metadata { return m.meta }
func (m *fixedModel) PredictOnBatch(_ context.Context, in tensor.StackedInputs) (model.BatchResult, error) {
	scalar := make([]float64, 0, in.Batch*m.meta.ActionCount)
	for i := 0; i < in.Batch; i++ {
		scalar = append(scalar, m.row...)
	}
	return model.BatchResult{Scalar: scalar}, nil
}
func (m *fixedModel) Update(context.Context, model.TrainingBatch, model.TrainConfig) (float64, error) {
	return 0, nil
}
func (m *fixedModel) Close() error { return nil }

func testMeta() model.Metadata {
	return model.Metadata{InputShapes: []tensor.Shape{{3}}, ActionCount: 2}
}

func TestLocalPredict(t *testing.T) {
	t.Parallel()
	m := &fixedModel{meta: testMeta(), row: []float64{0.5, -0.5}}
	c := NewLocal(m, Bounds{Min: -1, Max: 1})

	out, err := c.Predict(context.Background(), tensor.EncodedState{{0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Output{0.5, -0.5}, out)
}

func TestLocalPredictRejectsOutOfRangeValue(t *testing.T) {
	t.Parallel()
	m := &fixedModel{meta: testMeta(), row: []float64{5, -5}}
	c := NewLocal(m, Bounds{Min: -1, Max: 1})

	_, err := c.Predict(context.Background(), tensor.EncodedState{{0, 0, 0}})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.Value, kind)
}

func TestLocalPredictRejectsBadInput(t *testing.T) {
	t.Parallel()
	m := &fixedModel{meta: testMeta(), row: []float64{0, 0}}
	c := NewLocal(m, Bounds{Min: -1, Max: 1})

	_, err := c.Predict(context.Background(), tensor.EncodedState{{2, 0, 0}})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.Value, kind)
}

func TestRemoteEnginePredict(t *testing.T) {
	t.Parallel()
	m := &fixedModel{meta: testMeta(), row: []float64{0.25, 0.75}}
	eng := inference.New("p", m, inference.Config{MaxBatchSize: 1, MaxWait: time.Second}, zerolog.Nop(), metrics.NewRoot(zerolog.Nop()))
	c := NewRemoteEngine(eng, Bounds{Min: 0, Max: 1})

	out, err := c.Predict(context.Background(), tensor.EncodedState{{0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Output{0.25, 0.75}, out)
}
