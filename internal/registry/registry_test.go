package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/tensor"
)

// oneHotModel always returns a one-hot vector at a configurable index,
// mutable under a lock to simulate weight swaps.
type oneHotModel struct {
	meta model.Metadata

	mu  sync.Mutex
	hot int
}

func (m *oneHotModel) Metadata() model.Metadata { return m.meta }

func (m *oneHotModel) PredictOnBatch(_ context.Context, in tensor.StackedInputs) (model.BatchResult, error) {
	m.mu.Lock()
	hot := m.hot
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond) // widen the race window for the swap test
	scalar := make([]float64, in.Batch*m.meta.ActionCount)
	for b := 0; b < in.Batch; b++ {
		scalar[b*m.meta.ActionCount+hot] = 1
	}
	return model.BatchResult{Scalar: scalar}, nil
}

func (m *oneHotModel) Update(context.Context, model.TrainingBatch, model.TrainConfig) (float64, error) {
	return 0, nil
}
func (m *oneHotModel) Close() error { return nil }

func testMeta() model.Metadata {
	return model.Metadata{Name: "main", InputShapes: []tensor.Shape{{4}}, ActionCount: 2}
}

func TestLoadDuplicateNameFails(t *testing.T) {
	t.Parallel()
	r := New(zerolog.Nop(), metrics.NewRoot(zerolog.Nop()))
	loadFn := func(model.Snapshot) (model.Model, error) { return &oneHotModel{meta: testMeta()}, nil }

	require.NoError(t, r.Load("main", model.Snapshot{}, loadFn))
	require.Error(t, r.Load("main", model.Snapshot{}, loadFn))
}

func TestConfigureSubscribePredict(t *testing.T) {
	t.Parallel()
	r := New(zerolog.Nop(), metrics.NewRoot(zerolog.Nop()))
	require.NoError(t, r.Load("main", model.Snapshot{}, func(model.Snapshot) (model.Model, error) {
		return &oneHotModel{meta: testMeta()}, nil
	}))
	require.NoError(t, r.Configure("main", "rollout", inference.Config{MaxBatchSize: 1, MaxWait: time.Second}))

	eng, err := r.Subscribe("main", "rollout")
	require.NoError(t, err)

	out, err := eng.Submit(context.Background(), tensor.EncodedState{make(tensor.Vector, 4)})
	require.NoError(t, err)
	assert.Equal(t, tensor.Output{1, 0}, out)
}

func TestWeightSwapDuringTraffic(t *testing.T) {
	t.Parallel()
	r := New(zerolog.Nop(), metrics.NewRoot(zerolog.Nop()))
	require.NoError(t, r.Load("main", model.Snapshot{}, func(model.Snapshot) (model.Model, error) {
		return &oneHotModel{meta: testMeta(), hot: 0}, nil
	}))
	require.NoError(t, r.Configure("main", "rollout", inference.Config{MaxBatchSize: 1, MaxWait: time.Millisecond}))
	eng, err := r.Subscribe("main", "rollout")
	require.NoError(t, err)

	var wg sync.WaitGroup
	outs := make([]tensor.Output, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := eng.Submit(context.Background(), tensor.EncodedState{make(tensor.Vector, 4)})
			require.NoError(t, err)
			outs[i] = out
		}(i)
	}

	time.Sleep(2 * time.Millisecond) // let some submits land before the swap
	require.NoError(t, r.SwapWeights("main", model.Snapshot{}, func(current model.Model, _ model.Snapshot) (model.Model, error) {
		m := current.(*oneHotModel)
		m.mu.Lock()
		m.hot = 1
		m.mu.Unlock()
		return m, nil
	}))

	wg.Wait()

	// Every output must be a clean one-hot vector for index 0 or index 1,
	// never a mixture, regardless of which side of the swap it landed on.
	for _, out := range outs {
		require.Len(t, out, 2)
		sum := out[0] + out[1]
		assert.Equal(t, float32(1), sum)
	}
}
