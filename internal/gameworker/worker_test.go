package gameworker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/inferclient"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
	"github.com/lox/alphatrain/internal/tensor"
)

type stubModel struct {
	meta model.Metadata
}

func (m *stubModel) Metadata() model.Metadata { return m.meta }
func (m *stubModel) PredictOnBatch(_ context.Context, in tensor.StackedInputs) (model.BatchResult, error) {
	scalar := make([]float64, in.Batch*m.meta.ActionCount)
	for i := range scalar {
		scalar[i] = 0.5
	}
	return model.BatchResult{Scalar: scalar}, nil
}
func (m *stubModel) Update(context.Context, model.TrainingBatch, model.TrainConfig) (float64, error) {
	return 0, nil
}
func (m *stubModel) Close() error { return nil }

type stubModelSource struct {
	engines map[string]*inference.Engine
}

func (s *stubModelSource) Subscribe(modelName, profileName string) (*inference.Engine, error) {
	eng, ok := s.engines[modelName+"/"+profileName]
	if !ok {
		return nil, fmt.Errorf("no engine registered for %s/%s", modelName, profileName)
	}
	return eng, nil
}

type fakeSimulator struct {
	result SimResult
	err    error

	gotDeciders [2]agent.Decider
}

func (f *fakeSimulator) Simulate(ctx context.Context, deciders [2]agent.Decider, opts SimOptions) (SimResult, error) {
	f.gotDeciders = deciders
	if f.err != nil {
		return SimResult{}, f.err
	}
	// Exercise every decider once, as the real simulator would at the
	// first decision point.
	for _, d := range deciders {
		choices := []agent.Choice{0, 1}
		if err := d.Decide(ctx, tensor.EncodedState{{0, 0}}, choices, nil); err != nil {
			return SimResult{}, err
		}
	}
	return f.result, nil
}

func testMetadata() model.Metadata {
	return model.Metadata{InputShapes: []tensor.Shape{{2}}, ActionCount: 2}
}

func testScope() *metrics.Scope { return metrics.NewRoot(zerolog.Nop()) }

func TestPlaySubscribesModelAgentAndReportsWinner(t *testing.T) {
	t.Parallel()
	eng := inference.New("default", &stubModel{meta: testMetadata()}, inference.Config{MaxBatchSize: 4, MaxWait: time.Second}, zerolog.Nop(), testScope())
	defer eng.Close()

	source := &stubModelSource{engines: map[string]*inference.Engine{"m/default": eng}}
	sim := &fakeSimulator{result: SimResult{Winner: intPtr(0)}}
	w := New(source, sim, inferclient.Bounds{Min: -1, Max: 1}, nil, zerolog.Nop(), testScope())

	cfg := GameConfig{
		ID: "g1",
		Agents: [2]AgentConfig{
			{Name: "p1", Exploit: ExploitSpec{Kind: ExploitModel, ModelName: "m", ProfileName: "default"}},
			{Name: "p2", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 1}},
		},
	}

	result := w.Play(context.Background(), cfg)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Winner)
	assert.Equal(t, 0, *result.Winner)
	assert.Equal(t, [2]string{"p1", "p2"}, result.Agents)
}

func TestPlayWrapsSimulatorErrorIntoResult(t *testing.T) {
	t.Parallel()
	source := &stubModelSource{}
	sim := &fakeSimulator{err: fmt.Errorf("boom")}
	w := New(source, sim, inferclient.Bounds{Min: -1, Max: 1}, nil, zerolog.Nop(), testScope())

	cfg := GameConfig{
		ID: "g2",
		Agents: [2]AgentConfig{
			{Name: "p1", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 1}},
			{Name: "p2", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 2}},
		},
	}

	result := w.Play(context.Background(), cfg)
	require.Error(t, result.Err)
	kind, ok := errs.KindOf(result.Err)
	require.True(t, ok)
	assert.Equal(t, errs.SimError, kind)
}

func TestPlayMissingExperienceConfigErrors(t *testing.T) {
	t.Parallel()
	source := &stubModelSource{}
	sim := &fakeSimulator{result: SimResult{}}
	w := New(source, sim, inferclient.Bounds{Min: -1, Max: 1}, nil, zerolog.Nop(), testScope())

	cfg := GameConfig{
		ID: "g3",
		Agents: [2]AgentConfig{
			{Name: "p1", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 1}, EmitExperience: true},
			{Name: "p2", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 2}},
		},
	}

	result := w.Play(context.Background(), cfg)
	require.Error(t, result.Err)
}

func TestPlayFinalizesExperienceForEmittingAgent(t *testing.T) {
	t.Parallel()
	source := &stubModelSource{}
	sink := make(chan experience.TrainingExample, 4)
	sim := &fakeSimulator{result: SimResult{
		Winner: intPtr(1),
		Final: [2]FinalStep{
			{State: tensor.EncodedState{{1, 1}}, Action: 0, Reward: 1},
			{State: tensor.EncodedState{{2, 2}}, Action: 1, Reward: -1},
		},
	}}
	w := New(source, sim, inferclient.Bounds{Min: -1, Max: 1}, nil, zerolog.Nop(), testScope())

	cfg := GameConfig{
		ID: "g4",
		Agents: [2]AgentConfig{
			{Name: "p1", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 1}, EmitExperience: true},
			{Name: "p2", Exploit: ExploitSpec{Kind: ExploitRandom, RandomSeed: 2}},
		},
		ExperienceConfig: &ExperienceConfig{NElements: 1, Sink: sink},
	}

	result := w.Play(context.Background(), cfg)
	require.NoError(t, result.Err)
	require.Len(t, sink, 1)
	ex := <-sink
	assert.True(t, ex.Terminal)
	assert.True(t, ex.NextState.IsZero())
	assert.Equal(t, float32(1), ex.Reward)
}

func intPtr(i int) *int { return &i }
