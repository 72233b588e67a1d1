package exampleio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/tensor"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "examples.bin")

	w, err := NewWriter(path)
	require.NoError(t, err)

	want := []experience.TrainingExample{
		{
			State:     tensor.EncodedState{{1, 2, 3}},
			Choices:   []agent.Choice{0, 1},
			Action:    1,
			Reward:    0.5,
			NextState: tensor.EncodedState{{4, 5, 6}},
			Terminal:  false,
		},
		{
			State:     tensor.EncodedState{{4, 5, 6}},
			Choices:   []agent.Choice{0, 1, 2},
			Action:    2,
			Reward:    -1,
			NextState: tensor.ZeroState(1),
			Terminal:  true,
		},
	}
	for _, ex := range want {
		require.NoError(t, w.Write(ex))
	}
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadAllEmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.bin")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}
