package trainerproc

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/trainer"
)

func TestTrainStreamsProgressAndSucceeds(t *testing.T) {
	t.Parallel()
	script := `cat >/dev/null
echo '{"kind":"start","num_batches":2}'
echo '{"kind":"batch","index":0,"loss":0.5}'
echo '{"kind":"batch","index":1,"loss":0.25}'
echo '{"kind":"done"}'
`
	tr := New("sh", []string{"-c", script}, nil, zerolog.New(zerolog.NewTestWriter(t)))

	var events []trainer.Event
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := tr.Train(ctx, "main", trainer.Config{Epochs: 1}, []string{"/tmp/a.bin"}, func(ev trainer.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, trainer.EventStart, events[0].Kind)
	assert.Equal(t, 2, events[0].NumBatches)
	assert.Equal(t, trainer.EventBatch, events[1].Kind)
	assert.Equal(t, 0.5, events[1].Loss)
	assert.Equal(t, trainer.EventBatch, events[2].Kind)
	assert.Equal(t, 0.25, events[2].Loss)
}

func TestTrainPropagatesReportedError(t *testing.T) {
	t.Parallel()
	script := `cat >/dev/null
echo '{"kind":"error","message":"divergence detected"}'
`
	tr := New("sh", []string{"-c", script}, nil, zerolog.New(zerolog.NewTestWriter(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := tr.Train(ctx, "main", trainer.Config{}, nil, func(trainer.Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "divergence detected")
}

func TestTrainPropagatesNonZeroExit(t *testing.T) {
	t.Parallel()
	script := `cat >/dev/null
exit 7
`
	tr := New("sh", []string{"-c", script}, nil, zerolog.New(zerolog.NewTestWriter(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := tr.Train(ctx, "main", trainer.Config{}, nil, func(trainer.Event) {})
	require.Error(t, err)
}
