package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type predictPayload struct {
	State []float32 `json:"state"`
}

func TestRequestReplyRoundTrip(t *testing.T) {
	t.Parallel()

	gen := &IDGenerator{}
	req, err := NewRequest(gen, TypePredict, predictPayload{State: []float32{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.RID)

	var decoded predictPayload
	require.NoError(t, Decode(req, &decoded))
	assert.Equal(t, []float32{1, 2, 3}, decoded.State)

	reply, err := Reply(req, true, predictPayload{State: []float32{4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, req.RID, reply.RID)
	assert.True(t, reply.Done)
}

func TestIDGeneratorMonotonic(t *testing.T) {
	t.Parallel()
	gen := &IDGenerator{}
	a := gen.Next()
	b := gen.Next()
	assert.Less(t, a, b)
}

func TestReplyError(t *testing.T) {
	t.Parallel()
	gen := &IDGenerator{}
	req, err := NewRequest(gen, TypePredict, predictPayload{})
	require.NoError(t, err)

	errMsg := ReplyError(req, "shape", "engine.submit", assert.AnError)
	assert.Equal(t, TypeError, errMsg.Type)
	assert.True(t, errMsg.Done)
	require.NotNil(t, errMsg.Err)
	assert.Equal(t, "shape", errMsg.Err.Kind)
}
