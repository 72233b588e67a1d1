package inferclient

import (
	"context"
	"encoding/json"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/protocol"
	"github.com/lox/alphatrain/internal/rpc"
	"github.com/lox/alphatrain/internal/tensor"
)

// RemoteEngine is the Remote InferenceClient variant backed by an in-process
// InferenceEngine handle — the
// common case when a GameWorker and the ModelRegistry it subscribes to
// share a process, just not a thread.
type RemoteEngine struct {
	engine *inference.Engine
	bounds Bounds
}

// NewRemoteEngine wraps an engine handle obtained from
// Registry.Subscribe.
func NewRemoteEngine(engine *inference.Engine, bounds Bounds) *RemoteEngine {
	return &RemoteEngine{engine: engine, bounds: bounds}
}

func (c *RemoteEngine) Predict(ctx context.Context, state tensor.EncodedState) (tensor.Output, error) {
	out, err := c.engine.Submit(ctx, state)
	if err != nil {
		return nil, err
	}
	if err := validateOutput(out, c.bounds); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoteRPC is the Remote InferenceClient variant reached over a process
// boundary via internal/rpc, for a GameWorker running in a separate worker
// process from the ModelRegistry it predicts against.
type RemoteRPC struct {
	client *rpc.Client
	shapes []tensor.Shape
	bounds Bounds
}

// NewRemoteRPC wraps an rpc.Client dialed to a server that dispatches
// protocol.TypePredict requests into a ModelRegistry profile.
func NewRemoteRPC(client *rpc.Client, shapes []tensor.Shape, bounds Bounds) *RemoteRPC {
	return &RemoteRPC{client: client, shapes: shapes, bounds: bounds}
}

func (c *RemoteRPC) Predict(ctx context.Context, state tensor.EncodedState) (tensor.Output, error) {
	if err := validateInput(state, c.shapes); err != nil {
		return nil, err
	}

	payload := make([]json.RawMessage, len(state))
	for i, v := range state {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errs.New(errs.ProtocolError, "inferclient.remote_rpc.predict", err)
		}
		payload[i] = b
	}

	reply, err := c.client.Call(ctx, protocol.TypePredict, payload, nil)
	if err != nil {
		return nil, err
	}

	var out tensor.Output
	if err := protocol.Decode(reply, &out); err != nil {
		return nil, errs.New(errs.ProtocolError, "inferclient.remote_rpc.predict", err)
	}

	if err := validateOutput(out, c.bounds); err != nil {
		return nil, err
	}
	return out, nil
}
