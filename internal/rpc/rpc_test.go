package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/protocol"
)

func echoHandler(req protocol.Message, r Responder) protocol.Message {
	reply, err := protocol.Reply(req, true, req.Data)
	if err != nil {
		return protocol.ReplyError(req, "protocol_error", "rpc.echo", err)
	}
	return reply
}

func streamingHandler(req protocol.Message, r Responder) protocol.Message {
	for i := 0; i < 3; i++ {
		progress, _ := protocol.Reply(req, false, map[string]int{"i": i})
		_ = r.Send(progress)
	}
	final, _ := protocol.Reply(req, true, map[string]int{"i": 3})
	return final
}

func startTestServer(t *testing.T, handler Handler) string {
	t.Helper()
	srv := NewServer(handler, zerolog.Nop())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "http" + strings.TrimPrefix(ts.URL, "http")
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()
	url := startTestServer(t, echoHandler)

	client, err := Dial(context.Background(), url, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Call(context.Background(), protocol.TypePredict, map[string]string{"hello": "world"}, nil)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, protocol.Decode(reply, &out))
	assert.Equal(t, "world", out["hello"])
}

func TestCallDeliversProgressBeforeTerminal(t *testing.T) {
	t.Parallel()
	url := startTestServer(t, streamingHandler)

	client, err := Dial(context.Background(), url, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	var seen []int
	reply, err := client.Call(context.Background(), protocol.TypeTrain, nil, func(msg protocol.Message) {
		var p struct {
			I int `json:"i"`
		}
		_ = json.Unmarshal(msg.Data, &p)
		seen = append(seen, p.I)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)

	var final struct {
		I int `json:"i"`
	}
	require.NoError(t, protocol.Decode(reply, &final))
	assert.Equal(t, 3, final.I)
}

func TestCallContextCancelReturnsErr(t *testing.T) {
	t.Parallel()
	// handler that never replies
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	url := startTestServer(t, func(req protocol.Message, r Responder) protocol.Message {
		<-blocked
		reply, _ := protocol.Reply(req, true, nil)
		return reply
	})

	client, err := Dial(context.Background(), url, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Call(ctx, protocol.TypePredict, nil, nil)
	require.Error(t, err)
}
