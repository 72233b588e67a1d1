// Package protocol defines the typed request/response envelope every worker
// port speaks: a type tag, a monotonically-assigned request id that
// responses echo, and a done flag distinguishing terminal replies from
// progress updates. JSON-encoded rather than msgpack: an earlier msgp-based
// variant imported a dependency absent from go.mod and didn't compile.
package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Type identifies the logical request/response kind carried by a Message.
type Type string

const (
	// GamePool worker requests.
	TypeLoadModel   Type = "load"
	TypeReload      Type = "reload"
	TypePlay        Type = "play"
	TypeCollect     Type = "collect"
	TypeCloseWorker Type = "close"

	// Trainer worker requests.
	TypeUnload    Type = "unload"
	TypeTrain     Type = "train"
	TypeConfigure Type = "configure"
	TypeSubscribe Type = "subscribe"

	// Model port request.
	TypePredict Type = "predict"

	// Reserved response type for propagated errors.
	TypeError Type = "error"
)

// Message is the envelope every worker port speaks. Responses echo the
// request's RID. Done is true for terminal replies, false for progress
// updates such as a Trainer's progress stream.
type Message struct {
	Type      Type            `json:"type"`
	RID       uint64          `json:"rid"`
	Done      bool            `json:"done"`
	Data      json.RawMessage `json:"data,omitempty"`
	Err       *WireError      `json:"err,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// WireError is the serialized form of an errs.Error carried in a Message.
type WireError struct {
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// IDGenerator hands out monotonically increasing request ids, shared by all
// ports a single client opens.
type IDGenerator struct {
	next atomic.Uint64
}

func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1)
}

// NewRequest builds a request Message with a fresh rid and marshaled data.
func NewRequest(gen *IDGenerator, typ Type, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal %s request: %w", typ, err)
	}
	return Message{
		Type:      typ,
		RID:       gen.Next(),
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// Reply builds a response Message echoing req's rid.
func Reply(req Message, done bool, data any) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: marshal reply to rid %d: %w", req.RID, err)
		}
		raw = b
	}
	return Message{
		Type:      req.Type,
		RID:       req.RID,
		Done:      done,
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// ReplyError builds a terminal error response echoing req's rid.
func ReplyError(req Message, kind, op string, cause error) Message {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Message{
		Type:      TypeError,
		RID:       req.RID,
		Done:      true,
		Err:       &WireError{Kind: kind, Op: op, Message: msg},
		Timestamp: time.Now(),
	}
}

// Decode unmarshals msg.Data into v.
func Decode(msg Message, v any) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("protocol: rid %d: empty data for type %s", msg.RID, msg.Type)
	}
	return json.Unmarshal(msg.Data, v)
}
