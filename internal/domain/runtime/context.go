// Package runtime defines the contract between the sidecar and the local
// action/event runtime: call contexts, service schemas and the Broker port.
package runtime

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/orris-inc/sidecar/internal/shared/id"
)

// Event types carried by EVENT packets.
const (
	EventTypeEmit           = "emit"
	EventTypeBroadcast      = "broadcast"
	EventTypeBroadcastLocal = "broadcastLocal"
)

// Context is one in-flight call or event delivery.
type Context struct {
	ID        string
	Action    string
	Event     string
	EventType string
	Groups    []string
	Params    json.RawMessage
	Meta      map[string]any
	Level     int
	Tracing   bool
	ParentID  string
	RequestID string
	Caller    string
	// NodeID is the remote node the call targets (outbound) or came from (inbound).
	NodeID  string
	Timeout time.Duration
	NeedAck bool
	// Handler is the remote handler reference forwarded to the remote node.
	Handler string

	Channel  string
	Delivery *Delivery
}

// Delivery is channel delivery metadata forwarded verbatim to remote nodes.
type Delivery struct {
	Info        any    `json:"info,omitempty"`
	Redelivered bool   `json:"redelivered"`
	Reply       string `json:"reply,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
	Sid         string `json:"sid,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

// NewContext returns a root context with a fresh id.
func NewContext() *Context {
	ctxID := id.ContextID()
	return &Context{
		ID:        ctxID,
		RequestID: ctxID,
		Level:     1,
		Meta:      map[string]any{},
	}
}

// Child derives a context for a nested call made while handling c.
func (c *Context) Child() *Context {
	child := NewContext()
	if c == nil {
		return child
	}
	child.ParentID = c.ID
	child.RequestID = c.RequestID
	if child.RequestID == "" {
		child.RequestID = c.ID
	}
	child.Level = c.Level + 1
	child.Tracing = c.Tracing
	child.Caller = c.Caller
	child.Meta = maps.Clone(c.Meta)
	if child.Meta == nil {
		child.Meta = map[string]any{}
	}
	return child
}

// Clone returns a shallow copy with its own Meta map.
func (c *Context) Clone() *Context {
	cp := *c
	cp.Meta = maps.Clone(c.Meta)
	if cp.Meta == nil {
		cp.Meta = map[string]any{}
	}
	return &cp
}

// MergeMeta copies every key of meta into c.Meta.
func (c *Context) MergeMeta(meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	maps.Copy(c.Meta, meta)
}

// EncodeParams turns arbitrary call parameters into raw JSON. Raw JSON and
// nil pass through untouched.
func EncodeParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(v)
	}
}

// DecodeParams unmarshals c.Params into v. Empty params leave v untouched.
func (c *Context) DecodeParams(v any) error {
	if len(c.Params) == 0 {
		return nil
	}
	return json.Unmarshal(c.Params, v)
}
