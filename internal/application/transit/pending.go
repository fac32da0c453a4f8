package transit

import (
	"encoding/json"

	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

type result struct {
	data json.RawMessage
	err  error
}

// pendingRequest is an outbound REQUEST waiting for its RESPONSE. result has
// room for exactly one value so the resolver never blocks.
type pendingRequest struct {
	id     string
	action string
	nodeID string
	ctx    *runtime.Context
	result chan result
}

func newPendingRequest(c *runtime.Context) *pendingRequest {
	return &pendingRequest{
		id:     c.ID,
		action: c.Action,
		nodeID: c.NodeID,
		ctx:    c,
		result: make(chan result, 1),
	}
}

func (t *Transit) addPending(p *pendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit := t.cfg.MaxQueueSize; limit > 0 && len(t.pending) >= limit {
		return errors.NewQueueFullError(p.action, p.nodeID, len(t.pending), limit)
	}
	if _, exists := t.pending[p.id]; exists {
		return errors.NewValidationError("request "+p.id+" is already pending", p.action)
	}
	t.pending[p.id] = p
	telemetry.PendingRequests.Set(float64(len(t.pending)))
	return nil
}

// takePending removes and returns the request with id. The id is remembered
// so a second RESPONSE for it can be told apart from an unknown one.
func (t *Transit) takePending(id string) (*pendingRequest, bool) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		telemetry.PendingRequests.Set(float64(len(t.pending)))
	}
	t.mu.Unlock()

	if ok {
		t.recent.Add(id, struct{}{})
	}
	return p, ok
}

func (t *Transit) removePending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		delete(t.pending, id)
		telemetry.PendingRequests.Set(float64(len(t.pending)))
	}
}

// PendingCount returns the number of requests waiting for a response.
func (t *Transit) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Transit) isPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}
