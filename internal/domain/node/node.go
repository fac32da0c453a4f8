// Package node models one remote execution unit bridged through a gateway.
package node

import (
	"maps"
	"time"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
)

// Node is the last known state of a remote node. It is not safe for
// concurrent use; the owning catalog serializes access.
type Node struct {
	ID                string
	InstanceID        string
	Available         bool
	Local             bool
	LastHeartbeatTime time.Time
	OfflineSince      *time.Time
	Seq               int64
	Hostname          string
	Gateway           *gateway.Config
	RawInfo           *packet.InfoPayload
	Client            runtime.ClientInfo
	Metadata          map[string]any
}

// New returns an available node first seen at now. Bridged nodes count as
// local to the runtime their services are registered in.
func New(id string, now time.Time) *Node {
	return &Node{
		ID:                id,
		Available:         true,
		Local:             true,
		LastHeartbeatTime: now,
	}
}

// Update applies an INFO payload. rawInfo, metadata, client and gateway are
// always refreshed. It reports whether the node's services must be
// (re)registered, which is the case when the sequence advanced, the node
// reconnected or its instance id changed. Only then are instanceID and seq stored.
func (n *Node) Update(payload *packet.InfoPayload, isReconnected bool) bool {
	n.RawInfo = payload.Clone()
	n.Metadata = maps.Clone(payload.Metadata)
	n.Client = payload.Client
	n.Hostname = payload.Hostname
	n.Gateway = nil
	if payload.Gateway != nil {
		gw := *payload.Gateway
		n.Gateway = &gw
	}

	newSeq := payload.Seq
	if newSeq == 0 {
		newSeq = 1
	}
	if newSeq > n.Seq || isReconnected || payload.InstanceID != n.InstanceID {
		n.InstanceID = payload.InstanceID
		n.Seq = newSeq
		return true
	}
	return false
}

// Heartbeat records a liveness signal.
func (n *Node) Heartbeat(now time.Time) {
	if !n.Available {
		n.Available = true
		n.OfflineSince = nil
	}
	n.LastHeartbeatTime = now
}

// Disconnected marks the node unavailable. The sequence is bumped once per
// available-to-unavailable transition so the next INFO re-registers services.
func (n *Node) Disconnected(now time.Time) {
	if n.Available {
		n.OfflineSince = &now
		n.Seq++
	}
	n.Available = false
}

// Reconnected resets liveness for a node that came back.
func (n *Node) Reconnected(now time.Time) {
	n.LastHeartbeatTime = now
	n.Available = true
	n.OfflineSince = nil
}

// Clone returns a deep enough copy to hand out of the catalog.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Metadata = maps.Clone(n.Metadata)
	cp.RawInfo = n.RawInfo.Clone()
	if n.OfflineSince != nil {
		t := *n.OfflineSince
		cp.OfflineSince = &t
	}
	if n.Gateway != nil {
		gw := *n.Gateway
		if gw.Auth != nil {
			auth := *gw.Auth
			gw.Auth = &auth
		}
		cp.Gateway = &gw
	}
	return &cp
}

// Summary is the redacted view shared with peers and admin APIs: no raw INFO
// and no gateway credentials.
func (n *Node) Summary() packet.NodeSummary {
	s := packet.NodeSummary{
		ID:                n.ID,
		InstanceID:        n.InstanceID,
		Available:         n.Available,
		Local:             n.Local,
		LastHeartbeatTime: n.LastHeartbeatTime.UnixMilli(),
		Seq:               n.Seq,
		Client:            n.Client,
		Metadata:          maps.Clone(n.Metadata),
	}
	if n.OfflineSince != nil {
		ms := n.OfflineSince.UnixMilli()
		s.OfflineSince = &ms
	}
	if n.Gateway != nil {
		gw := n.Gateway.Redacted()
		s.Gateway = &gw
	}
	return s
}
