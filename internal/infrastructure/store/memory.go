package store

import (
	"context"
	"sort"
	"sync"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
)

// MemoryStore keeps node INFO for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*packet.InfoPayload
}

var _ registry.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*packet.InfoPayload)}
}

func (s *MemoryStore) Get(_ context.Context, nodeID string) (*packet.InfoPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.nodes[nodeID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return info.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, nodeID string, info *packet.InfoPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID] = info.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
	return nil
}

// Iterate visits nodes in id order on a snapshot, so fn may call back into the store.
func (s *MemoryStore) Iterate(ctx context.Context, fn func(nodeID string, info *packet.InfoPayload) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.nodes))
	snapshot := make(map[string]*packet.InfoPayload, len(s.nodes))
	for id, info := range s.nodes {
		ids = append(ids, id)
		snapshot[id] = info.Clone()
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id, snapshot[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
