package store

import (
	"context"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const defaultEtcdPrefix = "/sidecar/nodes/"

// EtcdStore keeps node INFO as one etcd key per node.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
	logger logger.Interface
}

var _ registry.Store = (*EtcdStore)(nil)

// NewEtcdStore stores nodes under prefix; "/sidecar/nodes/" when empty. The
// store owns client and closes it.
func NewEtcdStore(client *clientv3.Client, prefix string, log logger.Interface) *EtcdStore {
	if prefix == "" {
		prefix = defaultEtcdPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{client: client, prefix: prefix, logger: log}
}

func (s *EtcdStore) key(nodeID string) string {
	return s.prefix + nodeID
}

func (s *EtcdStore) Get(ctx context.Context, nodeID string) (*packet.InfoPayload, error) {
	resp, err := s.client.Get(ctx, s.key(nodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s from etcd: %w", nodeID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, registry.ErrNotFound
	}
	return decodeInfo(nodeID, resp.Kvs[0].Value)
}

func (s *EtcdStore) Put(ctx context.Context, nodeID string, info *packet.InfoPayload) error {
	data, err := encodeInfo(info)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, s.key(nodeID), string(data)); err != nil {
		return fmt.Errorf("failed to store node %s in etcd: %w", nodeID, err)
	}
	return nil
}

func (s *EtcdStore) Delete(ctx context.Context, nodeID string) error {
	if _, err := s.client.Delete(ctx, s.key(nodeID)); err != nil {
		return fmt.Errorf("failed to delete node %s from etcd: %w", nodeID, err)
	}
	return nil
}

func (s *EtcdStore) Iterate(ctx context.Context, fn func(nodeID string, info *packet.InfoPayload) error) error {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return fmt.Errorf("failed to list stored nodes: %w", err)
	}
	for _, kv := range resp.Kvs {
		nodeID := strings.TrimPrefix(string(kv.Key), s.prefix)
		if err := visitStored(s.logger, nodeID, kv.Value, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
