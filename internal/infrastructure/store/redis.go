package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// RedisStore keeps node INFO in one Redis hash, field = node id.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
	logger logger.Interface
}

var _ registry.Store = (*RedisStore)(nil)

// NewRedisStore stores nodes under "{prefix}info". When owned is true Close
// also closes the client.
func NewRedisStore(client *redis.Client, prefix string, owned bool, log logger.Interface) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, key: prefix + "info", owned: owned, logger: log}
}

func (s *RedisStore) Get(ctx context.Context, nodeID string) (*packet.InfoPayload, error) {
	data, err := s.client.HGet(ctx, s.key, nodeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s from redis: %w", nodeID, err)
	}
	return decodeInfo(nodeID, data)
}

func (s *RedisStore) Put(ctx context.Context, nodeID string, info *packet.InfoPayload) error {
	data, err := encodeInfo(info)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, nodeID, data).Err(); err != nil {
		return fmt.Errorf("failed to store node %s in redis: %w", nodeID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, nodeID string) error {
	if err := s.client.HDel(ctx, s.key, nodeID).Err(); err != nil {
		return fmt.Errorf("failed to delete node %s from redis: %w", nodeID, err)
	}
	return nil
}

// Iterate walks the hash with HSCAN so large registries are not loaded at once.
func (s *RedisStore) Iterate(ctx context.Context, fn func(nodeID string, info *packet.InfoPayload) error) error {
	var cursor uint64
	for {
		pairs, next, err := s.client.HScan(ctx, s.key, cursor, "*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan stored nodes: %w", err)
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			if err := visitStored(s.logger, pairs[i], []byte(pairs[i+1]), fn); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
