// Package store implements registry.Store: the persisted copy of the last
// INFO of every remote node, replayed into the registry on startup.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const defaultKeyPrefix = "sidecar:nodes:"

func encodeInfo(info *packet.InfoPayload) ([]byte, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node info: %w", err)
	}
	return data, nil
}

// visitStored decodes one stored entry and hands it to fn. An entry that
// does not decode is skipped so one bad row cannot block the others.
func visitStored(log logger.Interface, nodeID string, data []byte, fn func(string, *packet.InfoPayload) error) error {
	info, err := decodeInfo(nodeID, data)
	if err != nil {
		log.Warnw("skipping undecodable stored node",
			"node_id", nodeID,
			"error", err,
		)
		return nil
	}
	return fn(nodeID, info)
}

func decodeInfo(nodeID string, data []byte) (*packet.InfoPayload, error) {
	var info packet.InfoPayload
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode stored info of node %s: %w", nodeID, err)
	}
	return &info, nil
}
