package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/infrastructure/persistence/models"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const iterateBatchSize = 100

// GormStore keeps node INFO in the sidecar_nodes table of a MySQL or SQLite
// database. The schema is owned by the migration package.
type GormStore struct {
	db     *gorm.DB
	now    func() time.Time
	logger logger.Interface
}

var _ registry.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, log logger.Interface) *GormStore {
	return &GormStore{db: db, now: time.Now, logger: log}
}

func (s *GormStore) Get(ctx context.Context, nodeID string) (*packet.InfoPayload, error) {
	var m models.NodeInfoModel
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", nodeID, err)
	}
	return decodeInfo(nodeID, m.Info)
}

// Put inserts or replaces the stored INFO of nodeID.
func (s *GormStore) Put(ctx context.Context, nodeID string, info *packet.InfoPayload) error {
	data, err := encodeInfo(info)
	if err != nil {
		return err
	}
	m := models.NodeInfoModel{
		NodeID:    nodeID,
		Info:      data,
		UpdatedAt: s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"info", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to store node %s: %w", nodeID, err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, nodeID string) error {
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Delete(&models.NodeInfoModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	return nil
}

// Iterate reads the table in node_id order, one batch at a time.
func (s *GormStore) Iterate(ctx context.Context, fn func(nodeID string, info *packet.InfoPayload) error) error {
	after := ""
	for {
		var batch []models.NodeInfoModel
		err := s.db.WithContext(ctx).
			Where("node_id > ?", after).
			Order("node_id").
			Limit(iterateBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to list stored nodes: %w", err)
		}

		for _, m := range batch {
			if err := visitStored(s.logger, m.NodeID, m.Info, fn); err != nil {
				return err
			}
		}
		if len(batch) < iterateBatchSize {
			return nil
		}
		after = batch[len(batch)-1].NodeID
	}
}

// Close is a no-op: the connection belongs to whoever opened it.
func (s *GormStore) Close() error { return nil }
