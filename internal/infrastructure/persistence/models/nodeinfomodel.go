package models

import (
	"time"

	"gorm.io/datatypes"
)

// TableSidecarNodes holds the last INFO received from every remote node.
const TableSidecarNodes = "sidecar_nodes"

// NodeInfoModel is the persistence model of a stored node INFO.
type NodeInfoModel struct {
	NodeID    string         `gorm:"column:node_id;primaryKey;size:255"`
	Info      datatypes.JSON `gorm:"column:info;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for GORM
func (NodeInfoModel) TableName() string {
	return TableSidecarNodes
}
