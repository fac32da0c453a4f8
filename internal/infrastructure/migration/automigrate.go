package migration

import (
	"github.com/orris-inc/sidecar/internal/infrastructure/persistence/models"
)

// AutoMigrateModels lists the models the auto-migrate strategy creates.
func AutoMigrateModels() []interface{} {
	return []interface{}{
		&models.NodeInfoModel{},
	}
}
