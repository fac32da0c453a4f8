package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/orris-inc/sidecar/internal/shared/logger"
)

var nameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// Generator handles creation of new goose migration files
type Generator struct {
	scriptsPath string
	logger      logger.Interface
	now         func() time.Time
}

// NewGenerator creates a new migration generator
func NewGenerator(scriptsPath string) *Generator {
	return &Generator{
		scriptsPath: scriptsPath,
		logger:      logger.NewLogger().With("component", "migration.generator"),
		now:         time.Now,
	}
}

// CreateMigration writes a goose SQL file with empty Up and Down sections
// and returns its path.
func (g *Generator) CreateMigration(name string) (string, error) {
	name = nameSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "", fmt.Errorf("migration name is required")
	}

	g.logger.Infow("creating new migration", "name", name)

	fileName := fmt.Sprintf("%s_%s.sql", g.now().UTC().Format("20060102150405"), name)
	filePath := filepath.Join(g.scriptsPath, fileName)

	if err := os.MkdirAll(g.scriptsPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scripts directory: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(g.template(name)), 0o644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}

	g.logger.Infow("migration file created successfully", "file", filePath)
	return filePath, nil
}

func (g *Generator) template(name string) string {
	return fmt.Sprintf(`-- Migration: %s
-- Created: %s
-- Statements must run on both MySQL and SQLite.

-- +goose Up

-- +goose Down
`, name, g.now().UTC().Format("2006-01-02 15:04:05"))
}
