package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: workspaces and items
		{
			ID: "001_workspaces_items",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Workspace{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Item{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("items", "workspaces")
			},
		},

		// Migration 002: clusters
		{
			ID: "002_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Cluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("clusters")
			},
		},

		// Migration 003: composite index for per-workspace cluster membership lookups
		{
			ID: "003_items_workspace_cluster_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_items_workspace_cluster
					ON items(workspace_id, cluster_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_items_workspace_cluster`).Error
			},
		},
	})

	return m.Migrate()
}
