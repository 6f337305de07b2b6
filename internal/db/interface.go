// Package db defines database interfaces for the synapse stores.
package db

import (
	"context"

	"github.com/thebtf/synapse/pkg/models"
)

// WorkspaceReader defines read operations for workspaces.
type WorkspaceReader interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*models.Workspace, error)
}

// ItemReader defines read operations for items.
type ItemReader interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListAllItems(ctx context.Context) ([]*models.Item, error)
	ListEmbeddedItems(ctx context.Context, workspaceID string) ([]*models.Item, error)
}

// ItemWriter defines write operations for items.
type ItemWriter interface {
	UpdateItemPosition(ctx context.Context, id string, x, y float64) error
}

// ItemStateWriter persists simulated positions in bulk.
type ItemStateWriter interface {
	SaveItemStates(ctx context.Context, states []models.ItemState) (int64, error)
}

// ItemStore combines read and write operations for items.
type ItemStore interface {
	ItemReader
	ItemWriter
	ItemStateWriter
}

// ClusterReader defines read operations for clusters.
type ClusterReader interface {
	ListClusters(ctx context.Context, workspaceID string) ([]*models.Cluster, error)
}

// ClusterWriter defines write operations for clusters.
type ClusterWriter interface {
	ReplaceAutoClusters(ctx context.Context, workspaceID string, clusters []*models.Cluster) error
}

// ClusterStore combines read and write operations for clusters.
type ClusterStore interface {
	ClusterReader
	ClusterWriter
}
