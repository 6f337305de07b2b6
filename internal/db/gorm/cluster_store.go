package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/synapse/pkg/models"
)

// ClusterStore provides cluster database operations using GORM.
type ClusterStore struct {
	store *Store
	db    *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{store: store, db: store.DB}
}

// ClusterPatch holds optional cluster field updates.
type ClusterPatch struct {
	Name    *string
	Color   *string
	CenterX *float64
	CenterY *float64
	Radius  *float64
}

// ListClusters returns a workspace's clusters with their member item ids.
func (s *ClusterStore) ListClusters(ctx context.Context, workspaceID string) ([]*models.Cluster, error) {
	var rows []Cluster
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at_epoch, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	if len(rows) == 0 {
		return []*models.Cluster{}, nil
	}

	members, err := s.memberIDs(ctx, s.db, workspaceID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Cluster, len(rows))
	for i := range rows {
		out[i] = toModelCluster(&rows[i], members[rows[i].ID])
	}
	return out, nil
}

// GetCluster returns a cluster with its members, or nil if it does not exist.
func (s *ClusterStore) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var c Cluster
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}

	var ids []string
	err = s.db.WithContext(ctx).
		Model(&Item{}).
		Where("cluster_id = ?", id).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("get cluster members: %w", err)
	}
	return toModelCluster(&c, ids), nil
}

// memberIDs maps cluster id to member item ids for one workspace.
func (s *ClusterStore) memberIDs(ctx context.Context, db *gorm.DB, workspaceID string) (map[string][]string, error) {
	var pairs []struct {
		ID        string
		ClusterID string
	}
	err := db.WithContext(ctx).
		Model(&Item{}).
		Select("id, cluster_id").
		Where("workspace_id = ? AND cluster_id IS NOT NULL", workspaceID).
		Order("id").
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list cluster members: %w", err)
	}
	out := make(map[string][]string)
	for _, p := range pairs {
		out[p.ClusterID] = append(out[p.ClusterID], p.ID)
	}
	return out, nil
}

// ReplaceAutoClusters swaps a workspace's auto-generated clusters for the
// given ones in one transaction: old auto clusters are deleted, every item's
// cluster assignment is cleared, the new clusters are inserted and their
// members assigned. Clusters without an id get a fresh one.
func (s *ClusterStore) ReplaceAutoClusters(ctx context.Context, workspaceID string, clusters []*models.Cluster) error {
	return s.store.Transaction(ctx, SlowQueryTimeout, "replace_auto_clusters", func(tx *gorm.DB) error {
		if err := tx.Where("workspace_id = ? AND is_auto_generated = ?", workspaceID, true).
			Delete(&Cluster{}).Error; err != nil {
			return fmt.Errorf("delete auto clusters: %w", err)
		}

		if err := tx.Model(&Item{}).
			Where("workspace_id = ?", workspaceID).
			Update("cluster_id", nil).Error; err != nil {
			return fmt.Errorf("clear cluster assignments: %w", err)
		}

		for _, c := range clusters {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.WorkspaceID = workspaceID
			c.IsAutoGenerated = true

			row := &Cluster{
				ID:              c.ID,
				WorkspaceID:     workspaceID,
				Name:            c.Name,
				Color:           c.Color,
				CenterX:         c.CenterX,
				CenterY:         c.CenterY,
				Radius:          c.Radius,
				Keywords:        c.Keywords,
				IsAutoGenerated: true,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert cluster: %w", err)
			}
			c.CreatedAtEpoch = row.CreatedAtEpoch
			c.UpdatedAtEpoch = row.UpdatedAtEpoch

			if err := assignItems(tx, workspaceID, c.ID, c.ItemIDs); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateCluster stores a manually drawn cluster and assigns its items.
func (s *ClusterStore) CreateCluster(ctx context.Context, c *models.Cluster) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.IsAutoGenerated = false

	return s.store.Transaction(ctx, DefaultQueryTimeout, "create_cluster", func(tx *gorm.DB) error {
		row := &Cluster{
			ID:          c.ID,
			WorkspaceID: c.WorkspaceID,
			Name:        c.Name,
			Color:       c.Color,
			CenterX:     c.CenterX,
			CenterY:     c.CenterY,
			Radius:      c.Radius,
			Keywords:    c.Keywords,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
		c.CreatedAtEpoch = row.CreatedAtEpoch
		c.UpdatedAtEpoch = row.UpdatedAtEpoch
		return assignItems(tx, c.WorkspaceID, c.ID, c.ItemIDs)
	})
}

// UpdateCluster applies a patch. Returns nil, nil if the cluster does not exist.
func (s *ClusterStore) UpdateCluster(ctx context.Context, id string, patch ClusterPatch) (*models.Cluster, error) {
	updates := map[string]any{"updated_at_epoch": time.Now().UnixMilli()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Color != nil {
		updates["color"] = *patch.Color
	}
	if patch.CenterX != nil {
		updates["center_x"] = *patch.CenterX
	}
	if patch.CenterY != nil {
		updates["center_y"] = *patch.CenterY
	}
	if patch.Radius != nil {
		updates["radius"] = *patch.Radius
	}

	result := s.db.WithContext(ctx).Model(&Cluster{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("update cluster: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetCluster(ctx, id)
}

// DeleteCluster clears the cluster's item assignments and deletes it.
// Returns false if the cluster does not exist.
func (s *ClusterStore) DeleteCluster(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.store.Transaction(ctx, DefaultQueryTimeout, "delete_cluster", func(tx *gorm.DB) error {
		if err := tx.Model(&Item{}).Where("cluster_id = ?", id).Update("cluster_id", nil).Error; err != nil {
			return fmt.Errorf("clear cluster assignments: %w", err)
		}
		result := tx.Delete(&Cluster{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("delete cluster: %w", result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// AddItem assigns an item of the cluster's workspace to the cluster.
func (s *ClusterStore) AddItem(ctx context.Context, c *models.Cluster, itemID string) error {
	return assignItems(s.db.WithContext(ctx), c.WorkspaceID, c.ID, []string{itemID})
}

// RemoveItem clears an item's assignment if it belongs to the cluster.
func (s *ClusterStore) RemoveItem(ctx context.Context, clusterID, itemID string) error {
	err := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ? AND cluster_id = ?", itemID, clusterID).
		Update("cluster_id", nil).Error
	if err != nil {
		return fmt.Errorf("remove item from cluster: %w", err)
	}
	return nil
}

func assignItems(tx *gorm.DB, workspaceID, clusterID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	err := tx.Model(&Item{}).
		Where("workspace_id = ? AND id IN ?", workspaceID, itemIDs).
		Update("cluster_id", clusterID).Error
	if err != nil {
		return fmt.Errorf("assign cluster items: %w", err)
	}
	return nil
}

// SlowQueryTimeout bounds bulk operations such as cluster replacement.
const SlowQueryTimeout = 30 * time.Second
