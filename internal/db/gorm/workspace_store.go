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

// WorkspaceStore provides workspace database operations using GORM.
type WorkspaceStore struct {
	db *gorm.DB
}

// NewWorkspaceStore creates a new workspace store.
func NewWorkspaceStore(store *Store) *WorkspaceStore {
	return &WorkspaceStore{db: store.DB}
}

// CreateWorkspace stores a workspace, assigning an id when empty.
func (s *WorkspaceStore) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	dbWS := &Workspace{
		ID:                  ws.ID,
		Name:                ws.Name,
		GravityStrength:     ws.GravityStrength,
		SimilarityThreshold: ws.SimilarityThreshold,
	}
	if err := s.db.WithContext(ctx).Create(dbWS).Error; err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	ws.CreatedAtEpoch = dbWS.CreatedAtEpoch
	ws.UpdatedAtEpoch = dbWS.UpdatedAtEpoch
	return nil
}

// GetWorkspace returns a workspace, or nil if it does not exist.
func (s *WorkspaceStore) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws Workspace
	err := s.db.WithContext(ctx).First(&ws, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return toModelWorkspace(&ws), nil
}

// ListWorkspaces returns all workspaces ordered by id.
func (s *WorkspaceStore) ListWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	var rows []Workspace
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]*models.Workspace, len(rows))
	for i := range rows {
		out[i] = toModelWorkspace(&rows[i])
	}
	return out, nil
}

// UpdatePhysicsSettings sets a workspace's gravity strength and similarity threshold.
func (s *WorkspaceStore) UpdatePhysicsSettings(ctx context.Context, id string, gravity, threshold float64) error {
	result := s.db.WithContext(ctx).
		Model(&Workspace{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gravity_strength":     gravity,
			"similarity_threshold": threshold,
			"updated_at_epoch":     time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return fmt.Errorf("update physics settings: %w", result.Error)
	}
	return nil
}
