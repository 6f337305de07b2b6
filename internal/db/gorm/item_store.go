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

// ItemStore provides item database operations using GORM.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(store *Store) *ItemStore {
	return &ItemStore{db: store.DB}
}

// CreateItem stores an item, assigning an id and physics defaults when unset.
func (s *ItemStore) CreateItem(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ItemType == "" {
		item.ItemType = models.ItemTypeNote
	}
	if item.Mass <= 0 {
		item.Mass = 1
	}
	if item.Radius <= 0 {
		item.Radius = 40
	}

	dbItem := fromModelItem(item)
	if err := s.db.WithContext(ctx).Create(dbItem).Error; err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	item.CreatedAtEpoch = dbItem.CreatedAtEpoch
	item.UpdatedAtEpoch = dbItem.UpdatedAtEpoch
	return nil
}

// GetItem returns an item, or nil if it does not exist.
func (s *ItemStore) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item Item
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return toModelItem(&item), nil
}

// ListItems returns a page of a workspace's items ordered by creation time.
func (s *ItemStore) ListItems(ctx context.Context, workspaceID string, page PaginationParams) ([]*models.Item, error) {
	var rows []Item
	q := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at_epoch, id")
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return toModelItems(rows), nil
}

// ListAllItems returns every item of every workspace. Used to seed the
// simulation at startup.
func (s *ItemStore) ListAllItems(ctx context.Context) ([]*models.Item, error) {
	var rows []Item
	if err := s.db.WithContext(ctx).Order("workspace_id, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list all items: %w", err)
	}
	return toModelItems(rows), nil
}

// ListEmbeddedItems returns a workspace's items that carry an embedding,
// read in a single query so clustering sees one consistent snapshot.
func (s *ItemStore) ListEmbeddedItems(ctx context.Context, workspaceID string) ([]*models.Item, error) {
	var rows []Item
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND embedding IS NOT NULL AND embedding <> ''", workspaceID).
		Order("created_at_epoch, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list embedded items: %w", err)
	}
	out := make([]*models.Item, 0, len(rows))
	for i := range rows {
		if len(rows[i].Embedding) > 0 {
			out = append(out, toModelItem(&rows[i]))
		}
	}
	return out, nil
}

// UpdateItemPosition stores a new canvas position and zeroes the velocity.
func (s *ItemStore) UpdateItemPosition(ctx context.Context, id string, x, y float64) error {
	result := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"position_x":       x,
			"position_y":       y,
			"velocity_x":       0,
			"velocity_y":       0,
			"updated_at_epoch": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return fmt.Errorf("update item position: %w", result.Error)
	}
	return nil
}

// saveBatchSize bounds the rows written per checkpoint transaction.
const saveBatchSize = 100

// SaveItemStates writes positions and velocities for many items and returns
// the number of rows that matched. Unknown ids are skipped.
func (s *ItemStore) SaveItemStates(ctx context.Context, states []models.ItemState) (int64, error) {
	var saved int64
	now := time.Now().UnixMilli()

	for i := 0; i < len(states); i += saveBatchSize {
		batch := states[i:min(i+saveBatchSize, len(states))]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, st := range batch {
				result := tx.Model(&Item{}).
					Where("id = ?", st.ID).
					Updates(map[string]any{
						"position_x":       st.X,
						"position_y":       st.Y,
						"velocity_x":       st.VX,
						"velocity_y":       st.VY,
						"updated_at_epoch": now,
					})
				if result.Error != nil {
					return result.Error
				}
				saved += result.RowsAffected
			}
			return nil
		})
		if err != nil {
			return saved, fmt.Errorf("save item states: %w", err)
		}
	}
	return saved, nil
}

// UpdateItemEmbedding replaces an item's embedding.
func (s *ItemStore) UpdateItemEmbedding(ctx context.Context, id string, embedding models.Vector) error {
	result := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"embedding":        embedding,
			"updated_at_epoch": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return fmt.Errorf("update item embedding: %w", result.Error)
	}
	return nil
}

// DeleteItem removes an item. Missing items are ignored.
func (s *ItemStore) DeleteItem(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Item{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func toModelItems(rows []Item) []*models.Item {
	out := make([]*models.Item, len(rows))
	for i := range rows {
		out[i] = toModelItem(&rows[i])
	}
	return out
}
