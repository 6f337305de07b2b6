package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/synapse/pkg/models"
)

// Workspace is the persisted canvas with its physics settings.
type Workspace struct {
	ID                  string  `gorm:"primaryKey;type:varchar(36)"`
	Name                string  `gorm:"type:varchar(255);not null"`
	GravityStrength     float64 `gorm:"default:5000"`
	SimilarityThreshold float64 `gorm:"default:0.7"`
	CreatedAtEpoch      int64   `gorm:"not null"`
	UpdatedAtEpoch      int64   `gorm:"not null"`
}

func (Workspace) TableName() string { return "workspaces" }

// BeforeCreate hook to ensure timestamps are set.
func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if w.CreatedAtEpoch == 0 {
		w.CreatedAtEpoch = now
	}
	if w.UpdatedAtEpoch == 0 {
		w.UpdatedAtEpoch = now
	}
	return nil
}

// Item is a persisted canvas node.
type Item struct {
	Embedding      models.Vector   `gorm:"type:text"`
	ID             string          `gorm:"primaryKey;type:varchar(36)"`
	WorkspaceID    string          `gorm:"type:varchar(36);index:idx_items_workspace;not null"`
	ItemType       models.ItemType `gorm:"type:varchar(20);index:idx_items_type;not null"`
	Title          sql.NullString  `gorm:"type:varchar(500)"`
	Content        string          `gorm:"type:text;not null"`
	ClusterID      sql.NullString  `gorm:"type:varchar(36);index:idx_items_cluster"`
	PositionX      float64         `gorm:"default:0"`
	PositionY      float64         `gorm:"default:0"`
	VelocityX      float64         `gorm:"default:0"`
	VelocityY      float64         `gorm:"default:0"`
	Mass           float64         `gorm:"default:1"`
	Radius         float64         `gorm:"default:40"`
	CreatedAtEpoch int64           `gorm:"not null"`
	UpdatedAtEpoch int64           `gorm:"not null"`
}

func (Item) TableName() string { return "items" }

// BeforeCreate hook to ensure timestamps are set.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if i.CreatedAtEpoch == 0 {
		i.CreatedAtEpoch = now
	}
	if i.UpdatedAtEpoch == 0 {
		i.UpdatedAtEpoch = now
	}
	return nil
}

// Cluster is a persisted semantic group.
type Cluster struct {
	Keywords        models.JSONStringArray `gorm:"type:text"`
	ID              string                 `gorm:"primaryKey;type:varchar(36)"`
	WorkspaceID     string                 `gorm:"type:varchar(36);index:idx_clusters_workspace;not null"`
	Name            string                 `gorm:"type:varchar(255);not null"`
	Color           string                 `gorm:"type:varchar(20);default:'#4ECDC4'"`
	CenterX         float64                `gorm:"default:0"`
	CenterY         float64                `gorm:"default:0"`
	Radius          float64                `gorm:"default:200"`
	IsAutoGenerated bool                   `gorm:"default:false;index:idx_clusters_auto"`
	CreatedAtEpoch  int64                  `gorm:"not null"`
	UpdatedAtEpoch  int64                  `gorm:"not null"`
}

func (Cluster) TableName() string { return "clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = now
	}
	if c.UpdatedAtEpoch == 0 {
		c.UpdatedAtEpoch = now
	}
	return nil
}

func toModelWorkspace(w *Workspace) *models.Workspace {
	return &models.Workspace{
		ID:                  w.ID,
		Name:                w.Name,
		GravityStrength:     w.GravityStrength,
		SimilarityThreshold: w.SimilarityThreshold,
		CreatedAtEpoch:      w.CreatedAtEpoch,
		UpdatedAtEpoch:      w.UpdatedAtEpoch,
	}
}

func toModelItem(i *Item) *models.Item {
	return &models.Item{
		ID:             i.ID,
		WorkspaceID:    i.WorkspaceID,
		ItemType:       i.ItemType,
		Title:          i.Title.String,
		Content:        i.Content,
		PositionX:      i.PositionX,
		PositionY:      i.PositionY,
		VelocityX:      i.VelocityX,
		VelocityY:      i.VelocityY,
		Mass:           i.Mass,
		Radius:         i.Radius,
		ClusterID:      i.ClusterID.String,
		Embedding:      i.Embedding,
		CreatedAtEpoch: i.CreatedAtEpoch,
		UpdatedAtEpoch: i.UpdatedAtEpoch,
	}
}

func fromModelItem(m *models.Item) *Item {
	return &Item{
		ID:             m.ID,
		WorkspaceID:    m.WorkspaceID,
		ItemType:       m.ItemType,
		Title:          sqlNullString(m.Title),
		Content:        m.Content,
		PositionX:      m.PositionX,
		PositionY:      m.PositionY,
		VelocityX:      m.VelocityX,
		VelocityY:      m.VelocityY,
		Mass:           m.Mass,
		Radius:         m.Radius,
		ClusterID:      sqlNullString(m.ClusterID),
		Embedding:      m.Embedding,
		CreatedAtEpoch: m.CreatedAtEpoch,
		UpdatedAtEpoch: m.UpdatedAtEpoch,
	}
}

func toModelCluster(c *Cluster, itemIDs []string) *models.Cluster {
	if itemIDs == nil {
		itemIDs = []string{}
	}
	keywords := c.Keywords
	if keywords == nil {
		keywords = models.JSONStringArray{}
	}
	return &models.Cluster{
		ID:              c.ID,
		WorkspaceID:     c.WorkspaceID,
		Name:            c.Name,
		Color:           c.Color,
		CenterX:         c.CenterX,
		CenterY:         c.CenterY,
		Radius:          c.Radius,
		Keywords:        keywords,
		IsAutoGenerated: c.IsAutoGenerated,
		ItemIDs:         itemIDs,
		CreatedAtEpoch:  c.CreatedAtEpoch,
		UpdatedAtEpoch:  c.UpdatedAtEpoch,
	}
}
