package models

import (
	"errors"
	"regexp"
)

// ItemType is the kind of content an item holds.
type ItemType string

const (
	ItemTypeNote  ItemType = "note"
	ItemTypeLink  ItemType = "link"
	ItemTypeImage ItemType = "image"
	ItemTypePDF   ItemType = "pdf"
	ItemTypeCode  ItemType = "code"
	ItemTypeFile  ItemType = "file"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeNote, ItemTypeLink, ItemTypeImage, ItemTypePDF, ItemTypeCode, ItemTypeFile:
		return true
	}
	return false
}

// workspaceIDPattern restricts workspace ids to URL-safe characters.
var workspaceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateWorkspaceID checks that a workspace id is safe to use as a key.
func ValidateWorkspaceID(id string) error {
	if id == "" {
		return errors.New("workspace id required")
	}
	if !workspaceIDPattern.MatchString(id) {
		return errors.New("invalid workspace id: only alphanumeric, underscore and dash allowed (max 128 chars)")
	}
	return nil
}

// Workspace is a canvas with its physics settings.
type Workspace struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	GravityStrength     float64 `json:"gravity_strength"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	CreatedAtEpoch      int64   `json:"created_at_epoch"`
	UpdatedAtEpoch      int64   `json:"updated_at_epoch"`
}

// Item is a node on a workspace canvas.
type Item struct {
	ID             string   `json:"id"`
	WorkspaceID    string   `json:"workspace_id"`
	ItemType       ItemType `json:"item_type"`
	Title          string   `json:"title,omitempty"`
	Content        string   `json:"content"`
	PositionX      float64  `json:"position_x"`
	PositionY      float64  `json:"position_y"`
	VelocityX      float64  `json:"velocity_x"`
	VelocityY      float64  `json:"velocity_y"`
	Mass           float64  `json:"mass"`
	Radius         float64  `json:"radius"`
	ClusterID      string   `json:"cluster_id,omitempty"`
	Embedding      Vector   `json:"embedding,omitempty"`
	CreatedAtEpoch int64    `json:"created_at_epoch"`
	UpdatedAtEpoch int64    `json:"updated_at_epoch"`
}

// Cluster is a persisted semantic group.
type Cluster struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	Name            string          `json:"name"`
	Color           string          `json:"color"`
	CenterX         float64         `json:"center_x"`
	CenterY         float64         `json:"center_y"`
	Radius          float64         `json:"radius"`
	Keywords        JSONStringArray `json:"keywords"`
	IsAutoGenerated bool            `json:"is_auto_generated"`
	ItemIDs         []string        `json:"item_ids"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
	UpdatedAtEpoch  int64           `json:"updated_at_epoch"`
}

// ItemState is the simulated kinematic state of one item.
type ItemState struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}
