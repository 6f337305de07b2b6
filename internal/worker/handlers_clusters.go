package worker

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/synapse/internal/clustering"
	gormdb "github.com/thebtf/synapse/internal/db/gorm"
	"github.com/thebtf/synapse/pkg/models"
)

func (s *Service) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.clusters.ListClusters(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if clusters == nil {
		clusters = []*models.Cluster{}
	}
	writeJSON(w, clusters)
}

func (s *Service) handleComputeClusters(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	var req clustering.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alg, err := req.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.computeCooldown.Allow(wsID) {
		retry := s.computeCooldown.Remaining(wsID)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "clustering was run recently for this workspace")
		return
	}

	clusters, err := s.computeClusters(wsID, req, alg)
	switch {
	case errors.Is(err, clustering.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Str("workspace", wsID).Msg("Cluster computation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, clusters)
}

// CreateClusterRequest draws a cluster by hand.
type CreateClusterRequest struct {
	Name     string   `json:"name"`
	Color    string   `json:"color,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	ItemIDs  []string `json:"item_ids"`
	CenterX  float64  `json:"center_x"`
	CenterY  float64  `json:"center_y"`
	Radius   float64  `json:"radius"`
}

func (s *Service) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	var req CreateClusterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.Radius < 0 {
		writeError(w, http.StatusBadRequest, "radius must not be negative")
		return
	}

	if req.Color == "" {
		existing, err := s.clusters.ListClusters(r.Context(), wsID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.Color = clustering.Palette[len(existing)%len(clustering.Palette)]
	}

	c := &models.Cluster{
		WorkspaceID: wsID,
		Name:        req.Name,
		Color:       req.Color,
		CenterX:     req.CenterX,
		CenterY:     req.CenterY,
		Radius:      req.Radius,
		Keywords:    models.JSONStringArray(req.Keywords),
		ItemIDs:     req.ItemIDs,
	}
	if c.Keywords == nil {
		c.Keywords = models.JSONStringArray{}
	}
	if err := s.clusters.CreateCluster(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, id := range c.ItemIDs {
		s.setBodyCluster(wsID, id, c.ID)
	}
	s.broadcastClusters(r.Context(), wsID)

	created, err := s.clusters.GetCluster(r.Context(), c.ID)
	if err != nil || created == nil {
		created = c
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

// loadCluster fetches the {clusterID} cluster, writing 404 when missing.
func (s *Service) loadCluster(w http.ResponseWriter, r *http.Request) (*models.Cluster, bool) {
	c, err := s.clusters.GetCluster(r.Context(), chi.URLParam(r, "clusterID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "cluster not found")
		return nil, false
	}
	return c, true
}

func (s *Service) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.loadCluster(w, r); ok {
		writeJSON(w, c)
	}
}

// UpdateClusterRequest patches a cluster; omitted fields are unchanged.
type UpdateClusterRequest struct {
	Name    *string  `json:"name,omitempty"`
	Color   *string  `json:"color,omitempty"`
	CenterX *float64 `json:"center_x,omitempty"`
	CenterY *float64 `json:"center_y,omitempty"`
	Radius  *float64 `json:"radius,omitempty"`
}

func (s *Service) handleUpdateCluster(w http.ResponseWriter, r *http.Request) {
	var req UpdateClusterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}
	if req.Radius != nil && *req.Radius < 0 {
		writeError(w, http.StatusBadRequest, "radius must not be negative")
		return
	}

	c, err := s.clusters.UpdateCluster(r.Context(), chi.URLParam(r, "clusterID"), gormdb.ClusterPatch{
		Name:    req.Name,
		Color:   req.Color,
		CenterX: req.CenterX,
		CenterY: req.CenterY,
		Radius:  req.Radius,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	s.broadcastClusters(r.Context(), c.WorkspaceID)
	writeJSON(w, c)
}

func (s *Service) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCluster(w, r)
	if !ok {
		return
	}
	if _, err := s.clusters.DeleteCluster(r.Context(), c.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, id := range c.ItemIDs {
		s.setBodyCluster(c.WorkspaceID, id, "")
	}
	s.broadcastClusters(r.Context(), c.WorkspaceID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAddClusterItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCluster(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	if err := s.clusters.AddItem(r.Context(), c, itemID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setBodyCluster(c.WorkspaceID, itemID, c.ID)
	s.respondCluster(w, r, c.ID, c.WorkspaceID)
}

func (s *Service) handleRemoveClusterItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCluster(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	if err := s.clusters.RemoveItem(r.Context(), c.ID, itemID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if engine, ok := s.registry.Lookup(c.WorkspaceID); ok {
		if b, ok := engine.Get(itemID); ok && b.ClusterID == c.ID {
			engine.SetCluster(itemID, "")
		}
	}
	s.respondCluster(w, r, c.ID, c.WorkspaceID)
}

// respondCluster broadcasts the workspace's clusters and writes the updated one.
func (s *Service) respondCluster(w http.ResponseWriter, r *http.Request, clusterID, wsID string) {
	s.broadcastClusters(r.Context(), wsID)
	c, err := s.clusters.GetCluster(r.Context(), clusterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, c)
}
