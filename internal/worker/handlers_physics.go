package worker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/internal/worker/realtime"
	"github.com/thebtf/synapse/internal/worker/session"
	"github.com/thebtf/synapse/pkg/models"
)

// persistTimeout bounds store writes made on behalf of a physics request.
const persistTimeout = 5 * time.Second

// PhysicsStateResponse is a workspace's simulation snapshot.
type PhysicsStateResponse struct {
	WorkspaceID string           `json:"workspace_id"`
	Config      physics.Config   `json:"config"`
	Bodies      []physics.Body   `json:"bodies"`
	Members     []session.Member `json:"members"`
}

func (s *Service) handlePhysicsState(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	resp := PhysicsStateResponse{
		WorkspaceID: wsID,
		Config:      s.registry.Config(),
		Bodies:      []physics.Body{},
		Members:     s.rooms.Members(wsID),
	}
	if engine, ok := s.registry.Lookup(wsID); ok {
		resp.Config = engine.Config()
		resp.Bodies = engine.Snapshot()
	}
	if resp.Members == nil {
		resp.Members = []session.Member{}
	}
	writeJSON(w, resp)
}

// PhysicsSettingsRequest updates a workspace's per-workspace physics settings.
type PhysicsSettingsRequest struct {
	GravityStrength     *float64 `json:"gravity_strength,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

func (s *Service) handleUpdatePhysicsSettings(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	var req PhysicsSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GravityStrength != nil && *req.GravityStrength <= 0 {
		writeError(w, http.StatusBadRequest, "gravity_strength must be positive")
		return
	}
	if req.SimilarityThreshold != nil && (*req.SimilarityThreshold <= 0 || *req.SimilarityThreshold >= 1) {
		writeError(w, http.StatusBadRequest, "similarity_threshold must be in (0, 1)")
		return
	}

	ws, err := s.workspaces.GetWorkspace(r.Context(), wsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	if req.GravityStrength != nil {
		ws.GravityStrength = *req.GravityStrength
	}
	if req.SimilarityThreshold != nil {
		ws.SimilarityThreshold = *req.SimilarityThreshold
	}
	if err := s.workspaces.UpdatePhysicsSettings(r.Context(), wsID, ws.GravityStrength, ws.SimilarityThreshold); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.SetOverrides(wsID, workspaceOverrides(ws))

	writeJSON(w, ws)
}

// AddBodyRequest places an item into a workspace simulation. Without a
// position the body is placed next to its most similar neighbors.
type AddBodyRequest struct {
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
	ID        string    `json:"id"`
	Text      string    `json:"text,omitempty"`
	ClusterID string    `json:"cluster_id,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Mass      float64   `json:"mass,omitempty"`
	Radius    float64   `json:"radius,omitempty"`
}

func (s *Service) handleAddBody(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	var req AddBodyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}

	embedding := req.Embedding
	if len(embedding) == 0 && req.Text != "" {
		embedding = s.embed(r.Context(), req.Text)
		if len(embedding) > 0 {
			s.persistEmbedding(r.Context(), wsID, req.ID, embedding)
		}
	}

	engine := s.registry.For(wsID)
	body := physics.Body{
		ID:        req.ID,
		Mass:      req.Mass,
		Radius:    req.Radius,
		Embedding: embedding,
		ClusterID: req.ClusterID,
	}
	if req.X != nil && req.Y != nil {
		body.X, body.Y = *req.X, *req.Y
	} else {
		body.X, body.Y = engine.Suggest(embedding)
	}
	s.registry.AddBody(wsID, body)

	added, _ := s.registry.For(wsID).Get(req.ID)
	writeJSONStatus(w, http.StatusCreated, added)
}

// embed returns an embedding for text, or nil when no embedder is configured
// or it fails. Bodies without embeddings still take part in repulsion.
func (s *Service) embed(ctx context.Context, text string) []float32 {
	if s.deps.Embedder == nil {
		return nil
	}
	v, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("Embedding failed, adding body without embedding")
		return nil
	}
	return v
}

// persistEmbedding stores a generated embedding on the matching item, if the
// item exists in this workspace.
func (s *Service) persistEmbedding(ctx context.Context, wsID, itemID string, embedding []float32) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil || item == nil || item.WorkspaceID != wsID {
		return
	}
	if err := s.items.UpdateItemEmbedding(ctx, itemID, models.Vector(embedding)); err != nil {
		s.log.Warn().Err(err).Str("item", itemID).Msg("Failed to persist embedding")
	}
}

func (s *Service) handleRemoveBody(w http.ResponseWriter, r *http.Request) {
	if engine, ok := s.registry.Lookup(chi.URLParam(r, "workspaceID")); ok {
		engine.Remove(chi.URLParam(r, "itemID"))
	}
	w.WriteHeader(http.StatusNoContent)
}

// PositionRequest is an explicit position reset.
type PositionRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (s *Service) handleRepositionBody(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")
	itemID := chi.URLParam(r, "itemID")

	var req PositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, http.StatusBadRequest, "x and y required")
		return
	}

	engine, ok := s.registry.Lookup(wsID)
	if !ok {
		writeError(w, http.StatusNotFound, "body not found")
		return
	}
	if _, ok := engine.Get(itemID); !ok {
		writeError(w, http.StatusNotFound, "body not found")
		return
	}
	engine.Reposition(itemID, *req.X, *req.Y)

	ctx, cancel := context.WithTimeout(r.Context(), persistTimeout)
	defer cancel()
	if err := s.items.UpdateItemPosition(ctx, itemID, *req.X, *req.Y); err != nil {
		s.log.Warn().Err(err).Str("item", itemID).Msg("Failed to persist position")
	}

	payload, _ := json.Marshal(map[string]float64{"x": *req.X, "y": *req.Y})
	s.broadcaster.BroadcastToWorkspace(wsID, realtime.EventItemMoved, realtime.PointEvent{
		Timestamp: time.Now(),
		ItemID:    itemID,
		Payload:   payload,
	})

	body, _ := engine.Get(itemID)
	writeJSON(w, body)
}

// NeighborsResponse lists the bodies near an item.
type NeighborsResponse struct {
	ItemID    string             `json:"item_id"`
	Neighbors []physics.Neighbor `json:"neighbors"`
}

func (s *Service) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")
	itemID := chi.URLParam(r, "itemID")

	maxDistance, err := queryFloat(r, "max_distance", physics.DefaultNeighborDistance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minSimilarity, err := queryFloat(r, "min_similarity", physics.DefaultNeighborSimilarity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine, ok := s.registry.Lookup(wsID)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if _, ok := engine.Get(itemID); !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	neighbors := engine.Neighbors(itemID, maxDistance, minSimilarity)
	if neighbors == nil {
		neighbors = []physics.Neighbor{}
	}
	writeJSON(w, NeighborsResponse{ItemID: itemID, Neighbors: neighbors})
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// SuggestRequest asks where a new item should be placed. Candidates default
// to the workspace's current bodies.
type SuggestRequest struct {
	Candidates *[]physics.Candidate `json:"candidates,omitempty"`
	Text       string               `json:"text,omitempty"`
	Embedding  []float32            `json:"embedding,omitempty"`
}

// SuggestResponse is a suggested canvas position.
type SuggestResponse struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Service) handleSuggestPosition(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")

	var req SuggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	embedding := req.Embedding
	if len(embedding) == 0 && req.Text != "" {
		embedding = s.embed(r.Context(), req.Text)
	}
	if len(embedding) == 0 {
		writeError(w, http.StatusBadRequest, "embedding or text required")
		return
	}

	engine := s.registry.For(wsID)
	var resp SuggestResponse
	if req.Candidates != nil {
		resp.X, resp.Y = engine.SuggestPosition(embedding, *req.Candidates)
	} else {
		resp.X, resp.Y = engine.Suggest(embedding)
	}
	writeJSON(w, resp)
}
