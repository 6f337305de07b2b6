package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/synapse/internal/clustering"
	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/internal/worker/realtime"
	"github.com/thebtf/synapse/pkg/models"
)

// ClustersUpdatedPayload is broadcast to a workspace room whenever its
// persisted clusters change.
type ClustersUpdatedPayload struct {
	Timestamp   time.Time         `json:"timestamp"`
	WorkspaceID string            `json:"workspace_id"`
	Clusters    []*models.Cluster `json:"clusters"`
}

// computeKey identifies identical concurrent compute requests.
func computeKey(wsID string, req clustering.Request) string {
	raw, err := json.Marshal(req)
	if err != nil {
		return wsID
	}
	return wsID + "|" + string(raw)
}

// computeClusters runs one clustering pass over a workspace and replaces its
// auto-generated clusters. Concurrent identical requests share one run.
func (s *Service) computeClusters(wsID string, req clustering.Request, alg clustering.Algorithm) ([]*models.Cluster, error) {
	v, err, shared := s.computeGroup.Do(computeKey(wsID, req), func() (any, error) {
		ctx := s.ctx
		if s.config.ClusterTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ClusterTimeout)
			defer cancel()
		}
		return s.runClustering(ctx, wsID, alg, req.UseLLMNaming)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug().Str("workspace", wsID).Msg("Joined in-flight cluster computation")
	}
	return v.([]*models.Cluster), nil
}

func (s *Service) runClustering(ctx context.Context, wsID string, alg clustering.Algorithm, useNamer bool) ([]*models.Cluster, error) {
	start := time.Now()

	rows, err := s.items.ListEmbeddedItems(ctx, wsID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	items := s.clusteringItems(wsID, rows)

	computed, err := s.clusterer.Compute(ctx, items, alg, useNamer)
	if err != nil {
		return nil, err
	}

	clusters := make([]*models.Cluster, len(computed))
	for i, c := range computed {
		clusters[i] = &models.Cluster{
			WorkspaceID: wsID,
			Name:        c.Name,
			Color:       c.Color,
			CenterX:     c.CenterX,
			CenterY:     c.CenterY,
			Radius:      c.Radius,
			Keywords:    models.JSONStringArray(c.Keywords),
			ItemIDs:     c.ItemIDs,
		}
	}
	if err := s.clusters.ReplaceAutoClusters(ctx, wsID, clusters); err != nil {
		return nil, fmt.Errorf("persist clusters: %w", err)
	}

	s.assignBodies(wsID, clusters)
	s.broadcastClusters(ctx, wsID)

	s.log.Info().
		Str("workspace", wsID).
		Str("algorithm", alg.Name()).
		Int("items", len(items)).
		Int("clusters", len(clusters)).
		Dur("duration", time.Since(start)).
		Msg("Clusters recomputed")
	return clusters, nil
}

// clusteringItems converts stored items, preferring live simulation positions.
// Live positions come from one engine snapshot so they all belong to the same tick.
func (s *Service) clusteringItems(wsID string, rows []*models.Item) []clustering.Item {
	var live map[string]physics.Body
	if engine, ok := s.registry.Lookup(wsID); ok {
		bodies := engine.Snapshot()
		live = make(map[string]physics.Body, len(bodies))
		for _, b := range bodies {
			live[b.ID] = b
		}
	}

	items := make([]clustering.Item, len(rows))
	for i, row := range rows {
		items[i] = clustering.Item{
			ID:        row.ID,
			Title:     row.Title,
			Content:   row.Content,
			Embedding: []float32(row.Embedding),
			X:         row.PositionX,
			Y:         row.PositionY,
		}
		if b, ok := live[row.ID]; ok {
			items[i].X, items[i].Y = b.X, b.Y
		}
	}
	return items
}

// assignBodies mirrors a replacement run onto the simulation: every body
// loses its cluster, then members take their new one.
func (s *Service) assignBodies(wsID string, clusters []*models.Cluster) {
	engine, ok := s.registry.Lookup(wsID)
	if !ok {
		return
	}
	for _, b := range engine.Snapshot() {
		if b.ClusterID != "" {
			engine.SetCluster(b.ID, "")
		}
	}
	for _, c := range clusters {
		for _, id := range c.ItemIDs {
			engine.SetCluster(id, c.ID)
		}
	}
}

// setBodyCluster updates one body's cluster when it is simulated.
func (s *Service) setBodyCluster(wsID, itemID, clusterID string) {
	if engine, ok := s.registry.Lookup(wsID); ok {
		engine.SetCluster(itemID, clusterID)
	}
}

// broadcastClusters pushes the workspace's current clusters to its room.
func (s *Service) broadcastClusters(ctx context.Context, wsID string) {
	clusters, err := s.clusters.ListClusters(ctx, wsID)
	if err != nil {
		s.log.Warn().Err(err).Str("workspace", wsID).Msg("Failed to load clusters for broadcast")
		return
	}
	s.broadcaster.BroadcastToWorkspace(wsID, realtime.EventClustersReady, ClustersUpdatedPayload{
		Timestamp:   time.Now(),
		WorkspaceID: wsID,
		Clusters:    clusters,
	})
}
