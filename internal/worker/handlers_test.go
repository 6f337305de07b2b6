package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/synapse/internal/config"
	gormdb "github.com/thebtf/synapse/internal/db/gorm"
	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/pkg/models"
)

// HandlerSuite runs the REST API against a temporary SQLite store.
type HandlerSuite struct {
	suite.Suite
	store    *gormdb.Store
	cfg      *config.Config
	embedder *stubEmbedder
	svc      *Service
}

func (s *HandlerSuite) SetupTest() {
	s.store = testStore(s.T())
	s.cfg = testConfig(s.T())
	s.embedder = &stubEmbedder{vectors: map[string][]float32{
		"pasta": {1, 0, 0},
		"pizza": {0.9, 0.1, 0},
	}}

	seedWorkspace(s.T(), s.store, "ws-1", 0, 0)
	seedItem(s.T(), s.store, "a", "ws-1", []float32{1, 0, 0}, 0, 0)
	seedItem(s.T(), s.store, "b", "ws-1", []float32{0.95, 0.05, 0}, 50, 0)
	seedItem(s.T(), s.store, "c", "ws-1", []float32{0.9, 0.1, 0}, 0, 50)
	seedItem(s.T(), s.store, "d", "ws-1", []float32{0, 0, 1}, 900, 900)
	seedItem(s.T(), s.store, "e", "ws-1", []float32{0.05, 0, 0.95}, 950, 900)
	seedItem(s.T(), s.store, "f", "ws-1", []float32{0.1, 0, 0.9}, 900, 950)
}

// start builds the service after per-test config tweaks.
func (s *HandlerSuite) start() {
	s.svc = startService(s.T(), s.cfg, Dependencies{Store: s.store, Embedder: s.embedder})
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

// TestHealth tests the health and readiness endpoints.
func (s *HandlerSuite) TestHealth() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/health", nil)
	s.Equal(http.StatusOK, rr.Code)
	body := decodeBody[map[string]any](s.T(), rr)
	s.Equal("ready", body["status"])
	s.Equal("test", body["version"])

	rr = do(s.T(), s.svc, "GET", "/api/ready", nil)
	s.Equal(http.StatusOK, rr.Code)
}

// TestSeedFromStore tests that stored items become bodies at startup.
func (s *HandlerSuite) TestSeedFromStore() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/api/workspaces/ws-1/physics/state", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	state := decodeBody[PhysicsStateResponse](s.T(), rr)
	s.Equal("ws-1", state.WorkspaceID)
	s.Len(state.Bodies, 6)
	s.Empty(state.Members)

	bodies := map[string]physics.Body{}
	for _, b := range state.Bodies {
		bodies[b.ID] = b
	}
	s.InDelta(50.0, bodies["b"].X, 1e-9)
	s.Equal([]float32{0, 0, 1}, bodies["d"].Embedding)
}

// TestSeedAppliesWorkspaceOverrides tests stored per-workspace physics settings.
func (s *HandlerSuite) TestSeedAppliesWorkspaceOverrides() {
	seedWorkspace(s.T(), s.store, "ws-2", 1234, 0.5)
	seedItem(s.T(), s.store, "z", "ws-2", nil, 0, 0)
	s.start()

	state := decodeBody[PhysicsStateResponse](s.T(), do(s.T(), s.svc, "GET", "/api/workspaces/ws-2/physics/state", nil))
	s.InDelta(1234.0, state.Config.GravityStrength, 1e-9)
	s.InDelta(0.5, state.Config.SimilarityThreshold, 1e-9)
	s.InDelta(physics.DefaultRepulsionStrength, state.Config.RepulsionStrength, 1e-9)
}

// TestPhysicsStateUnknownWorkspace tests that unknown workspaces are empty, not errors.
func (s *HandlerSuite) TestPhysicsStateUnknownWorkspace() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/api/workspaces/nobody/physics/state", nil)
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), `"bodies":[]`)
}

// TestInvalidWorkspaceID tests workspace id validation.
func (s *HandlerSuite) TestInvalidWorkspaceID() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/api/workspaces/bad.id/physics/state", nil)
	s.Equal(http.StatusBadRequest, rr.Code)

	rr = do(s.T(), s.svc, "GET", "/api/clusters/workspace/bad.id", nil)
	s.Equal(http.StatusBadRequest, rr.Code)
}

// TestAddBody tests explicit placement and defaults.
func (s *HandlerSuite) TestAddBody() {
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/workspaces/ws-3/physics/bodies", AddBodyRequest{
		ID: "n1", X: ptr(10.0), Y: ptr(20.0),
	})
	s.Require().Equal(http.StatusCreated, rr.Code)
	body := decodeBody[physics.Body](s.T(), rr)
	s.Equal("n1", body.ID)
	s.InDelta(10.0, body.X, 1e-9)
	s.InDelta(20.0, body.Y, 1e-9)
	s.InDelta(physics.DefaultMass, body.Mass, 1e-9)
	s.InDelta(physics.DefaultRadius, body.Radius, 1e-9)

	engine, ok := s.svc.registry.Lookup("ws-3")
	s.Require().True(ok)
	s.Equal(1, engine.Len())
}

// TestAddBodyRequiresID tests body validation.
func (s *HandlerSuite) TestAddBodyRequiresID() {
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/bodies", AddBodyRequest{})
	s.Equal(http.StatusBadRequest, rr.Code)

	req := do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/bodies", "not an object")
	s.Equal(http.StatusBadRequest, req.Code)
}

// TestAddBodyEmbedsText tests embedding generation, persistence and
// similarity-based placement.
func (s *HandlerSuite) TestAddBodyEmbedsText() {
	seedItem(s.T(), s.store, "g", "ws-1", nil, 0, 0)
	s.start()
	s.svc.registry.For("ws-1").Remove("g")

	rr := do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/bodies", AddBodyRequest{ID: "g", Text: "pasta"})
	s.Require().Equal(http.StatusCreated, rr.Code)
	body := decodeBody[physics.Body](s.T(), rr)
	s.Equal([]float32{1, 0, 0}, body.Embedding)
	s.Equal(1, s.embedder.calls)

	// Placed near the a/b/c group, within placement jitter.
	s.Less(body.X, 50.0+physics.DefaultPlacementJitter+1)
	s.Less(body.Y, 50.0+physics.DefaultPlacementJitter+1)

	stored, err := gormdb.NewItemStore(s.store).GetItem(context.Background(), "g")
	s.Require().NoError(err)
	s.Equal(models.Vector{1, 0, 0}, stored.Embedding)
}

// TestAddBodyEmbedderFailure tests that embedding errors degrade to no embedding.
func (s *HandlerSuite) TestAddBodyEmbedderFailure() {
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/bodies", AddBodyRequest{ID: "x", Text: "unknown text", X: ptr(1.0), Y: ptr(1.0)})
	s.Require().Equal(http.StatusCreated, rr.Code)
	s.Empty(decodeBody[physics.Body](s.T(), rr).Embedding)
}

// TestRemoveBody tests removal and idempotence.
func (s *HandlerSuite) TestRemoveBody() {
	s.start()

	rr := do(s.T(), s.svc, "DELETE", "/api/workspaces/ws-1/physics/bodies/a", nil)
	s.Equal(http.StatusNoContent, rr.Code)

	engine, _ := s.svc.registry.Lookup("ws-1")
	_, ok := engine.Get("a")
	s.False(ok)

	rr = do(s.T(), s.svc, "DELETE", "/api/workspaces/ws-1/physics/bodies/a", nil)
	s.Equal(http.StatusNoContent, rr.Code)
	rr = do(s.T(), s.svc, "DELETE", "/api/workspaces/none/physics/bodies/a", nil)
	s.Equal(http.StatusNoContent, rr.Code)
}

// TestRepositionBody tests position reset and persistence.
func (s *HandlerSuite) TestRepositionBody() {
	s.start()

	rr := do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/bodies/d/position", PositionRequest{X: ptr(-5.0), Y: ptr(7.0)})
	s.Require().Equal(http.StatusOK, rr.Code)
	body := decodeBody[physics.Body](s.T(), rr)
	s.InDelta(-5.0, body.X, 1e-9)
	s.Zero(body.VX)
	s.Zero(body.VY)

	stored, err := gormdb.NewItemStore(s.store).GetItem(context.Background(), "d")
	s.Require().NoError(err)
	s.InDelta(-5.0, stored.PositionX, 1e-9)
	s.InDelta(7.0, stored.PositionY, 1e-9)
}

// TestRepositionErrors tests missing coordinates and unknown bodies.
func (s *HandlerSuite) TestRepositionErrors() {
	s.start()

	rr := do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/bodies/a/position", map[string]float64{"x": 1})
	s.Equal(http.StatusBadRequest, rr.Code)

	rr = do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/bodies/ghost/position", PositionRequest{X: ptr(1.0), Y: ptr(1.0)})
	s.Equal(http.StatusNotFound, rr.Code)

	rr = do(s.T(), s.svc, "PUT", "/api/workspaces/none/physics/bodies/a/position", PositionRequest{X: ptr(1.0), Y: ptr(1.0)})
	s.Equal(http.StatusNotFound, rr.Code)
}

// TestNeighbors tests neighbor queries with defaults and explicit bounds.
func (s *HandlerSuite) TestNeighbors() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/api/workspaces/ws-1/items/a/neighbors", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	resp := decodeBody[NeighborsResponse](s.T(), rr)
	s.Equal("a", resp.ItemID)

	ids := make([]string, len(resp.Neighbors))
	for i, n := range resp.Neighbors {
		ids[i] = n.ID
	}
	s.ElementsMatch([]string{"b", "c"}, ids)

	rr = do(s.T(), s.svc, "GET", "/api/workspaces/ws-1/items/a/neighbors?max_distance=10", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), `"neighbors":[]`)
}

// TestNeighborsErrors tests unknown items and malformed query values.
func (s *HandlerSuite) TestNeighborsErrors() {
	s.start()

	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "GET", "/api/workspaces/ws-1/items/ghost/neighbors", nil).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "GET", "/api/workspaces/none/items/a/neighbors", nil).Code)
	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "GET", "/api/workspaces/ws-1/items/a/neighbors?min_similarity=high", nil).Code)
}

// TestSuggestPosition tests placement against explicit candidates and the
// workspace's own bodies.
func (s *HandlerSuite) TestSuggestPosition() {
	s.start()

	candidates := []physics.Candidate{{Embedding: []float32{1, 0}, X: 300, Y: 300}}
	rr := do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/suggest", SuggestRequest{
		Embedding:  []float32{1, 0},
		Candidates: &candidates,
	})
	s.Require().Equal(http.StatusOK, rr.Code)
	pos := decodeBody[SuggestResponse](s.T(), rr)
	s.InDelta(300.0, pos.X, physics.DefaultPlacementJitter)
	s.InDelta(300.0, pos.Y, physics.DefaultPlacementJitter)

	rr = do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/suggest", SuggestRequest{Text: "pizza"})
	s.Require().Equal(http.StatusOK, rr.Code)
	pos = decodeBody[SuggestResponse](s.T(), rr)
	s.Less(pos.X, 50.0+physics.DefaultPlacementJitter+1)

	rr = do(s.T(), s.svc, "POST", "/api/workspaces/ws-1/physics/suggest", SuggestRequest{})
	s.Equal(http.StatusBadRequest, rr.Code)
}

// TestUpdatePhysicsSettings tests per-workspace overrides.
func (s *HandlerSuite) TestUpdatePhysicsSettings() {
	s.start()

	rr := do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/settings", PhysicsSettingsRequest{GravityStrength: ptr(2500.0)})
	s.Require().Equal(http.StatusOK, rr.Code)

	engine, _ := s.svc.registry.Lookup("ws-1")
	s.InDelta(2500.0, engine.Config().GravityStrength, 1e-9)

	ws, err := gormdb.NewWorkspaceStore(s.store).GetWorkspace(context.Background(), "ws-1")
	s.Require().NoError(err)
	s.InDelta(2500.0, ws.GravityStrength, 1e-9)

	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/settings", PhysicsSettingsRequest{SimilarityThreshold: ptr(1.5)}).Code)
	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/settings", PhysicsSettingsRequest{GravityStrength: ptr(-1.0)}).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "PUT", "/api/workspaces/ghost/physics/settings", PhysicsSettingsRequest{GravityStrength: ptr(1.0)}).Code)
}

// TestUpdatePhysicsSettingsThresholdRange tests that only thresholds the
// engine runs unchanged are accepted.
func (s *HandlerSuite) TestUpdatePhysicsSettingsThresholdRange() {
	s.start()
	put := func(threshold float64) int {
		return do(s.T(), s.svc, "PUT", "/api/workspaces/ws-1/physics/settings", PhysicsSettingsRequest{SimilarityThreshold: ptr(threshold)}).Code
	}

	s.Equal(http.StatusBadRequest, put(1.0))
	s.Equal(http.StatusBadRequest, put(0.0))

	s.Require().Equal(http.StatusOK, put(0.99))
	engine, _ := s.svc.registry.Lookup("ws-1")
	s.Equal(0.99, engine.Config().SimilarityThreshold)

	ws, err := gormdb.NewWorkspaceStore(s.store).GetWorkspace(context.Background(), "ws-1")
	s.Require().NoError(err)
	s.Equal(0.99, ws.SimilarityThreshold)
}

// TestClusteringItemsUseOneSnapshot tests that live positions handed to
// clustering all come from the same simulation step.
func (s *HandlerSuite) TestClusteringItemsUseOneSnapshot() {
	s.start()
	cfg := physics.DefaultConfig()
	cfg.Damping = 0.999
	s.svc.registry.SetConfig(cfg)

	var rows []*models.Item
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("live-%02d", i)
		s.svc.registry.AddBody("ws-live", physics.Body{ID: id, Y: float64(i) * 1000, VX: 10})
		rows = append(rows, &models.Item{ID: id, WorkspaceID: "ws-live"})
	}
	engine := s.svc.registry.For("ws-live")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				engine.Step()
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	for n := 0; n < 200; n++ {
		items := s.svc.clusteringItems("ws-live", rows)
		for _, it := range items[1:] {
			s.Require().Equal(items[0].X, it.X, "item %s read from a different step", it.ID)
		}
	}
}

// TestRoomCloseDropsEmptyEngine tests that closing a room releases an engine
// with no bodies and keeps seeded ones.
func (s *HandlerSuite) TestRoomCloseDropsEmptyEngine() {
	s.start()

	s.svc.rooms.Join("c1", "ws-empty", "Ada")
	s.svc.registry.For("ws-empty")
	s.svc.rooms.Join("c2", "ws-1", "Grace")

	s.True(s.svc.rooms.Leave("c1", "ws-empty"))
	s.Equal("ws-1", s.svc.rooms.Disconnect("c2"))

	_, ok := s.svc.registry.Lookup("ws-empty")
	s.False(ok)
	engine, ok := s.svc.registry.Lookup("ws-1")
	s.Require().True(ok)
	s.Equal(6, engine.Len())
}

// TestComputeClusters tests a K-means run end to end.
func (s *HandlerSuite) TestComputeClusters() {
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", map[string]any{
		"algorithm":  "kmeans",
		"n_clusters": 2,
	})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	clusters := decodeBody[[]models.Cluster](s.T(), rr)
	s.Require().Len(clusters, 2)

	groups := make([][]string, 0, 2)
	for _, c := range clusters {
		s.NotEmpty(c.ID)
		s.NotEmpty(c.Name)
		s.True(c.IsAutoGenerated)
		groups = append(groups, c.ItemIDs)
	}
	s.ElementsMatch([][]string{{"a", "b", "c"}, {"d", "e", "f"}}, sortedGroups(groups))

	// Bodies carry their new cluster.
	engine, _ := s.svc.registry.Lookup("ws-1")
	a, _ := engine.Get("a")
	b, _ := engine.Get("b")
	d, _ := engine.Get("d")
	s.NotEmpty(a.ClusterID)
	s.Equal(a.ClusterID, b.ClusterID)
	s.NotEqual(a.ClusterID, d.ClusterID)

	listed := decodeBody[[]models.Cluster](s.T(), do(s.T(), s.svc, "GET", "/api/clusters/workspace/ws-1", nil))
	s.Len(listed, 2)
}

// TestComputeReplacesPreviousRun tests that recomputing discards old auto clusters.
func (s *HandlerSuite) TestComputeReplacesPreviousRun() {
	s.start()

	req := map[string]any{"algorithm": "kmeans", "n_clusters": 2}
	first := decodeBody[[]models.Cluster](s.T(), do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", req))
	second := decodeBody[[]models.Cluster](s.T(), do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", req))
	s.Require().Len(first, 2)
	s.Require().Len(second, 2)
	s.NotEqual(first[0].ID, second[0].ID)

	listed := decodeBody[[]models.Cluster](s.T(), do(s.T(), s.svc, "GET", "/api/clusters/workspace/ws-1", nil))
	s.Len(listed, 2)
}

// TestComputeInvalidRequest tests validation errors map to 400.
func (s *HandlerSuite) TestComputeInvalidRequest() {
	s.start()

	tests := []map[string]any{
		{"algorithm": "spectral"},
		{"algorithm": "dbscan", "eps": 5.0},
		{"algorithm": "dbscan", "min_samples": 0},
		{"algorithm": "kmeans", "n_clusters": 1},
	}
	for _, req := range tests {
		rr := do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", req)
		s.Equal(http.StatusBadRequest, rr.Code, fmt.Sprint(req))
	}
}

// TestComputeTooFewItems tests that workspaces with under two embedded items
// return an empty list.
func (s *HandlerSuite) TestComputeTooFewItems() {
	seedItem(s.T(), s.store, "solo", "ws-solo", []float32{1, 0}, 0, 0)
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-solo/compute", map[string]any{"algorithm": "dbscan"})
	s.Require().Equal(http.StatusOK, rr.Code)
	s.JSONEq(`[]`, rr.Body.String())
}

// TestComputeCooldown tests the per-workspace compute cooldown.
func (s *HandlerSuite) TestComputeCooldown() {
	s.cfg.ClusterCooldown = time.Minute
	s.start()

	req := map[string]any{"algorithm": "kmeans", "n_clusters": 2}
	s.Equal(http.StatusOK, do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", req).Code)

	rr := do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1/compute", req)
	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.NotEmpty(rr.Header().Get("Retry-After"))
}

// TestManualClusterLifecycle tests create, patch, membership and delete.
func (s *HandlerSuite) TestManualClusterLifecycle() {
	s.start()

	rr := do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1", CreateClusterRequest{
		Name: "Hand drawn", ItemIDs: []string{"a", "d"}, CenterX: 10, CenterY: 10, Radius: 300,
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[models.Cluster](s.T(), rr)
	s.False(created.IsAutoGenerated)
	s.NotEmpty(created.Color)
	s.ElementsMatch([]string{"a", "d"}, created.ItemIDs)

	engine, _ := s.svc.registry.Lookup("ws-1")
	a, _ := engine.Get("a")
	s.Equal(created.ID, a.ClusterID)

	path := "/api/clusters/" + created.ID
	rr = do(s.T(), s.svc, "PATCH", path, UpdateClusterRequest{Name: ptr("Renamed")})
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal("Renamed", decodeBody[models.Cluster](s.T(), rr).Name)

	rr = do(s.T(), s.svc, "POST", path+"/items/b", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.ElementsMatch([]string{"a", "b", "d"}, decodeBody[models.Cluster](s.T(), rr).ItemIDs)

	rr = do(s.T(), s.svc, "DELETE", path+"/items/a", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.ElementsMatch([]string{"b", "d"}, decodeBody[models.Cluster](s.T(), rr).ItemIDs)
	a, _ = engine.Get("a")
	s.Empty(a.ClusterID)

	s.Equal(http.StatusOK, do(s.T(), s.svc, "GET", path, nil).Code)
	s.Equal(http.StatusNoContent, do(s.T(), s.svc, "DELETE", path, nil).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "GET", path, nil).Code)

	b, _ := engine.Get("b")
	s.Empty(b.ClusterID)
}

// TestManualClusterValidation tests create and patch validation.
func (s *HandlerSuite) TestManualClusterValidation() {
	s.start()

	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1", CreateClusterRequest{}).Code)
	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "POST", "/api/clusters/workspace/ws-1", CreateClusterRequest{Name: "x", Radius: -1}).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "PATCH", "/api/clusters/ghost", UpdateClusterRequest{Name: ptr("x")}).Code)
	s.Equal(http.StatusBadRequest, do(s.T(), s.svc, "PATCH", "/api/clusters/ghost", UpdateClusterRequest{Name: ptr("")}).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "DELETE", "/api/clusters/ghost", nil).Code)
	s.Equal(http.StatusNotFound, do(s.T(), s.svc, "POST", "/api/clusters/ghost/items/a", nil).Code)
}

// TestStats tests the stats endpoint.
func (s *HandlerSuite) TestStats() {
	s.start()

	rr := do(s.T(), s.svc, "GET", "/api/stats", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	stats := decodeBody[map[string]any](s.T(), rr)
	s.Contains(stats, "realtime")
	s.Contains(stats, "requests")
	s.Contains(stats, "database")
	s.Equal(false, stats["namer_enabled"])
	s.Contains(stats["workspaces"], "ws-1")
}

// TestTokenAuth tests that a configured API token guards the API but not health.
func (s *HandlerSuite) TestTokenAuth() {
	s.cfg.APIToken = "s3cret"
	s.start()

	s.Equal(http.StatusOK, do(s.T(), s.svc, "GET", "/health", nil).Code)
	s.Equal(http.StatusUnauthorized, do(s.T(), s.svc, "GET", "/api/stats", nil).Code)
	s.Equal(http.StatusOK, do(s.T(), s.svc, "GET", "/api/stats?token=s3cret", nil).Code)
}

// TestReloadPhysics tests hot reload of physics tunables from the settings file.
func (s *HandlerSuite) TestReloadPhysics() {
	s.start()

	path := filepath.Join(s.T().TempDir(), "settings.json")
	s.Require().NoError(os.WriteFile(path, []byte(`{"SYNAPSE_PHYSICS_DAMPING": 0.5}`), 0600))

	s.svc.reloadPhysics(path)
	s.InDelta(0.5, s.svc.registry.Config().Damping, 1e-9)

	engine, _ := s.svc.registry.Lookup("ws-1")
	s.InDelta(0.5, engine.Config().Damping, 1e-9)
}

func sortedGroups(groups [][]string) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		cp := append([]string(nil), g...)
		for j := 1; j < len(cp); j++ {
			for k := j; k > 0 && cp[k] < cp[k-1]; k-- {
				cp[k], cp[k-1] = cp[k-1], cp[k]
			}
		}
		out[i] = cp
	}
	return out
}

// TestInitFailure tests that a failed store open is reported by readiness.
func TestInitFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "dir", "test.db")

	svc := NewService("test", cfg, Dependencies{}, zerolog.Nop())
	defer func() { _ = svc.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, svc.WaitReady(ctx))

	rr := do(t, svc, "GET", "/api/ready", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = do(t, svc, "GET", "/api/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = do(t, svc, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"error"`)
}

// TestCheckpointPersistsLivePositions tests that simulated positions reach the store.
func TestCheckpointPersistsLivePositions(t *testing.T) {
	store := testStore(t)
	seedItem(t, store, "a", "ws-1", []float32{1, 0}, 0, 0)

	cfg := testConfig(t)
	cfg.CheckpointInterval = time.Hour
	svc := startService(t, cfg, Dependencies{Store: store})

	engine, ok := svc.registry.Lookup("ws-1")
	require.True(t, ok)
	engine.Reposition("a", 123, 456)

	saved, err := svc.checkpoint.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved)

	item, err := gormdb.NewItemStore(store).GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.InDelta(t, 123, item.PositionX, 1)
	assert.InDelta(t, 456, item.PositionY, 1)

	rr := do(t, svc, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"checkpoint"`)
}
