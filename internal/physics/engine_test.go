package physics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// EngineSuite is a test suite for Engine operations.
type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func (s *EngineSuite) SetupTest() {
	s.engine = NewEngine(DefaultConfig(), WithRand(rand.New(rand.NewPCG(1, 2))))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func distance(a, b Body) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// TestAddDefaults tests mass and radius defaults.
func (s *EngineSuite) TestAddDefaults() {
	s.engine.Add(Body{ID: "a", Mass: 0})
	s.engine.Add(Body{ID: "b", Mass: -3, Radius: 10})

	a, ok := s.engine.Get("a")
	s.Require().True(ok)
	s.Equal(DefaultMass, a.Mass)
	s.Equal(DefaultRadius, a.Radius)

	b, ok := s.engine.Get("b")
	s.Require().True(ok)
	s.Equal(DefaultMass, b.Mass)
	s.Equal(10.0, b.Radius)
}

// TestAddUpsert tests that adding an existing id replaces the body.
func (s *EngineSuite) TestAddUpsert() {
	s.engine.Add(Body{ID: "a", X: 1, Y: 1})
	s.engine.Add(Body{ID: "a", X: 5, Y: 6, Mass: 2})

	s.Equal(1, s.engine.Len())
	a, _ := s.engine.Get("a")
	s.Equal(5.0, a.X)
	s.Equal(6.0, a.Y)
	s.Equal(2.0, a.Mass)
}

// TestRemove tests removal and no-op removal.
func (s *EngineSuite) TestRemove() {
	s.engine.Add(Body{ID: "a"})
	s.engine.Remove("missing")
	s.Equal(1, s.engine.Len())

	s.engine.Remove("a")
	s.Equal(0, s.engine.Len())
	_, ok := s.engine.Get("a")
	s.False(ok)
}

// TestReposition tests that repositioning zeroes velocity.
func (s *EngineSuite) TestReposition() {
	s.engine.Add(Body{ID: "a", VX: 4, VY: -2})
	s.engine.Reposition("a", 100, 200)
	s.engine.Reposition("missing", 1, 1)

	a, _ := s.engine.Get("a")
	s.Equal(100.0, a.X)
	s.Equal(200.0, a.Y)
	s.Zero(a.VX)
	s.Zero(a.VY)
	s.Equal(1, s.engine.Len())
}

// TestSnapshotSorted tests that snapshots are ordered by id and detached.
func (s *EngineSuite) TestSnapshotSorted() {
	s.engine.Add(Body{ID: "c", Embedding: []float32{1, 0}})
	s.engine.Add(Body{ID: "a"})
	s.engine.Add(Body{ID: "b"})

	snap := s.engine.Snapshot()
	s.Require().Len(snap, 3)
	s.Equal("a", snap[0].ID)
	s.Equal("b", snap[1].ID)
	s.Equal("c", snap[2].ID)

	snap[2].Embedding[0] = 42
	c, _ := s.engine.Get("c")
	s.Equal(float32(1), c.Embedding[0])
}

// TestStepEmpty tests stepping an empty engine.
func (s *EngineSuite) TestStepEmpty() {
	s.Empty(s.engine.Step())
}

// TestSpeedNeverExceedsMax tests the velocity cap over many ticks.
func (s *EngineSuite) TestSpeedNeverExceedsMax() {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 30; i++ {
		emb := []float32{float32(rng.Float64()), float32(rng.Float64()), float32(rng.Float64())}
		s.engine.Add(Body{
			ID:        fmt.Sprintf("b%02d", i),
			X:         rng.Float64()*400 - 200,
			Y:         rng.Float64()*400 - 200,
			Embedding: emb,
		})
	}

	for tick := 0; tick < 200; tick++ {
		for id, u := range s.engine.Step() {
			speed := math.Hypot(u.VX, u.VY)
			s.LessOrEqual(speed, DefaultMaxVelocity, "body %s at tick %d", id, tick)
		}
	}
}

// TestClampSpeedExact tests that clamped velocities never exceed the limit,
// even when limit/speed rounds up.
func TestClampSpeedExact(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10000; i++ {
		vx := rng.Float64()*200 - 100
		vy := rng.Float64()*200 - 100
		speed := math.Hypot(vx, vy)
		if speed <= DefaultMaxVelocity {
			continue
		}
		x, y := clampSpeed(vx, vy, speed, DefaultMaxVelocity)
		require.LessOrEqual(t, math.Hypot(x, y), DefaultMaxVelocity, "velocity (%v, %v)", vx, vy)
		require.InDelta(t, DefaultMaxVelocity, math.Hypot(x, y), 1e-9)
		require.Equal(t, math.Signbit(vx), math.Signbit(x))
		require.Equal(t, math.Signbit(vy), math.Signbit(y))
	}
}

// TestNoAttractionWithoutEmbeddings tests that bodies beyond repulsion range
// and without embeddings never move.
func (s *EngineSuite) TestNoAttractionWithoutEmbeddings() {
	s.engine.Add(Body{ID: "a", X: 0, Y: 0})
	s.engine.Add(Body{ID: "b", X: 300, Y: 0, Embedding: []float32{1, 0}})

	for i := 0; i < 10; i++ {
		updates := s.engine.Step()
		s.Equal(Update{X: 0, Y: 0}, updates["a"])
		s.Equal(Update{X: 300, Y: 0}, updates["b"])
	}
}

// TestAttractionPullsSimilarBodies tests that similar bodies approach each other.
func (s *EngineSuite) TestAttractionPullsSimilarBodies() {
	s.engine.Add(Body{ID: "a", X: 0, Y: 0, Embedding: []float32{1, 0.1}})
	s.engine.Add(Body{ID: "b", X: 400, Y: 0, Embedding: []float32{1, 0.1}})

	updates := s.engine.Step()
	s.Greater(updates["a"].X, 0.0)
	s.Less(updates["b"].X, 400.0)
	s.Zero(updates["a"].Y)
}

// TestDissimilarBodiesIgnoreEachOther tests the similarity threshold gate.
func (s *EngineSuite) TestDissimilarBodiesIgnoreEachOther() {
	s.engine.Add(Body{ID: "a", X: 0, Y: 0, Embedding: []float32{1, 0}})
	s.engine.Add(Body{ID: "b", X: 400, Y: 0, Embedding: []float32{-1, 0}})

	updates := s.engine.Step()
	s.Equal(Update{X: 0, Y: 0}, updates["a"])
	s.Equal(Update{X: 400, Y: 0}, updates["b"])
}

// TestZeroEmbeddingIsRepulsionOnly tests that a zero-norm embedding never attracts.
func (s *EngineSuite) TestZeroEmbeddingIsRepulsionOnly() {
	s.engine.Add(Body{ID: "a", X: 0, Y: 0, Embedding: []float32{0, 0}})
	s.engine.Add(Body{ID: "b", X: 300, Y: 0, Embedding: []float32{0, 0}})

	updates := s.engine.Step()
	s.Equal(Update{X: 0, Y: 0}, updates["a"])
}

// TestRepulsionSeparatesCloseBodies tests that overlapping bodies push apart.
func (s *EngineSuite) TestRepulsionSeparatesCloseBodies() {
	s.engine.Add(Body{ID: "a", X: 0, Y: 0})
	s.engine.Add(Body{ID: "b", X: 10, Y: 0})

	updates := s.engine.Step()
	s.Less(updates["a"].X, 0.0)
	s.Greater(updates["b"].X, 10.0)
}

// TestNeighbors tests neighbor filtering and ordering.
func (s *EngineSuite) TestNeighbors() {
	s.engine.Add(Body{ID: "self", X: 0, Y: 0, Embedding: []float32{1, 0}})
	s.engine.Add(Body{ID: "close-similar", X: 50, Y: 0, Embedding: []float32{1, 0.05}})
	s.engine.Add(Body{ID: "close-less", X: 0, Y: 80, Embedding: []float32{1, 0.6}})
	s.engine.Add(Body{ID: "far", X: 1000, Y: 0, Embedding: []float32{1, 0}})
	s.engine.Add(Body{ID: "opposite", X: 10, Y: 10, Embedding: []float32{-1, 0}})
	s.engine.Add(Body{ID: "plain", X: 5, Y: 5})

	neighbors := s.engine.Neighbors("self", 500, 0.6)
	s.Require().Len(neighbors, 2)
	s.Equal("close-similar", neighbors[0].ID)
	s.Equal("close-less", neighbors[1].ID)
	s.GreaterOrEqual(neighbors[0].Similarity, neighbors[1].Similarity)
	s.InDelta(50.0, neighbors[0].Distance, 1e-9)

	for _, n := range neighbors {
		s.NotEqual("self", n.ID)
	}
}

// TestNeighborsZeroMinSimilarity tests that bodies without embeddings qualify
// when the minimum similarity is zero.
func (s *EngineSuite) TestNeighborsZeroMinSimilarity() {
	s.engine.Add(Body{ID: "self"})
	s.engine.Add(Body{ID: "plain", X: 5})

	neighbors := s.engine.Neighbors("self", 500, 0)
	s.Require().Len(neighbors, 1)
	s.Equal("plain", neighbors[0].ID)
	s.Zero(neighbors[0].Similarity)
}

// TestNeighborsUnknown tests that an unknown id yields nothing.
func (s *EngineSuite) TestNeighborsUnknown() {
	s.Empty(s.engine.Neighbors("missing", 500, 0))
}

// TestSuggestPositionOrigin tests the fallback when nothing carries an embedding.
func (s *EngineSuite) TestSuggestPositionOrigin() {
	x, y := s.engine.SuggestPosition([]float32{1, 0}, nil)
	s.Zero(x)
	s.Zero(y)

	x, y = s.engine.SuggestPosition([]float32{1, 0}, []Candidate{{X: 100, Y: 100}})
	s.Zero(x)
	s.Zero(y)
}

// TestSuggestPositionJitterBounds tests that jitter stays within range.
func (s *EngineSuite) TestSuggestPositionJitterBounds() {
	candidates := []Candidate{{Embedding: []float32{1, 0}, X: 200, Y: -100}}
	for i := 0; i < 100; i++ {
		x, y := s.engine.SuggestPosition([]float32{1, 0}, candidates)
		s.InDelta(200.0, x, DefaultPlacementJitter)
		s.InDelta(-100.0, y, DefaultPlacementJitter)
	}
}

func TestSuggestPositionWeightedTopK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlacementJitter = 0
	engine := NewEngine(cfg)

	candidates := []Candidate{
		{Embedding: []float32{1, 0}, X: 100, Y: 0},
		{Embedding: []float32{1, 0}, X: 0, Y: 100},
		{Embedding: []float32{1, 0}, X: 100, Y: 100},
		{Embedding: []float32{-1, 0}, X: 10000, Y: 10000},
	}
	x, y := engine.SuggestPosition([]float32{1, 0}, candidates)

	// The opposite candidate falls outside the top three.
	assert.InDelta(t, 200.0/3, x, 1e-6)
	assert.InDelta(t, 200.0/3, y, 1e-6)
}

func TestSuggestFromBodies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlacementJitter = 0
	engine := NewEngine(cfg)
	engine.Add(Body{ID: "a", X: 40, Y: 60, Embedding: []float32{0, 1}})
	engine.Add(Body{ID: "b", X: 999, Y: 999})

	x, y := engine.Suggest([]float32{0, 1})
	assert.InDelta(t, 40.0, x, 1e-6)
	assert.InDelta(t, 60.0, y, 1e-6)
}

func TestCoincidentBodiesSeparateWithinRepulsionRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepulsionStrength = 20
	engine := NewEngine(cfg)
	engine.Add(Body{ID: "a"})
	engine.Add(Body{ID: "b"})

	prev := 0.0
	for i := 0; i < 500; i++ {
		engine.Step()
		a, _ := engine.Get("a")
		b, _ := engine.Get("b")
		d := distance(a, b)
		require.GreaterOrEqual(t, d, prev-1e-9, "tick %d", i)
		require.LessOrEqual(t, d, DefaultMinRepulsionDistance, "tick %d", i)
		prev = d
	}
	assert.Greater(t, prev, 80.0)
}

func TestSetConfigKeepsBodies(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	engine.Add(Body{ID: "a", X: 3})

	cfg := DefaultConfig()
	cfg.GravityStrength = 1
	engine.SetConfig(cfg)

	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, 1.0, engine.Config().GravityStrength)
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{Damping: 2, SimilarityThreshold: 1, MaxVelocity: -1}
	engine := NewEngine(cfg)

	got := engine.Config()
	assert.Equal(t, DefaultDamping, got.Damping)
	assert.Equal(t, DefaultSimilarityThreshold, got.SimilarityThreshold)
	assert.Equal(t, DefaultMaxVelocity, got.MaxVelocity)
	assert.Equal(t, DefaultTimeStep, got.TimeStep)
}

func TestSetCluster(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	engine.Add(Body{ID: "a"})
	engine.SetCluster("a", "cluster-0")
	engine.SetCluster("missing", "cluster-0")

	a, _ := engine.Get("a")
	assert.Equal(t, "cluster-0", a.ClusterID)
}
