package physics

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/thebtf/synapse/pkg/similarity"
)

// Body is one simulated item.
type Body struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	VX        float64   `json:"vx"`
	VY        float64   `json:"vy"`
	Mass      float64   `json:"mass"`
	Radius    float64   `json:"radius"`
	Embedding []float32 `json:"embedding,omitempty"`
	ClusterID string    `json:"cluster_id,omitempty"`
}

// Update is the post-step state of a body as sent to clients.
type Update struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Neighbor is a nearby body returned by Engine.Neighbors.
type Neighbor struct {
	ID         string  `json:"id"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// Candidate is an existing item considered by SuggestPosition.
type Candidate struct {
	Embedding []float32 `json:"embedding"`
	X         float64   `json:"position_x"`
	Y         float64   `json:"position_y"`
}

type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Engine owns the bodies of one workspace and advances them under a single lock.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	bodies map[string]*Body
	order  []string // sorted body ids
	sims   map[pairKey]float64
	rng    *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source used for placement jitter.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// NewEngine creates an empty engine with the given configuration.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.normalized(),
		bodies: make(map[string]*Body),
		sims:   make(map[pairKey]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetConfig replaces the force constants. Bodies are kept.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.normalized()
}

// Add inserts a body or replaces the body with the same id.
func (e *Engine) Add(b Body) {
	if b.Mass <= 0 || math.IsNaN(b.Mass) {
		b.Mass = DefaultMass
	}
	if b.Radius <= 0 {
		b.Radius = DefaultRadius
	}
	if len(b.Embedding) > 0 {
		b.Embedding = slices.Clone(b.Embedding)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.bodies[b.ID]; exists {
		e.forgetSimilarities(b.ID)
	} else {
		i, _ := slices.BinarySearch(e.order, b.ID)
		e.order = slices.Insert(e.order, i, b.ID)
	}
	e.bodies[b.ID] = &b
}

// Remove deletes a body. Unknown ids are ignored.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.bodies[id]; !ok {
		return
	}
	delete(e.bodies, id)
	if i, found := slices.BinarySearch(e.order, id); found {
		e.order = slices.Delete(e.order, i, i+1)
	}
	e.forgetSimilarities(id)
}

// Reposition moves a body and brings it to rest. It reports false for
// unknown ids.
func (e *Engine) Reposition(id string, x, y float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.bodies[id]
	if !ok {
		return false
	}
	b.X, b.Y = x, y
	b.VX, b.VY = 0, 0
	return true
}

// SetCluster records the cluster a body belongs to. Unknown ids are ignored.
func (e *Engine) SetCluster(id, clusterID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.bodies[id]; ok {
		b.ClusterID = clusterID
	}
}

// Get returns a copy of a body.
func (e *Engine) Get(id string) (Body, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.bodies[id]
	if !ok {
		return Body{}, false
	}
	return copyBody(b), true
}

// Snapshot returns copies of all bodies sorted by id.
func (e *Engine) Snapshot() []Body {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Body, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, copyBody(e.bodies[id]))
	}
	return out
}

// Len returns the number of bodies.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

// Step advances the simulation by one time step and returns the new state of
// every body. Forces are computed from the positions at the start of the step.
func (e *Engine) Step() map[string]Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.cfg
	forces := make([][2]float64, len(e.order))
	for i, id := range e.order {
		forces[i][0], forces[i][1] = e.netForce(e.bodies[id])
	}

	updates := make(map[string]Update, len(e.order))
	for i, id := range e.order {
		b := e.bodies[id]

		b.VX += forces[i][0] / b.Mass * cfg.TimeStep
		b.VY += forces[i][1] / b.Mass * cfg.TimeStep

		b.VX *= cfg.Damping
		b.VY *= cfg.Damping

		speed := math.Hypot(b.VX, b.VY)
		switch {
		case speed < cfg.RestSpeed || math.IsNaN(speed):
			b.VX, b.VY = 0, 0
		case speed > cfg.MaxVelocity:
			b.VX, b.VY = clampSpeed(b.VX, b.VY, speed, cfg.MaxVelocity)
		}

		b.X += b.VX * cfg.TimeStep * cfg.ScaleFactor
		b.Y += b.VY * cfg.TimeStep * cfg.ScaleFactor

		updates[id] = Update{X: b.X, Y: b.Y, VX: b.VX, VY: b.VY}
	}
	return updates
}

// netForce sums repulsion and similarity attraction on b from every other body.
// Caller must hold e.mu.
// clampSpeed rescales a velocity to at most limit. Rounding in limit/speed can
// leave the result an ulp above limit, so the scale is nudged down until the
// magnitude fits.
func clampSpeed(vx, vy, speed, limit float64) (float64, float64) {
	scale := limit / speed
	for {
		x, y := vx*scale, vy*scale
		if math.Hypot(x, y) <= limit {
			return x, y
		}
		scale = math.Nextafter(scale, 0)
	}
}

func (e *Engine) netForce(b *Body) (fx, fy float64) {
	cfg := e.cfg
	for _, otherID := range e.order {
		if otherID == b.ID {
			continue
		}
		other := e.bodies[otherID]

		dx := other.X - b.X
		dy := other.Y - b.Y
		raw := math.Hypot(dx, dy)
		distance := max(raw, minForceDistance)

		var ux, uy float64
		if raw == 0 {
			// Coincident bodies have no direction; split them along x by id order.
			ux = 1
			if otherID < b.ID {
				ux = -1
			}
		} else {
			ux, uy = dx/distance, dy/distance
		}

		if distance < cfg.MinRepulsionDistance {
			f := cfg.RepulsionStrength * (1 - distance/cfg.MinRepulsionDistance)
			fx -= ux * f
			fy -= uy * f
		}

		if len(b.Embedding) == 0 || len(other.Embedding) == 0 || distance >= cfg.MaxAttractionDistance {
			continue
		}
		sim := e.similarity(b, other)
		if sim <= cfg.SimilarityThreshold {
			continue
		}
		f := cfg.GravityStrength *
			(sim - cfg.SimilarityThreshold) / (1 - cfg.SimilarityThreshold) *
			(1 - distance/cfg.MaxAttractionDistance)
		fx += ux * f
		fy += uy * f
	}
	return fx, fy
}

// Neighbors returns bodies within maxDistance of id whose similarity is at
// least minSimilarity, most similar first. Bodies without embeddings have
// similarity 0.
func (e *Engine) Neighbors(id string, maxDistance, minSimilarity float64) []Neighbor {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.bodies[id]
	if !ok {
		return nil
	}

	var out []Neighbor
	for _, otherID := range e.order {
		if otherID == id {
			continue
		}
		other := e.bodies[otherID]
		distance := math.Hypot(other.X-b.X, other.Y-b.Y)
		if distance > maxDistance {
			continue
		}
		var sim float64
		if len(b.Embedding) > 0 && len(other.Embedding) > 0 {
			sim = e.similarity(b, other)
		}
		if sim < minSimilarity {
			continue
		}
		out = append(out, Neighbor{
			ID:         otherID,
			Distance:   distance,
			Similarity: sim,
			X:          other.X,
			Y:          other.Y,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// SuggestPosition places a new item near the candidates most similar to
// embedding: a similarity-squared weighted mean of the top matches plus a
// uniform jitter. Returns the origin when no candidate carries an embedding.
func (e *Engine) SuggestPosition(embedding []float32, candidates []Candidate) (x, y float64) {
	type scored struct {
		c   Candidate
		sim float64
	}
	var ranked []scored
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{c: c, sim: similarity.Score(embedding, c.Embedding)})
	}
	if len(ranked) == 0 {
		return 0, 0
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].sim > ranked[j].sim
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(ranked) > e.cfg.PlacementNeighbors {
		ranked = ranked[:e.cfg.PlacementNeighbors]
	}

	var total, xs, ys float64
	for _, r := range ranked {
		w := r.sim * r.sim
		xs += r.c.X * w
		ys += r.c.Y * w
		total += w
	}
	if total <= 0 {
		return 0, 0
	}
	return xs/total + e.jitter(), ys/total + e.jitter()
}

// Suggest is SuggestPosition over the engine's own bodies.
func (e *Engine) Suggest(embedding []float32) (x, y float64) {
	e.mu.Lock()
	candidates := make([]Candidate, 0, len(e.order))
	for _, id := range e.order {
		b := e.bodies[id]
		candidates = append(candidates, Candidate{Embedding: b.Embedding, X: b.X, Y: b.Y})
	}
	e.mu.Unlock()

	return e.SuggestPosition(embedding, candidates)
}

// jitter returns a uniform value in [-PlacementJitter, PlacementJitter).
// Caller must hold e.mu.
func (e *Engine) jitter() float64 {
	j := e.cfg.PlacementJitter
	return e.rng.Float64()*2*j - j
}

// similarity returns the cached rescaled cosine similarity of two bodies.
// Caller must hold e.mu.
func (e *Engine) similarity(a, b *Body) float64 {
	key := newPairKey(a.ID, b.ID)
	if s, ok := e.sims[key]; ok {
		return s
	}
	s := similarity.Score(a.Embedding, b.Embedding)
	e.sims[key] = s
	return s
}

// forgetSimilarities drops cached similarities involving id.
// Caller must hold e.mu.
func (e *Engine) forgetSimilarities(id string) {
	for k := range e.sims {
		if k.a == id || k.b == id {
			delete(e.sims, k)
		}
	}
}

func copyBody(b *Body) Body {
	c := *b
	if len(b.Embedding) > 0 {
		c.Embedding = slices.Clone(b.Embedding)
	}
	return c
}
