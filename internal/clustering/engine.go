package clustering

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thebtf/synapse/pkg/similarity"
)

// ClusterPadding is added to the furthest member distance to form the radius.
const ClusterPadding = 100.0

// KeptKeywords is how many ranked keywords a cluster carries.
const KeptKeywords = 5

// Palette is the cyclic set of cluster colors.
var Palette = []string{
	"#FF6B6B", // coral red
	"#4ECDC4", // teal
	"#45B7D1", // sky blue
	"#96CEB4", // sage green
	"#FFEAA7", // soft yellow
	"#DDA0DD", // plum
	"#98D8C8", // mint
	"#F7DC6F", // gold
	"#BB8FCE", // lavender
	"#85C1E9", // light blue
}

// Item is the clustering view of a canvas item.
type Item struct {
	ID        string
	Title     string
	Content   string
	Embedding []float32
	X         float64
	Y         float64
}

// Cluster is a computed semantic group with its canvas geometry.
type Cluster struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Color    string   `json:"color"`
	CenterX  float64  `json:"center_x"`
	CenterY  float64  `json:"center_y"`
	Radius   float64  `json:"radius"`
	Keywords []string `json:"keywords"`
	ItemIDs  []string `json:"item_ids"`
}

// Namer produces a short human-readable name for a group of items.
type Namer interface {
	NameCluster(ctx context.Context, items []Item) (string, error)
}

// Engine computes clusters. It holds no per-run state and is safe for concurrent use.
type Engine struct {
	log   zerolog.Logger
	namer Namer
}

// NewEngine creates a clustering engine. namer may be nil.
func NewEngine(namer Namer, log zerolog.Logger) *Engine {
	return &Engine{
		log:   log.With().Str("component", "clustering").Logger(),
		namer: namer,
	}
}

// HasNamer reports whether external naming is available.
func (e *Engine) HasNamer() bool {
	return e.namer != nil
}

// Compute partitions the items that carry embeddings. Fewer than two such
// items yields an empty result. Membership is decided in standardized
// embedding space; geometry comes from canvas positions.
func (e *Engine) Compute(ctx context.Context, items []Item, alg Algorithm, useNamer bool) ([]Cluster, error) {
	embedded := make([]Item, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) > 0 {
			embedded = append(embedded, it)
		}
	}
	if len(embedded) < 2 {
		return []Cluster{}, nil
	}

	rows := make([][]float32, len(embedded))
	for i, it := range embedded {
		rows[i] = it.Embedding
	}
	points := standardize(rows)

	var (
		labels []int
		err    error
	)
	switch a := alg.(type) {
	case DBSCAN:
		labels, err = dbscan(ctx, points, a.Eps, a.MinSamples)
	case KMeans:
		k := a.K
		if k == 0 {
			k = autoK(len(points))
		}
		labels, err = kmeans(ctx, points, k, a.Seed)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %T", ErrInvalidRequest, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", alg.Name(), err)
	}

	clusters := e.build(ctx, embedded, labels, useNamer)

	e.log.Debug().
		Str("algorithm", alg.Name()).
		Int("items", len(embedded)).
		Int("clusters", len(clusters)).
		Msg("Clusters computed")

	return clusters, nil
}

// build groups items by label in ascending label order, dropping noise and
// singleton groups.
func (e *Engine) build(ctx context.Context, items []Item, labels []int, useNamer bool) []Cluster {
	groups := make(map[int][]Item)
	for i, l := range labels {
		if l == noise {
			continue
		}
		groups[l] = append(groups[l], items[i])
	}

	order := make([]int, 0, len(groups))
	for l := range groups {
		order = append(order, l)
	}
	sort.Ints(order)

	clusters := make([]Cluster, 0, len(order))
	for _, label := range order {
		members := groups[label]
		if len(members) < 2 {
			continue
		}

		cx, cy, radius := geometry(members)
		texts := make([]string, len(members))
		ids := make([]string, len(members))
		for i, m := range members {
			texts[i] = m.Content + " " + m.Title
			ids[i] = m.ID
		}
		keywords := similarity.ExtractKeywords(texts, similarity.DefaultMaxKeywords)

		name := similarity.ClusterName(keywords)
		if useNamer && e.namer != nil {
			name = e.externalName(ctx, members, name)
		}

		if len(keywords) > KeptKeywords {
			keywords = keywords[:KeptKeywords]
		}

		clusters = append(clusters, Cluster{
			ID:       fmt.Sprintf("cluster-%d", label),
			Name:     name,
			Color:    Palette[len(clusters)%len(Palette)],
			CenterX:  cx,
			CenterY:  cy,
			Radius:   radius,
			Keywords: keywords,
			ItemIDs:  ids,
		})
	}
	return clusters
}

func (e *Engine) externalName(ctx context.Context, members []Item, fallback string) string {
	name, err := e.namer.NameCluster(ctx, members)
	if err != nil {
		e.log.Warn().Err(err).Str("fallback", fallback).Msg("Cluster naming failed")
		return fallback
	}
	name = strings.TrimSpace(name)
	if name == "" {
		e.log.Warn().Str("fallback", fallback).Msg("Cluster naming returned empty name")
		return fallback
	}
	return name
}

// geometry returns the centroid of the members' canvas positions and the
// furthest member distance from it plus padding.
func geometry(members []Item) (cx, cy, radius float64) {
	for _, m := range members {
		cx += m.X
		cy += m.Y
	}
	n := float64(len(members))
	cx /= n
	cy /= n

	var maxDist float64
	for _, m := range members {
		maxDist = math.Max(maxDist, math.Hypot(m.X-cx, m.Y-cy))
	}
	return cx, cy, maxDist + ClusterPadding
}
