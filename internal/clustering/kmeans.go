package clustering

import (
	"context"
	"math"
	"math/rand/v2"
)

const (
	kmeansRestarts      = 10
	kmeansMaxIterations = 300
	kmeansTolerance     = 1e-4
)

// kmeans runs Lloyd's algorithm from k-means++ seeds, restarting several
// times and keeping the labelling with the lowest inertia.
func kmeans(ctx context.Context, points [][]float64, k int, seed uint64) ([]int, error) {
	n := len(points)
	if k > n {
		k = n
	}
	if k <= 0 {
		return make([]int, n), nil
	}

	rng := rand.New(rand.NewPCG(seed, seed))

	var best []int
	bestInertia := math.Inf(1)
	for run := 0; run < kmeansRestarts; run++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels, inertia, err := lloyd(ctx, points, seedCentroids(points, k, rng))
		if err != nil {
			return nil, err
		}
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return best, nil
}

// seedCentroids picks k initial centroids with the k-means++ rule: each next
// centroid is drawn with probability proportional to its squared distance
// from the nearest centroid chosen so far.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))

	dist := make([]float64, n)
	for i, p := range points {
		dist[i] = sqDistance(p, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}

		next := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
				next = i
			}
		} else {
			next = rng.IntN(n)
		}

		c := clone(points[next])
		centroids = append(centroids, c)
		for i, p := range points {
			dist[i] = min(dist[i], sqDistance(p, c))
		}
	}
	return centroids
}

// lloyd iterates assignment and update steps until centroids settle.
func lloyd(ctx context.Context, points [][]float64, centroids [][]float64) ([]int, float64, error) {
	n, k := len(points), len(centroids)
	dim := len(points[0])
	labels := make([]int, n)

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		if iter%16 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}

		for i, p := range points {
			labels[i] = nearest(p, centroids)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}

		var shift float64
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: move it onto the point worst served by its centroid.
				far := farthest(points, labels, centroids)
				shift += sqDistance(centroids[c], points[far])
				centroids[c] = clone(points[far])
				labels[far] = c
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			shift += sqDistance(centroids[c], sums[c])
			centroids[c] = sums[c]
		}
		if shift <= kmeansTolerance*kmeansTolerance {
			break
		}
	}

	var inertia float64
	for i, p := range points {
		labels[i] = nearest(p, centroids)
		inertia += sqDistance(p, centroids[labels[i]])
	}
	return labels, inertia, nil
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(points [][]float64, labels []int, centroids [][]float64) int {
	far, farDist := 0, -1.0
	for i, p := range points {
		if d := sqDistance(p, centroids[labels[i]]); d > farDist {
			far, farDist = i, d
		}
	}
	return far
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
