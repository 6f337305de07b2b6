package clustering

import "context"

// noise labels points that belong to no cluster.
const noise = -1

// dbscan labels points by density over cosine distance. A point is core when
// at least minSamples points, itself included, lie within eps. Labels start
// at 0 in order of discovery.
func dbscan(ctx context.Context, points [][]float64, eps float64, minSamples int) ([]int, error) {
	n := len(points)
	labels := make([]int, n)
	visited := make([]bool, n)
	for i := range labels {
		labels[i] = noise
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if cosineDistance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		visited[i] = true

		seeds := neighbors(i)
		if len(seeds) < minSamples {
			continue
		}

		labels[i] = cluster
		for q := 0; q < len(seeds); q++ {
			j := seeds[q]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			labels[j] = cluster

			if more := neighbors(j); len(more) >= minSamples {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels, nil
}
