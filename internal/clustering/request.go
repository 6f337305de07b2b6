// Package clustering groups items into semantic clusters from their embeddings.
package clustering

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is returned for malformed clustering parameters.
var ErrInvalidRequest = errors.New("invalid clustering request")

// Algorithm names accepted in requests.
const (
	AlgorithmDBSCAN = "dbscan"
	AlgorithmKMeans = "kmeans"
)

// Request defaults and bounds.
const (
	DefaultEps        = 0.5
	DefaultMinSamples = 2
	DefaultSeed       = 42

	MinEps        = 0.1
	MaxEps        = 2.0
	MinMinSamples = 2
	MaxMinSamples = 10
	MinNClusters  = 2
	MaxNClusters  = 20
)

// Algorithm selects a clustering method and its parameters.
// It is implemented by DBSCAN and KMeans only.
type Algorithm interface {
	algorithm()
	Name() string
}

// DBSCAN is density-based clustering over cosine distance.
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

// KMeans partitions items into K groups. K == 0 picks a size from the item count.
type KMeans struct {
	K    int
	Seed uint64
}

func (DBSCAN) algorithm() {}
func (KMeans) algorithm() {}

// Name returns the request name of the algorithm.
func (DBSCAN) Name() string { return AlgorithmDBSCAN }

// Name returns the request name of the algorithm.
func (KMeans) Name() string { return AlgorithmKMeans }

// Request is the wire form of a clustering run.
type Request struct {
	Algorithm    string   `json:"algorithm"`
	Eps          *float64 `json:"eps,omitempty"`
	MinSamples   *int     `json:"min_samples,omitempty"`
	NClusters    *int     `json:"n_clusters,omitempty"`
	UseLLMNaming bool     `json:"use_llm_naming"`
}

// Validate checks the request bounds and resolves it into an Algorithm.
// Errors wrap ErrInvalidRequest.
func (r Request) Validate() (Algorithm, error) {
	name := strings.ToLower(strings.TrimSpace(r.Algorithm))
	if name == "" {
		name = AlgorithmDBSCAN
	}

	eps := DefaultEps
	if r.Eps != nil {
		eps = *r.Eps
	}
	if eps < MinEps || eps > MaxEps {
		return nil, fmt.Errorf("%w: eps %.3f outside [%.1f, %.1f]", ErrInvalidRequest, eps, MinEps, MaxEps)
	}

	minSamples := DefaultMinSamples
	if r.MinSamples != nil {
		minSamples = *r.MinSamples
	}
	if minSamples < MinMinSamples || minSamples > MaxMinSamples {
		return nil, fmt.Errorf("%w: min_samples %d outside [%d, %d]", ErrInvalidRequest, minSamples, MinMinSamples, MaxMinSamples)
	}

	k := 0
	if r.NClusters != nil {
		k = *r.NClusters
		if k < MinNClusters || k > MaxNClusters {
			return nil, fmt.Errorf("%w: n_clusters %d outside [%d, %d]", ErrInvalidRequest, k, MinNClusters, MaxNClusters)
		}
	}

	switch name {
	case AlgorithmDBSCAN:
		return DBSCAN{Eps: eps, MinSamples: minSamples}, nil
	case AlgorithmKMeans:
		return KMeans{K: k, Seed: DefaultSeed}, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidRequest, r.Algorithm)
	}
}

// autoK picks the K-means cluster count for n items: n/5 clamped to [2, 10],
// never more than n.
func autoK(n int) int {
	return min(max(2, n/5), 10, n)
}
