package vector

import (
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	kmeansIterations = 20
	kmeansSeed       = 1234
	// maxPointsPerCentroid bounds the training sample, as FAISS does.
	maxPointsPerCentroid = 256
	assignBlockSize      = 1024
)

// trainKMeans clusters vectors into k centroids with Lloyd's algorithm. Seeding is
// deterministic so the same input always yields the same centroids.
func trainKMeans(vectors [][]float32, k int) [][]float32 {
	rng := rand.New(rand.NewSource(kmeansSeed))
	sample := vectors
	if limit := k * maxPointsPerCentroid; len(vectors) > limit {
		sample = make([][]float32, limit)
		for i, p := range rng.Perm(len(vectors))[:limit] {
			sample[i] = vectors[p]
		}
	}

	dim := len(sample[0])
	centroids := make([][]float32, k)
	for i, p := range rng.Perm(len(sample))[:k] {
		c := make([]float32, dim)
		copy(c, sample[p])
		centroids[i] = c
	}

	assign := make([]int, len(sample))
	for i := range assign {
		assign[i] = -1
	}
	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	counts := make([]int, k)

	for iter := 0; iter < kmeansIterations; iter++ {
		next := assignNearest(sample, centroids)
		changed := 0
		for i := range next {
			if next[i] != assign[i] {
				changed++
			}
		}
		assign = next
		if changed == 0 && iter > 0 {
			break
		}

		for c := range sums {
			for j := range sums[c] {
				sums[c][j] = 0
			}
			counts[c] = 0
		}
		for i, c := range assign {
			counts[c]++
			for j, v := range sample[i] {
				sums[c][j] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: reseed from a random sample point.
				copy(centroids[c], sample[rng.Intn(len(sample))])
				continue
			}
			inv := 1 / float64(counts[c])
			for j := range centroids[c] {
				centroids[c][j] = float32(sums[c][j] * inv)
			}
		}
	}
	return centroids
}

// assignNearest returns, for each vector, the index of its nearest centroid.
// Blocks of vectors are assigned in parallel.
func assignNearest(vectors, centroids [][]float32) []int {
	out := make([]int, len(vectors))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(vectors); start += assignBlockSize {
		start := start
		end := min(start+assignBlockSize, len(vectors))
		g.Go(func() error {
			for i := start; i < end; i++ {
				out[i] = nearestCentroid(vectors[i], centroids)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestDist := 0, SquaredL2(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := SquaredL2(v, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
