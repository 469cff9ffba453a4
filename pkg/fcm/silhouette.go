package fcm

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Silhouette returns the mean silhouette coefficient of points X under the
// hard assignment labels, using Euclidean distance. A point alone in its
// cluster scores 0. Fewer than two distinct clusters yields 0.
func Silhouette(X [][]float64, labels []int) float64 {
	n := len(X)
	if n == 0 || len(labels) != n {
		return 0
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	if len(sizes) < 2 {
		return 0
	}

	var total float64
	sums := make(map[int]float64, len(sizes))
	for i := 0; i < n; i++ {
		if sizes[labels[i]] == 1 {
			continue
		}
		for k := range sums {
			delete(sums, k)
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(X[i], X[j], 2)
		}

		a := sums[labels[i]] / float64(sizes[labels[i]]-1)
		b := -1.0
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			if mean := s / float64(sizes[l]); b < 0 || mean < b {
				b = mean
			}
		}

		den := a
		if b > den {
			den = b
		}
		if den > 0 {
			total += (b - a) / den
		}
	}
	return total / float64(n)
}

// subsample returns up to limit distinct indices from [0, n), drawn with the
// given seed and sorted ascending. When n <= limit every index is returned.
func subsample(n, limit int, seed int64) []int {
	idx := make([]int, 0, n)
	if n <= limit {
		for i := 0; i < n; i++ {
			idx = append(idx, i)
		}
		return idx
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)[:limit]
	mark := make([]bool, n)
	for _, i := range perm {
		mark[i] = true
	}
	for i, ok := range mark {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}
