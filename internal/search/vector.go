package search

import (
	"fmt"
	"sort"
)

// ItemVector is a fixed-length term-count vector stored sparsely.
// Indices are strictly ascending and every stored count is positive.
type ItemVector struct {
	dim     int
	indices []int
	counts  []int
}

// NewItemVector builds a vector from dense counts. Negative counts are rejected.
func NewItemVector(dense []int) (ItemVector, error) {
	counts := make(map[int]int)
	for i, c := range dense {
		if c < 0 {
			return ItemVector{}, fmt.Errorf("negative count %d at column %d", c, i)
		}
		if c > 0 {
			counts[i] = c
		}
	}
	return newSparseVector(len(dense), counts), nil
}

func newSparseVector(dim int, counts map[int]int) ItemVector {
	v := ItemVector{
		dim:     dim,
		indices: make([]int, 0, len(counts)),
		counts:  make([]int, 0, len(counts)),
	}
	for i := range counts {
		v.indices = append(v.indices, i)
	}
	sort.Ints(v.indices)
	for _, i := range v.indices {
		v.counts = append(v.counts, counts[i])
	}
	return v
}

// Len is the vector dimension (the vocabulary size it was built against).
func (v ItemVector) Len() int {
	return v.dim
}

// NNZ is the number of non-zero columns.
func (v ItemVector) NNZ() int {
	return len(v.indices)
}

// IsZero reports whether every count is zero.
func (v ItemVector) IsZero() bool {
	return len(v.indices) == 0
}

// At returns the count in column j.
func (v ItemVector) At(j int) int {
	k := sort.SearchInts(v.indices, j)
	if k < len(v.indices) && v.indices[k] == j {
		return v.counts[k]
	}
	return 0
}

// Dense expands the vector to a full-length slice.
func (v ItemVector) Dense() []int {
	out := make([]int, v.dim)
	for k, i := range v.indices {
		out[i] = v.counts[k]
	}
	return out
}

func (v ItemVector) squaredNorm() int64 {
	var sum int64
	for _, c := range v.counts {
		sum += int64(c) * int64(c)
	}
	return sum
}

func (v ItemVector) dot(o ItemVector) int64 {
	var sum int64
	i, j := 0, 0
	for i < len(v.indices) && j < len(o.indices) {
		switch {
		case v.indices[i] == o.indices[j]:
			sum += int64(v.counts[i]) * int64(o.counts[j])
			i++
			j++
		case v.indices[i] < o.indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}
