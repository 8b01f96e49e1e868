package search

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/knowledge-engine/recommender/internal/workpool"
)

// DimensionMismatchError reports a vector whose length differs from the fitted vocabulary.
type DimensionMismatchError struct {
	Row  int
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector %d has dimension %d, want %d", e.Row, e.Got, e.Want)
}

// SimilarityMatrix is the symmetric n×n cosine similarity of the corpus vectors.
// It is read-only after construction and safe for concurrent readers.
type SimilarityMatrix struct {
	n   int
	sym *mat.SymDense
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector is zero
// or the dimensions differ.
func CosineSimilarity(a, b ItemVector) float64 {
	if a.Len() != b.Len() {
		return 0
	}
	na, nb := a.squaredNorm(), b.squaredNorm()
	if na == 0 || nb == 0 {
		return 0
	}
	return cosine(a.dot(b), na, nb)
}

// cosine divides the exact integer dot product by one correctly rounded square
// root of the exact squared-norm product, which keeps the result within [0, 1].
func cosine(dot, squaredNormA, squaredNormB int64) float64 {
	return float64(dot) / math.Sqrt(float64(squaredNormA)*float64(squaredNormB))
}

// BuildSimilarity computes the full pairwise matrix. Each worker owns whole
// rows of the upper triangle; the lower triangle is the same storage.
// Zero vectors score 0 against everything, themselves included.
func BuildSimilarity(vectors []ItemVector, dim, workers int) (*SimilarityMatrix, error) {
	for i, v := range vectors {
		if v.Len() != dim {
			return nil, &DimensionMismatchError{Row: i, Got: v.Len(), Want: dim}
		}
	}

	n := len(vectors)
	if n == 0 {
		return &SimilarityMatrix{}, nil
	}

	norms := make([]int64, n)
	for i, v := range vectors {
		norms[i] = v.squaredNorm()
	}

	sym := mat.NewSymDense(n, nil)
	scratch := sync.Pool{
		New: func() any {
			buf := make([]int64, dim)
			return &buf
		},
	}

	workpool.ForEach(n, workers, func(i int) {
		if norms[i] == 0 {
			// NewSymDense zero-fills; the row including the diagonal stays 0.
			return
		}
		sym.SetSym(i, i, 1)

		bufp := scratch.Get().(*[]int64)
		dense := *bufp
		row := vectors[i]
		for k, col := range row.indices {
			dense[col] = int64(row.counts[k])
		}

		for j := i + 1; j < n; j++ {
			if norms[j] == 0 {
				continue
			}
			other := vectors[j]
			var dot int64
			for k, col := range other.indices {
				dot += dense[col] * int64(other.counts[k])
			}
			if dot != 0 {
				sym.SetSym(i, j, cosine(dot, norms[i], norms[j]))
			}
		}

		for _, col := range row.indices {
			dense[col] = 0
		}
		scratch.Put(bufp)
	})

	return &SimilarityMatrix{n: n, sym: sym}, nil
}

// NewSimilarityMatrixFromUpper restores a matrix from its packed upper triangle
// (row-major, diagonal included), as produced by Upper.
func NewSimilarityMatrixFromUpper(n int, upper []float64) (*SimilarityMatrix, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative matrix size %d", n)
	}
	if want := n * (n + 1) / 2; len(upper) != want {
		return nil, fmt.Errorf("packed triangle has %d values, want %d for n=%d", len(upper), want, n)
	}
	if n == 0 {
		return &SimilarityMatrix{}, nil
	}

	sym := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, upper[k])
			k++
		}
	}
	return &SimilarityMatrix{n: n, sym: sym}, nil
}

// Size is the number of items n.
func (m *SimilarityMatrix) Size() int {
	return m.n
}

// At returns M[i][j]. It panics when i or j is out of range.
func (m *SimilarityMatrix) At(i, j int) float64 {
	return m.sym.At(i, j)
}

// Row returns a copy of row i.
func (m *SimilarityMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.sym)
}

// Upper returns the packed upper triangle, row-major with the diagonal.
func (m *SimilarityMatrix) Upper() []float64 {
	out := make([]float64, 0, m.n*(m.n+1)/2)
	for i := 0; i < m.n; i++ {
		for j := i; j < m.n; j++ {
			out = append(out, m.sym.At(i, j))
		}
	}
	return out
}
