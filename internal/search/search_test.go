package search_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/recommender/internal/search"
)

var scenarioDocs = []string{
	"space war alien", // A
	"space war",       // B
	"romance drama",   // C
	"",                // D
}

func TestTokenize(t *testing.T) {
	tokens := search.Tokenize("Hello, World! a b_c x1 naïve", 2)
	assert.Equal(t, []string{"hello", "world", "b_c", "x1", "naïve"}, tokens)
}

func TestCountVectorizer_FitScenario(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{})
	vocab, err := v.Fit(scenarioDocs)
	require.NoError(t, err)

	assert.Equal(t, []string{"alien", "drama", "romance", "space", "war"}, vocab.Terms())

	space, ok := vocab.Index("space")
	require.True(t, ok)
	assert.Equal(t, 2, vocab.TermFreq(space))
	assert.Equal(t, 2, vocab.DocFreq(space))

	a := v.Transform(scenarioDocs[0])
	assert.Equal(t, []int{1, 0, 0, 1, 1}, a.Dense())
	assert.True(t, v.Transform(scenarioDocs[3]).IsZero())
	assert.Equal(t, 5, v.Transform(scenarioDocs[3]).Len())
}

func TestCountVectorizer_TransformIgnoresUnknownTokens(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{})
	_, err := v.Fit([]string{"space war"})
	require.NoError(t, err)

	vec := v.Transform("space space unicorn war")
	assert.Equal(t, 2, vec.At(0)) // space
	assert.Equal(t, 1, vec.At(1)) // war
	assert.Equal(t, 2, vec.NNZ())
}

func TestCountVectorizer_MaxFeaturesTieBreakIsLexical(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{MaxFeatures: 3})
	vocab, err := v.Fit([]string{"zeta beta gamma", "zeta alpha delta", "zeta"})
	require.NoError(t, err)

	// zeta (3) wins outright; the four singletons tie and resolve lexically.
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, vocab.Terms())
}

func TestCountVectorizer_StopWordsExcluded(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{StopWords: map[string]bool{"the": true}})
	vocab, err := v.Fit([]string{"the space", "the war"})
	require.NoError(t, err)

	_, ok := vocab.Index("the")
	assert.False(t, ok)
	assert.Equal(t, 2, vocab.Len())
}

func TestCountVectorizer_AllStopWordsIsFatal(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{StopWords: map[string]bool{"the": true, "and": true}})
	_, err := v.Fit([]string{"the and", "and the the"})
	assert.True(t, errors.Is(err, search.ErrVocabularyEmpty))

	_, err = search.NewCountVectorizer(search.Options{}).Fit(nil)
	assert.True(t, errors.Is(err, search.ErrVocabularyEmpty))
}

func TestCountVectorizer_FitIsDeterministic(t *testing.T) {
	docs := make([]string, 200)
	for i := range docs {
		docs[i] = fmt.Sprintf("term%d term%d common shared%d", i%17, i%5, i%3)
	}
	first, err := search.NewCountVectorizer(search.Options{MaxFeatures: 10}).Fit(docs)
	require.NoError(t, err)
	second, err := search.NewCountVectorizer(search.Options{MaxFeatures: 10}).Fit(docs)
	require.NoError(t, err)
	assert.Equal(t, first.Terms(), second.Terms())
}

func TestCosineSimilarity(t *testing.T) {
	a, _ := search.NewItemVector([]int{1, 0, 1})
	b, _ := search.NewItemVector([]int{0, 1, 1})
	assert.InDelta(t, 0.5, search.CosineSimilarity(a, b), 1e-12)

	zero, _ := search.NewItemVector([]int{0, 0, 0})
	assert.Equal(t, 0.0, search.CosineSimilarity(a, zero))
	assert.Equal(t, 0.0, search.CosineSimilarity(zero, zero))

	short, _ := search.NewItemVector([]int{1})
	assert.Equal(t, 0.0, search.CosineSimilarity(a, short))
}

func TestNewItemVectorRejectsNegative(t *testing.T) {
	_, err := search.NewItemVector([]int{1, -1})
	assert.Error(t, err)
}

func TestBuildSimilarity_Scenario(t *testing.T) {
	v := search.NewCountVectorizer(search.Options{})
	vocab, err := v.Fit(scenarioDocs)
	require.NoError(t, err)

	m, err := search.BuildSimilarity(v.TransformAll(scenarioDocs, 2), vocab.Len(), 2)
	require.NoError(t, err)
	require.Equal(t, 4, m.Size())

	const a, b, c, d = 0, 1, 2, 3
	assert.InDelta(t, 0.8165, m.At(a, b), 1e-4)
	assert.Equal(t, 0.0, m.At(a, c))
	assert.Equal(t, 0.0, m.At(a, d))
	assert.Equal(t, 0.0, m.At(d, d))
	assert.Equal(t, 1.0, m.At(a, a))
	assert.Equal(t, 1.0, m.At(c, c))
	assert.Equal(t, []float64{m.At(b, a), 1, 0, 0}, m.Row(b))
}

func TestBuildSimilarity_DimensionMismatch(t *testing.T) {
	ok, _ := search.NewItemVector([]int{1, 0, 1})
	bad, _ := search.NewItemVector([]int{1, 0})

	_, err := search.BuildSimilarity([]search.ItemVector{ok, bad}, 3, 1)
	var dme *search.DimensionMismatchError
	require.True(t, errors.As(err, &dme))
	assert.Equal(t, 1, dme.Row)
	assert.Equal(t, 2, dme.Got)
	assert.Equal(t, 3, dme.Want)
}

func corpus(n int) []string {
	words := []string{"space", "war", "alien", "romance", "drama", "heist", "robot", "ocean", "king", "ghost"}
	docs := make([]string, n)
	for i := range docs {
		doc := ""
		for w := 0; w < 1+i%4; w++ {
			doc += words[(i*7+w*3)%len(words)] + " "
		}
		if i%11 == 0 {
			doc = ""
		}
		docs[i] = doc
	}
	return docs
}

func TestBuildSimilarity_Invariants(t *testing.T) {
	docs := corpus(120)
	v := search.NewCountVectorizer(search.Options{})
	vocab, err := v.Fit(docs)
	require.NoError(t, err)
	vectors := v.TransformAll(docs, 4)

	m, err := search.BuildSimilarity(vectors, vocab.Len(), 4)
	require.NoError(t, err)

	for i := 0; i < m.Size(); i++ {
		if vectors[i].IsZero() {
			assert.Equal(t, 0.0, m.At(i, i), "zero vector %d", i)
		} else {
			assert.Equal(t, 1.0, m.At(i, i), "self similarity %d", i)
		}
		for j := 0; j < m.Size(); j++ {
			got := m.At(i, j)
			assert.Equal(t, got, m.At(j, i), "symmetry %d,%d", i, j)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			if i != j {
				assert.InDelta(t, search.CosineSimilarity(vectors[i], vectors[j]), got, 1e-15)
			}
		}
	}
}

func TestBuildSimilarity_DeterministicAcrossWorkerCounts(t *testing.T) {
	docs := corpus(90)
	build := func(workers int) []float64 {
		v := search.NewCountVectorizer(search.Options{MaxFeatures: 8})
		vocab, err := v.Fit(docs)
		require.NoError(t, err)
		m, err := search.BuildSimilarity(v.TransformAll(docs, workers), vocab.Len(), workers)
		require.NoError(t, err)
		return m.Upper()
	}

	serial := build(1)
	parallel := build(8)
	require.Equal(t, len(serial), len(parallel))
	for k := range serial {
		assert.Equal(t, math.Float64bits(serial[k]), math.Float64bits(parallel[k]))
	}
}

func TestNewSimilarityMatrixFromUpper(t *testing.T) {
	m, err := search.NewSimilarityMatrixFromUpper(3, []float64{1, 0.5, 0, 1, 0.25, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.At(1, 0))
	assert.Equal(t, 0.25, m.At(2, 1))
	assert.Equal(t, []float64{1, 0.5, 0, 1, 0.25, 0}, m.Upper())

	_, err = search.NewSimilarityMatrixFromUpper(3, []float64{1})
	assert.Error(t, err)

	empty, err := search.NewSimilarityMatrixFromUpper(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Size())
}
