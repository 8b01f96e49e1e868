package search

import (
	"github.com/knowledge-engine/recommender/internal/workpool"
)

// Vectorizer turns token strings into vectors over a fitted vocabulary
type Vectorizer interface {
	Fit(docs []string) (*Vocabulary, error)
	Transform(doc string) ItemVector
}

// Options configures a CountVectorizer
type Options struct {
	MaxFeatures    int             // <= 0 keeps every term
	StopWords      map[string]bool // terms never admitted to the vocabulary
	MinTokenLength int
}

// CountVectorizer implements raw term-count vectorization
type CountVectorizer struct {
	opts       Options
	Vocabulary *Vocabulary
}

func NewCountVectorizer(opts Options) *CountVectorizer {
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = DefaultMinTokenLength
	}
	return &CountVectorizer{opts: opts}
}

// Fit scans the corpus once and fixes the vocabulary used by every later Transform.
func (v *CountVectorizer) Fit(docs []string) (*Vocabulary, error) {
	termFreq := make(map[string]int)
	docFreq := make(map[string]int)

	for _, doc := range docs {
		seenInDoc := make(map[string]bool)
		for _, token := range v.analyze(doc) {
			termFreq[token]++
			if !seenInDoc[token] {
				docFreq[token]++
				seenInDoc[token] = true
			}
		}
	}

	vocab, err := fitVocabulary(termFreq, docFreq, v.opts.MaxFeatures)
	if err != nil {
		return nil, err
	}
	v.Vocabulary = vocab
	return vocab, nil
}

// Transform counts vocabulary terms in doc. Before Fit it returns a zero-length vector.
func (v *CountVectorizer) Transform(doc string) ItemVector {
	if v.Vocabulary == nil {
		return ItemVector{}
	}
	return v.Vocabulary.Vectorize(v.analyze(doc))
}

// TransformAll vectorizes every document against the fitted vocabulary;
// vector i belongs to document i.
func (v *CountVectorizer) TransformAll(docs []string, workers int) []ItemVector {
	out := make([]ItemVector, len(docs))
	workpool.ForEach(len(docs), workers, func(i int) {
		out[i] = v.Transform(docs[i])
	})
	return out
}

func (v *CountVectorizer) analyze(doc string) []string {
	tokens := Tokenize(doc, v.opts.MinTokenLength)
	if len(v.opts.StopWords) == 0 {
		return tokens
	}
	kept := tokens[:0]
	for _, t := range tokens {
		if !v.opts.StopWords[t] {
			kept = append(kept, t)
		}
	}
	return kept
}
