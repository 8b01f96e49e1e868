package search

import (
	"errors"
	"fmt"
	"sort"
)

// ErrVocabularyEmpty is returned when fitting leaves no usable terms.
var ErrVocabularyEmpty = errors.New("vocabulary is empty")

// Vocabulary maps terms to vector columns. It is immutable once built.
type Vocabulary struct {
	terms    []string
	index    map[string]int
	docFreq  []int
	termFreq []int
}

type termStat struct {
	term     string
	termFreq int
	docFreq  int
}

// NewVocabulary builds a vocabulary whose column order is the given term order.
// Used when restoring a persisted vocabulary; corpus statistics are zero.
func NewVocabulary(terms []string) (*Vocabulary, error) {
	if len(terms) == 0 {
		return nil, ErrVocabularyEmpty
	}
	stats := make([]termStat, len(terms))
	for i, t := range terms {
		stats[i] = termStat{term: t}
	}
	return newVocabulary(stats)
}

func newVocabulary(stats []termStat) (*Vocabulary, error) {
	v := &Vocabulary{
		terms:    make([]string, len(stats)),
		index:    make(map[string]int, len(stats)),
		docFreq:  make([]int, len(stats)),
		termFreq: make([]int, len(stats)),
	}
	for i, s := range stats {
		if _, dup := v.index[s.term]; dup {
			return nil, fmt.Errorf("duplicate vocabulary term %q", s.term)
		}
		v.terms[i] = s.term
		v.index[s.term] = i
		v.docFreq[i] = s.docFreq
		v.termFreq[i] = s.termFreq
	}
	return v, nil
}

// fitVocabulary keeps at most maxFeatures terms ranked by total corpus count,
// ties broken by term. Kept terms are laid out in lexical order.
func fitVocabulary(termFreq, docFreq map[string]int, maxFeatures int) (*Vocabulary, error) {
	if len(termFreq) == 0 {
		return nil, ErrVocabularyEmpty
	}

	stats := make([]termStat, 0, len(termFreq))
	for term, tf := range termFreq {
		stats = append(stats, termStat{term: term, termFreq: tf, docFreq: docFreq[term]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].termFreq != stats[j].termFreq {
			return stats[i].termFreq > stats[j].termFreq
		}
		return stats[i].term < stats[j].term
	})
	if maxFeatures > 0 && len(stats) > maxFeatures {
		stats = stats[:maxFeatures]
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].term < stats[j].term
	})
	return newVocabulary(stats)
}

// Len is the vector dimension.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Index returns the column of term.
func (v *Vocabulary) Index(term string) (int, bool) {
	i, ok := v.index[term]
	return i, ok
}

// Term returns the term at column i.
func (v *Vocabulary) Term(i int) string {
	return v.terms[i]
}

// Terms returns a copy of the terms in column order.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// DocFreq is the number of corpus documents containing the term at column i.
func (v *Vocabulary) DocFreq(i int) int {
	return v.docFreq[i]
}

// TermFreq is the total corpus count of the term at column i.
func (v *Vocabulary) TermFreq(i int) int {
	return v.termFreq[i]
}

// Vectorize counts vocabulary terms in tokens. Unknown tokens are ignored.
func (v *Vocabulary) Vectorize(tokens []string) ItemVector {
	counts := make(map[int]int)
	for _, t := range tokens {
		if i, ok := v.index[t]; ok {
			counts[i]++
		}
	}
	return newSparseVector(len(v.terms), counts)
}
