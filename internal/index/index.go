// Package index holds the immutable, query-ready view of a built corpus and
// ranks items by similarity to a query item.
package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/search"
)

// NotFoundError is returned when a query resolves to no corpus item.
type NotFoundError struct {
	Query Query
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.Query)
}

// Query identifies the item to recommend from. IDs are authoritative;
// a title resolves to its first occurrence in corpus order.
type Query struct {
	Title string
	ID    int
	ByID  bool
}

func ByTitle(title string) Query { return Query{Title: title} }

func ByID(id int) Query { return Query{ID: id, ByID: true} }

func (q Query) String() string {
	if q.ByID {
		return "id " + strconv.Itoa(q.ID)
	}
	return strconv.Quote(q.Title)
}

// Index pairs the item table with its similarity matrix. It is never mutated
// after New and may be shared by any number of concurrent readers.
type Index struct {
	entries []catalog.Entry
	matrix  *search.SimilarityMatrix
	byID    map[int]int
	byTitle map[string][]int
	sorted  []int // entry positions ordered by title, then position
}

// New builds an index. Row i of matrix must describe entries[i].
func New(entries []catalog.Entry, matrix *search.SimilarityMatrix) (*Index, error) {
	if matrix == nil {
		return nil, fmt.Errorf("similarity matrix is required")
	}
	if matrix.Size() != len(entries) {
		return nil, fmt.Errorf("similarity matrix has %d rows for %d items", matrix.Size(), len(entries))
	}

	idx := &Index{
		entries: make([]catalog.Entry, len(entries)),
		matrix:  matrix,
		byID:    make(map[int]int, len(entries)),
		byTitle: make(map[string][]int, len(entries)),
		sorted:  make([]int, len(entries)),
	}
	copy(idx.entries, entries)

	for i, e := range idx.entries {
		if _, dup := idx.byID[e.ID]; !dup {
			idx.byID[e.ID] = i
		}
		idx.byTitle[e.Title] = append(idx.byTitle[e.Title], i)
		idx.sorted[i] = i
	}
	sort.SliceStable(idx.sorted, func(a, b int) bool {
		return idx.entries[idx.sorted[a]].Title < idx.entries[idx.sorted[b]].Title
	})

	return idx, nil
}

// Len is the number of items.
func (x *Index) Len() int {
	return len(x.entries)
}

// Entry returns the item table row at position i.
func (x *Index) Entry(i int) catalog.Entry {
	return x.entries[i]
}

// Entries returns a copy of the item table in corpus order.
func (x *Index) Entries() []catalog.Entry {
	out := make([]catalog.Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Matrix exposes the underlying similarity matrix.
func (x *Index) Matrix() *search.SimilarityMatrix {
	return x.matrix
}

// Lookup resolves a query to its corpus position.
func (x *Index) Lookup(q Query) (int, error) {
	if q.ByID {
		if i, ok := x.byID[q.ID]; ok {
			return i, nil
		}
		return -1, &NotFoundError{Query: q}
	}
	if positions := x.byTitle[q.Title]; len(positions) > 0 {
		return positions[0], nil
	}
	return -1, &NotFoundError{Query: q}
}

// TitleMatches lists every item sharing title, in corpus order, so callers can
// disambiguate duplicates by id.
func (x *Index) TitleMatches(title string) []catalog.Entry {
	positions := x.byTitle[title]
	out := make([]catalog.Entry, len(positions))
	for k, i := range positions {
		out[k] = x.entries[i]
	}
	return out
}

// Titles lists items whose title starts with prefix (case-insensitive),
// ordered by title. limit <= 0 means no limit.
func (x *Index) Titles(prefix string, limit int) []catalog.Entry {
	prefix = strings.ToLower(prefix)
	var out []catalog.Entry
	for _, i := range x.sorted {
		e := x.entries[i]
		if !strings.HasPrefix(strings.ToLower(e.Title), prefix) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
