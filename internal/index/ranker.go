package index

import (
	"sort"

	"github.com/knowledge-engine/recommender/internal/catalog"
)

// Options controls a single recommendation request
type Options struct {
	K int
	// MinScore: genuine matches must score strictly above it.
	MinScore float64
	// Exclude lists item ids kept out of the genuine tier. They can still be
	// used as padding.
	Exclude []int
}

// Recommendation is one ranked result. ID is the key the poster lookup expects.
type Recommendation struct {
	Rank   int     `json:"rank"`
	ID     int     `json:"id"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
	Padded bool    `json:"padded"`
}

// Result is the ranked answer for one query item.
type Result struct {
	Query catalog.Entry    `json:"query"`
	Items []Recommendation `json:"items"`
}

type candidate struct {
	pos   int
	score float64
}

// Recommend returns up to opts.K items most similar to the query item, never
// the query itself. Candidates are ordered by score descending, then corpus
// position ascending. Genuine matches come first; if there are fewer than K,
// the remaining slots are padded from the same ordering with the filters
// ignored, so the result has min(K, n-1) items whenever K > 0.
func (x *Index) Recommend(q Query, opts Options) (*Result, error) {
	qi, err := x.Lookup(q)
	if err != nil {
		return nil, err
	}

	result := &Result{Query: x.entries[qi], Items: []Recommendation{}}
	if opts.K <= 0 {
		return result, nil
	}

	row := x.matrix.Row(qi)
	candidates := make([]candidate, 0, len(row))
	for j, score := range row {
		if j == qi {
			continue
		}
		candidates = append(candidates, candidate{pos: j, score: score})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].pos < candidates[b].pos
	})

	excluded := make(map[int]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = true
	}

	k := opts.K
	if k > len(candidates) {
		k = len(candidates)
	}
	used := make([]bool, len(candidates))

	for c, cand := range candidates {
		if len(result.Items) == k {
			break
		}
		if cand.score > opts.MinScore && !excluded[x.entries[cand.pos].ID] {
			result.Items = append(result.Items, x.recommendation(cand, false))
			used[c] = true
		}
	}
	for c, cand := range candidates {
		if len(result.Items) == k {
			break
		}
		if !used[c] {
			result.Items = append(result.Items, x.recommendation(cand, true))
		}
	}

	for r := range result.Items {
		result.Items[r].Rank = r + 1
	}
	return result, nil
}

func (x *Index) recommendation(c candidate, padded bool) Recommendation {
	e := x.entries[c.pos]
	return Recommendation{
		ID:     e.ID,
		Title:  e.Title,
		Score:  c.score,
		Padded: padded,
	}
}
