// Package textproc turns an item's raw attribute groups into a normalized,
// stemmed token bag.
package textproc

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/workpool"
)

// DefaultRankedLimit is the number of ranked entities kept when a group sets no limit.
const DefaultRankedLimit = 3

// InputValidationError reports a malformed attribute group. The normalizer
// recovers from it by treating the group as empty.
type InputValidationError struct {
	ItemID int
	Group  string
	Reason string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("item %d: attribute group %q: %s", e.ItemID, e.Group, e.Reason)
}

// TokenBag is the ordered sequence of normalized tokens for one item.
type TokenBag []string

// String joins the bag with single spaces. This is the persisted "tags" form.
func (b TokenBag) String() string {
	return strings.Join(b, " ")
}

// Options configures a Normalizer
type Options struct {
	RankedLimit int
}

// Normalizer applies the attribute-group rules, lowercasing and Porter stemming.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts    Options
	lower   analysis.TokenFilter
	stemmer analysis.TokenFilter
	logger  *logrus.Entry
}

// NewNormalizer resolves the lowercase and Porter filters from the bleve registry.
func NewNormalizer(opts Options, logger *logrus.Entry) (*Normalizer, error) {
	if opts.RankedLimit <= 0 {
		opts.RankedLimit = DefaultRankedLimit
	}
	if logger == nil {
		logger = logrus.WithField("component", "normalizer")
	}

	cache := registry.NewCache()
	lower, err := cache.TokenFilterNamed(lowercase.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load lowercase filter: %w", err)
	}
	stemmer, err := cache.TokenFilterNamed(porter.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load porter stemmer: %w", err)
	}

	return &Normalizer{
		opts:    opts,
		lower:   lower,
		stemmer: stemmer,
		logger:  logger,
	}, nil
}

// EnglishStopWords returns a copy of bleve's English stop-word list.
func EnglishStopWords() (map[string]bool, error) {
	cache := registry.NewCache()
	words, err := cache.TokenMapNamed(en.StopName)
	if err != nil {
		return nil, fmt.Errorf("failed to load english stop words: %w", err)
	}
	out := make(map[string]bool, len(words))
	for w := range words {
		out[w] = true
	}
	return out, nil
}

// Validate checks that a group's shape matches its kind.
func (n *Normalizer) Validate(g catalog.AttributeGroup) error {
	invalid := func(reason string) error {
		return &InputValidationError{Group: g.Name, Reason: reason}
	}

	switch g.Kind {
	case catalog.KindFreeText:
		if len(g.Entities) > 0 {
			return invalid("free-text group carries entities")
		}
	case catalog.KindLabels, catalog.KindRanked, catalog.KindSingleton:
		if g.Text != "" {
			return invalid(fmt.Sprintf("%s group carries free text", g.Kind))
		}
	default:
		return invalid(fmt.Sprintf("unknown group kind %s", g.Kind))
	}

	if !utf8.ValidString(g.Text) {
		return invalid("text is not valid utf-8")
	}
	for _, e := range g.Entities {
		if !utf8.ValidString(e.Name) {
			return invalid("entity name is not valid utf-8")
		}
	}
	return nil
}

// Normalize produces the token bag for one item. Groups are concatenated in
// kind order (free text, labels, ranked, singleton), keeping source order
// within a kind.
func (n *Normalizer) Normalize(item catalog.Item) TokenBag {
	groups := make([]catalog.AttributeGroup, 0, len(item.Groups))
	for _, g := range item.Groups {
		if err := n.Validate(g); err != nil {
			if ive, ok := err.(*InputValidationError); ok {
				ive.ItemID = item.ID
			}
			n.logger.WithError(err).WithField("item_id", item.ID).Warn("Dropping malformed attribute group")
			continue
		}
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Kind < groups[j].Kind
	})

	var raw []string
	for _, g := range groups {
		raw = append(raw, n.groupTokens(g)...)
	}
	return n.stem(raw)
}

// NormalizeAll normalizes every item; bag i belongs to item i.
func (n *Normalizer) NormalizeAll(items []catalog.Item, workers int) []TokenBag {
	bags := make([]TokenBag, len(items))
	workpool.ForEach(len(items), workers, func(i int) {
		bags[i] = n.Normalize(items[i])
	})
	return bags
}

func (n *Normalizer) groupTokens(g catalog.AttributeGroup) []string {
	switch g.Kind {
	case catalog.KindFreeText:
		return strings.Fields(g.Text)
	case catalog.KindLabels:
		return collapseAll(g.Entities)
	case catalog.KindRanked:
		limit := g.Limit
		if limit <= 0 {
			limit = n.opts.RankedLimit
		}
		entities := g.Entities
		if len(entities) > limit {
			entities = entities[:limit]
		}
		return collapseAll(entities)
	case catalog.KindSingleton:
		for _, e := range g.Entities {
			if g.Role == "" || e.Role == g.Role {
				return collapseAll([]catalog.Entity{e})
			}
		}
	}
	return nil
}

// stem lowercases and stems each token. Empty results are dropped.
func (n *Normalizer) stem(tokens []string) TokenBag {
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, t := range tokens {
		stream = append(stream, &analysis.Token{
			Term:     []byte(t),
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	stream = n.lower.Filter(stream)
	stream = n.stemmer.Filter(stream)

	bag := make(TokenBag, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) > 0 {
			bag = append(bag, string(tok.Term))
		}
	}
	return bag
}

// collapse removes all whitespace so "Science Fiction" becomes one token.
func collapse(name string) string {
	return strings.Join(strings.Fields(name), "")
}

func collapseAll(entities []catalog.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if c := collapse(e.Name); c != "" {
			out = append(out, c)
		}
	}
	return out
}
