package textproc_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/textproc"
)

func newNormalizer(t *testing.T) *textproc.Normalizer {
	t.Helper()
	n, err := textproc.NewNormalizer(textproc.Options{}, logrus.New().WithField("test", "textproc"))
	require.NoError(t, err)
	return n
}

func TestNormalize_FreeTextLowercasedAndStemmed(t *testing.T) {
	n := newNormalizer(t)

	bag := n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.FreeText("overview", "Running   Aliens JUMPED wars"),
	}})

	assert.Equal(t, textproc.TokenBag{"run", "alien", "jump", "war"}, bag)
	assert.Equal(t, "run alien jump war", bag.String())
}

func TestNormalize_MultiWordEntitiesCollapse(t *testing.T) {
	n := newNormalizer(t)

	bag := n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Labels("genres", "Science Fiction"),
	}})

	require.Len(t, bag, 1)
	assert.NotContains(t, bag, "scienc")
	assert.NotContains(t, bag, "fiction")
	assert.Contains(t, bag[0], "sciencefic")
}

func TestNormalize_RankedKeepsFirstN(t *testing.T) {
	n := newNormalizer(t)

	bag := n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Ranked("cast", 0, "Ann", "Bob", "Cid", "Dan", "Eve"),
	}})
	assert.Equal(t, textproc.TokenBag{"ann", "bob", "cid"}, bag)

	bag = n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Ranked("cast", 2, "Ann", "Bob", "Cid"),
	}})
	assert.Equal(t, textproc.TokenBag{"ann", "bob"}, bag)
}

func TestNormalize_SingletonSelectsFirstMatchingRole(t *testing.T) {
	n := newNormalizer(t)

	crew := []catalog.Entity{
		{Name: "Jon Writer", Role: "Writer"},
		{Name: "Chris Nolan", Role: "Director"},
		{Name: "Max Other", Role: "Director"},
	}
	bag := n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Singleton("crew", "Director", crew...),
	}})
	assert.Equal(t, textproc.TokenBag{"chrisnolan"}, bag)

	bag = n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Singleton("crew", "Producer", crew...),
	}})
	assert.Empty(t, bag)
}

func TestNormalize_GroupOrderIsByKind(t *testing.T) {
	n := newNormalizer(t)

	bag := n.Normalize(catalog.Item{ID: 1, Groups: []catalog.AttributeGroup{
		catalog.Singleton("crew", "", catalog.Entity{Name: "Zed"}),
		catalog.Ranked("cast", 1, "Yan"),
		catalog.Labels("genres", "Drama"),
		catalog.FreeText("overview", "plot"),
	}})
	assert.Equal(t, "plot drama yan zed", bag.String())
}

func TestNormalize_MalformedGroupTreatedAsEmpty(t *testing.T) {
	n := newNormalizer(t)

	bag := n.Normalize(catalog.Item{ID: 7, Groups: []catalog.AttributeGroup{
		{Name: "bogus", Kind: catalog.GroupKind(42), Text: "ignored"},
		{Name: "genres", Kind: catalog.KindLabels, Text: "should not be here"},
		catalog.Labels("keywords", "space"),
	}})
	assert.Equal(t, textproc.TokenBag{"space"}, bag)
}

func TestNormalize_EmptyItem(t *testing.T) {
	n := newNormalizer(t)
	bag := n.Normalize(catalog.Item{ID: 1})
	assert.Empty(t, bag)
	assert.Equal(t, "", bag.String())
}

func TestValidate(t *testing.T) {
	n := newNormalizer(t)

	assert.NoError(t, n.Validate(catalog.FreeText("overview", "text")))
	assert.NoError(t, n.Validate(catalog.Labels("genres", "Action")))

	err := n.Validate(catalog.AttributeGroup{Name: "overview", Kind: catalog.KindFreeText, Entities: []catalog.Entity{{Name: "x"}}})
	var ive *textproc.InputValidationError
	require.True(t, errors.As(err, &ive))
	assert.Equal(t, "overview", ive.Group)

	err = n.Validate(catalog.Labels("genres", "bad\xffname"))
	assert.Error(t, err)
}

func TestNormalizeAll_Deterministic(t *testing.T) {
	n := newNormalizer(t)

	items := make([]catalog.Item, 50)
	for i := range items {
		items[i] = catalog.Item{ID: i, Groups: []catalog.AttributeGroup{
			catalog.FreeText("overview", "A marine dispatched to the moon Pandora"),
			catalog.Labels("genres", "Action", "Science Fiction"),
			catalog.Ranked("cast", 3, "Sam Worthington", "Zoe Saldana", "Sigourney Weaver", "Stephen Lang"),
			catalog.Singleton("crew", "Director", catalog.Entity{Name: "James Cameron", Role: "Director"}),
		}}
	}

	first := n.NormalizeAll(items, 8)
	second := n.NormalizeAll(items, 1)
	require.Len(t, first, len(items))
	for i := range first {
		assert.Equal(t, first[i].String(), second[i].String())
		assert.Equal(t, first[0].String(), first[i].String())
	}
}

func TestEnglishStopWords(t *testing.T) {
	words, err := textproc.EnglishStopWords()
	require.NoError(t, err)
	assert.True(t, words["the"])
	assert.True(t, words["and"])
	assert.False(t, words["alien"])
}
