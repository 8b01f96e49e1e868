package catalog

import "fmt"

// GroupKind identifies how an attribute group contributes tokens to an item's bag.
// The numeric order is also the order in which groups are concatenated.
type GroupKind int

const (
	// KindFreeText is prose (a synopsis); split on whitespace.
	KindFreeText GroupKind = iota
	// KindLabels is a multi-valued tag list; every entry becomes one token.
	KindLabels
	// KindRanked is a billed list; only the first Limit entries are kept.
	KindRanked
	// KindSingleton keeps only the first entry whose role matches the group's Role.
	KindSingleton
)

func (k GroupKind) String() string {
	switch k {
	case KindFreeText:
		return "free_text"
	case KindLabels:
		return "labels"
	case KindRanked:
		return "ranked"
	case KindSingleton:
		return "singleton"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is a named member of a labels, ranked or singleton group
type Entity struct {
	Name string
	Role string
}

// AttributeGroup is one heterogeneous attribute of an item
type AttributeGroup struct {
	Name     string
	Kind     GroupKind
	Text     string   // KindFreeText only
	Entities []Entity // in source order (billing order for KindRanked)
	Limit    int      // KindRanked cap; <= 0 uses the normalizer default
	Role     string   // KindSingleton selector; empty matches the first entity
}

// Item is one raw record of the corpus. Items are immutable after load.
type Item struct {
	ID     int
	Title  string
	Groups []AttributeGroup
}

// Entry is one row of the persisted item table.
type Entry struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Tags  string `json:"tags"`
}

// FreeText builds a free-text group.
func FreeText(name, text string) AttributeGroup {
	return AttributeGroup{Name: name, Kind: KindFreeText, Text: text}
}

// Labels builds a labels group from plain names.
func Labels(name string, values ...string) AttributeGroup {
	return AttributeGroup{Name: name, Kind: KindLabels, Entities: entities(values)}
}

// Ranked builds a ranked group keeping at most limit entries.
func Ranked(name string, limit int, values ...string) AttributeGroup {
	return AttributeGroup{Name: name, Kind: KindRanked, Entities: entities(values), Limit: limit}
}

// Singleton builds a singleton group selecting the first entity with the given role.
func Singleton(name, role string, members ...Entity) AttributeGroup {
	return AttributeGroup{Name: name, Kind: KindSingleton, Entities: members, Role: role}
}

func entities(values []string) []Entity {
	out := make([]Entity, len(values))
	for i, v := range values {
		out[i] = Entity{Name: v}
	}
	return out
}
