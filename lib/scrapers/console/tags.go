package console

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// TagCategory is one node of the console's nested category→tag tree as
// the per-entity tag endpoint serves it.
type TagCategory struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Tags     []Tag         `json:"tags"`
	Children []TagCategory `json:"children"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TagPredicate matches a tag or category either by id (exact, takes
// precedence) or by name. name matching is case-insensitive and
// tolerates small spelling drift, the console's operators rename tags
// casually.
type TagPredicate struct {
	ID   int64
	Name string
}

const fuzzyNameThreshold = 0.92

func (p TagPredicate) matches(id int64, name string) bool {
	if p.ID != 0 {
		return p.ID == id
	}
	if p.Name == "" {
		return false
	}
	if strings.EqualFold(p.Name, name) {
		return true
	}
	a := strings.ToLower(strings.TrimSpace(p.Name))
	b := strings.ToLower(strings.TrimSpace(name))
	return matchr.JaroWinkler(a, b, false) >= fuzzyNameThreshold
}

// TagRules is the caller-supplied configuration mapping tree positions
// to flags. passed in explicitly, never read from package state.
type TagRules struct {
	Blocked    TagPredicate
	Suspended  TagPredicate
	Delinquent TagPredicate
	Priority   TagPredicate
	// a category predicate: the first tag found under a matching
	// category becomes the free-text selection label.
	Selection TagPredicate
}

// TagFlagSet is the derived per-entity shape downstream consumers see.
type TagFlagSet struct {
	Blocked    bool   `json:"blocked"`
	Suspended  bool   `json:"suspended"`
	Delinquent bool   `json:"delinquent"`
	Priority   bool   `json:"priority"`
	Selection  string `json:"selection,omitempty"`
}

// DeriveTagFlags walks the whole tree, matching each tag against the
// rules. flags latch on first match, the selection label keeps the
// first tag under a matching category.
func DeriveTagFlags(tree []TagCategory, rules TagRules) TagFlagSet {
	out := TagFlagSet{}
	walkTagTree(tree, rules, &out)
	return out
}

func walkTagTree(categories []TagCategory, rules TagRules, out *TagFlagSet) {
	for _, category := range categories {
		selectionCategory := rules.Selection.matches(category.ID, category.Name)
		for _, tag := range category.Tags {
			if rules.Blocked.matches(tag.ID, tag.Name) {
				out.Blocked = true
			}
			if rules.Suspended.matches(tag.ID, tag.Name) {
				out.Suspended = true
			}
			if rules.Delinquent.matches(tag.ID, tag.Name) {
				out.Delinquent = true
			}
			if rules.Priority.matches(tag.ID, tag.Name) {
				out.Priority = true
			}
			if selectionCategory && out.Selection == "" {
				out.Selection = tag.Name
			}
		}
		walkTagTree(category.Children, rules, out)
	}
}
