package console

import (
	"strings"
	"time"
)

// EntityRecord is one snapshot of an entity as some listing endpoint
// saw it, keyed by the stable external identity key. attributes
// accumulate as overlapping snapshots are merged.
type EntityRecord struct {
	IdentityKey string
	Attributes  map[string]string
}

func (r EntityRecord) clone() EntityRecord {
	out := EntityRecord{
		IdentityKey: r.IdentityKey,
		Attributes:  make(map[string]string, len(r.Attributes)),
	}
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	return out
}

type FieldKind int

const (
	// first non-blank value wins, in source-priority order. this makes
	// text merges deterministic but not commutative, which is accepted:
	// callers fold sources in a fixed priority order.
	FieldText FieldKind = iota
	// logical OR, commutative and idempotent.
	FieldFlag
	// chronologically latest parseable value wins.
	FieldTimestamp
)

// MergePolicy maps attribute names to their resolution rule. fields
// without an entry resolve as FieldText.
type MergePolicy map[string]FieldKind

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func mergeFlag(a, b string) string {
	if parseFlag(a) || parseFlag(b) {
		return "true"
	}
	return "false"
}

func mergeTimestamp(a, b string) string {
	ta, aok := parseTimestamp(a)
	tb, bok := parseTimestamp(b)
	switch {
	case aok && bok:
		if tb.After(ta) {
			return b
		}
		return a
	case bok:
		return b
	case aok:
		return a
	default:
		// neither side parses, keep whichever is present
		if strings.TrimSpace(a) == "" {
			return b
		}
		return a
	}
}

// Merge folds an incoming snapshot into an existing one field by field
// according to the policy. flag and timestamp fields are idempotent so
// re-merging the same snapshot is harmless.
func Merge(policy MergePolicy, existing, incoming EntityRecord) EntityRecord {
	out := existing.clone()
	for field, incomingVal := range incoming.Attributes {
		existingVal, ok := out.Attributes[field]
		if !ok {
			if policy[field] == FieldFlag {
				incomingVal = mergeFlag(incomingVal, "")
			}
			out.Attributes[field] = incomingVal
			continue
		}

		switch policy[field] {
		case FieldFlag:
			out.Attributes[field] = mergeFlag(existingVal, incomingVal)
		case FieldTimestamp:
			out.Attributes[field] = mergeTimestamp(existingVal, incomingVal)
		default:
			if strings.TrimSpace(existingVal) == "" {
				out.Attributes[field] = incomingVal
			}
		}
	}
	return out
}

// MergeAll folds an arbitrary number of snapshots into one canonical
// record per identity key, preserving first-seen key order. records
// must arrive in source-priority order for text fields to resolve
// correctly.
func MergeAll(policy MergePolicy, records []EntityRecord) []EntityRecord {
	index := map[string]int{}
	var out []EntityRecord
	for _, r := range records {
		i, seen := index[r.IdentityKey]
		if !seen {
			index[r.IdentityKey] = len(out)
			out = append(out, Merge(policy, EntityRecord{
				IdentityKey: r.IdentityKey,
				Attributes:  map[string]string{},
			}, r))
			continue
		}
		out[i] = Merge(policy, out[i], r)
	}
	return out
}
