// Package labels parses and classifies free-text issue labels.
//
// A label is either a bare tag ("Open") or an attribute encoded as "key-value",
// split at the first '-' so the value may itself contain dashes ("due-2024-01-01").
package labels

import (
	"regexp"
	"sort"
	"strings"
)

// State tags. Exactly one of them is kept on an issue.
const (
	Open   = "Open"
	Closed = "Closed"
)

var separators = regexp.MustCompile(`[, ]+`)

// Normalize splits raw input on commas and spaces, drops empty tokens,
// removes duplicates and returns the result sorted.
func Normalize(raw string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, tok := range separators.Split(raw, -1) {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Dedupe drops empty and repeated labels, keeping first-seen order.
func Dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Kind distinguishes bare tags from key-value attributes.
type Kind int

const (
	KindTag Kind = iota
	KindAttribute
)

// Label is the structured form of a label string.
type Label struct {
	Kind  Kind
	Name  string // tag name; empty for attributes
	Key   string
	Value string
}

// Tag builds a bare tag.
func Tag(name string) Label { return Label{Kind: KindTag, Name: name} }

// Attribute builds a key-value label.
func Attribute(key, value string) Label { return Label{Kind: KindAttribute, Key: key, Value: value} }

// Parse converts a raw label into its structured form.
func Parse(s string) Label {
	key, value, ok := strings.Cut(s, "-")
	if !ok {
		return Tag(s)
	}
	return Attribute(key, value)
}

// IsAttribute reports whether l is a key-value label.
func (l Label) IsAttribute() bool { return l.Kind == KindAttribute }

// String returns the wire form of the label.
func (l Label) String() string {
	if l.Kind == KindAttribute {
		return l.Key + "-" + l.Value
	}
	return l.Name
}

// ParseAll parses every label in order.
func ParseAll(in []string) []Label {
	out := make([]Label, len(in))
	for i, s := range in {
		out[i] = Parse(s)
	}
	return out
}

// Columns returns every distinct attribute key found in the given label sets, sorted.
func Columns(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, set := range sets {
		for _, l := range ParseAll(set) {
			if !l.IsAttribute() {
				continue
			}
			if _, ok := seen[l.Key]; ok {
				continue
			}
			seen[l.Key] = struct{}{}
			cols = append(cols, l.Key)
		}
	}
	sort.Strings(cols)
	return cols
}

// Value returns the value of the first attribute whose key matches key
// case-insensitively, or "" if there is none.
func Value(in []string, key string) string {
	for _, l := range ParseAll(in) {
		if l.IsAttribute() && strings.EqualFold(l.Key, key) {
			return l.Value
		}
	}
	return ""
}

// Attributes returns the attributes of a label set keyed by lower-cased key.
// The first occurrence of a key wins.
func Attributes(in []string) map[string]string {
	out := make(map[string]string)
	for _, l := range ParseAll(in) {
		if !l.IsAttribute() {
			continue
		}
		k := strings.ToLower(l.Key)
		if _, ok := out[k]; !ok {
			out[k] = l.Value
		}
	}
	return out
}

// SortForDisplay orders attributes before tags, then case-insensitively.
func SortForDisplay(in []string) []string {
	out := append([]string(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := strings.Contains(out[i], "-"), strings.Contains(out[j], "-")
		if ai != aj {
			return ai
		}
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Contains reports whether label is present in the set.
func Contains(in []string, label string) bool {
	for _, l := range in {
		if l == label {
			return true
		}
	}
	return false
}

// IsClosed reports whether the set carries the Closed state tag.
func IsClosed(in []string) bool { return Contains(in, Closed) }

// Without returns in minus every label in drop.
func Without(in []string, drop ...string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if !Contains(drop, l) {
			out = append(out, l)
		}
	}
	return out
}

// WithState strips Open and Closed and appends the one matching resolved.
func WithState(in []string, resolved bool) []string {
	out := Without(in, Open, Closed)
	if resolved {
		return append(out, Closed)
	}
	return append(out, Open)
}

// EnsureState keeps exactly one state tag: Closed wins when both are present
// and Open is appended when neither is.
func EnsureState(in []string) []string {
	open, closed := Contains(in, Open), Contains(in, Closed)
	switch {
	case open && closed:
		return Without(in, Open)
	case !open && !closed:
		return append(append([]string(nil), in...), Open)
	default:
		return in
	}
}
