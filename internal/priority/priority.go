// Package priority places issues into the fixed urgency/importance matrix
// using their pri-<n> labels.
package priority

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/store"
)

// Bucket is one cell of the urgency/importance matrix.
type Bucket int

const (
	UrgentImportant Bucket = 1
	Important       Bucket = 2
	Urgent          Bucket = 3
	Neither         Bucket = 4
)

// Key is the attribute key that carries the priority.
const Key = "pri"

var (
	ErrMissingPriority   = errors.New("priority: no pri-<n> label")
	ErrAmbiguousPriority = errors.New("priority: conflicting pri-<n> labels")
	ErrOutOfRange        = errors.New("priority: value outside 1..4")
)

// Valid reports whether b is one of the four buckets.
func (b Bucket) Valid() bool { return b >= UrgentImportant && b <= Neither }

// Label returns the canonical label for b.
func (b Bucket) Label() string { return fmt.Sprintf("%s-%d", Key, int(b)) }

// Title is a short human description of the bucket.
func (b Bucket) Title() string {
	switch b {
	case UrgentImportant:
		return "Urgent and important"
	case Important:
		return "Important, not urgent"
	case Urgent:
		return "Urgent, not important"
	case Neither:
		return "Neither urgent nor important"
	}
	return "Unclassified"
}

// Classify returns the bucket of the first pri-<n> label, scanning in label order.
//
// With no numeric pri label it returns ErrMissingPriority. When the first value is
// outside 1..4 it returns that value with ErrOutOfRange. When later pri labels
// disagree with the first it returns the first value with ErrAmbiguousPriority.
func Classify(in []string) (Bucket, error) {
	var found []int
	for _, l := range in {
		lower := strings.ToLower(l)
		if !strings.HasPrefix(lower, Key+"-") {
			continue
		}
		n, err := strconv.Atoi(lower[len(Key)+1:])
		if err != nil {
			continue
		}
		found = append(found, n)
	}
	if len(found) == 0 {
		return 0, ErrMissingPriority
	}
	first := Bucket(found[0])
	if !first.Valid() {
		return first, ErrOutOfRange
	}
	for _, n := range found[1:] {
		if n != found[0] {
			return first, ErrAmbiguousPriority
		}
	}
	return first, nil
}

// Row holds the issues of one bucket.
type Row struct {
	Bucket Bucket        `json:"pri"`
	Title  string        `json:"title"`
	Issues []store.Issue `json:"issues"`
}

// Table is the full matrix plus issues that could not be placed.
type Table struct {
	Rows         []Row         `json:"buckets"`
	Unclassified []store.Issue `json:"unclassified"`
}

// Group sorts issues by lower-cased summary and distributes them over the four
// buckets. Issues with a missing or ambiguous priority go to Unclassified; issues
// whose priority is out of range are left out entirely.
func Group(issues []store.Issue) Table {
	sorted := append([]store.Issue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Summary) < strings.ToLower(sorted[j].Summary)
	})

	t := Table{Rows: make([]Row, 0, 4), Unclassified: []store.Issue{}}
	for b := UrgentImportant; b <= Neither; b++ {
		t.Rows = append(t.Rows, Row{Bucket: b, Title: b.Title(), Issues: []store.Issue{}})
	}
	for _, issue := range sorted {
		b, err := Classify(issue.Labels)
		switch {
		case errors.Is(err, ErrOutOfRange):
			continue
		case err != nil:
			t.Unclassified = append(t.Unclassified, issue)
		default:
			t.Rows[b-1].Issues = append(t.Rows[b-1].Issues, issue)
		}
	}
	return t
}

var legacyNames = map[string]Bucket{
	"critical": UrgentImportant,
	"urgent":   UrgentImportant,
	"high":     Important,
	"medium":   Urgent,
	"normal":   Urgent,
	"low":      Neither,
}

// legacyValue decodes the value of a priority-like label; ok is false for
// values that cannot name a bucket.
func legacyValue(v string) (Bucket, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if b, ok := legacyNames[v]; ok {
		return b, true
	}
	v = strings.TrimPrefix(v, "p")
	n, err := strconv.Atoi(v)
	if err != nil || !Bucket(n).Valid() {
		return 0, false
	}
	return Bucket(n), true
}

func isPriorityKey(key string) bool {
	key = strings.ToLower(key)
	return key == Key || key == "priority"
}

// Fix rewrites every priority-like label (pri-2, Pri-2, priority-high, pri-p2 ...)
// into a single canonical pri-<n>, placed where the first one was. The smallest
// valid value wins; def is used when none is valid or none exists. Fix is
// idempotent and reports whether the labels changed.
func Fix(in []string, def Bucket) ([]string, bool) {
	if !def.Valid() {
		def = Neither
	}

	best := Bucket(0)
	firstAt := -1
	for i, l := range labels.ParseAll(in) {
		if !l.IsAttribute() || !isPriorityKey(l.Key) {
			continue
		}
		if firstAt < 0 {
			firstAt = i
		}
		if b, ok := legacyValue(l.Value); ok && (best == 0 || b < best) {
			best = b
		}
	}
	if best == 0 {
		best = def
	}

	out := make([]string, 0, len(in)+1)
	for i, l := range in {
		if i == firstAt {
			out = append(out, best.Label())
		}
		if p := labels.Parse(l); p.IsAttribute() && isPriorityKey(p.Key) {
			continue
		}
		out = append(out, l)
	}
	if firstAt < 0 {
		out = append(out, best.Label())
	}
	return out, !slices.Equal(in, out)
}
