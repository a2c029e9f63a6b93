package priority

import (
	"errors"
	"reflect"
	"testing"

	"github.com/antigravity-dev/tracker/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    Bucket
		wantErr error
	}{
		{name: "open pri-2", in: []string{"Open", "pri-2"}, want: 2},
		{name: "case insensitive", in: []string{"PRI-1"}, want: 1},
		{name: "out of range", in: []string{"pri-0"}, want: 0, wantErr: ErrOutOfRange},
		{name: "five is out of range", in: []string{"pri-5"}, want: 5, wantErr: ErrOutOfRange},
		{name: "missing", in: []string{"Open", "bug"}, wantErr: ErrMissingPriority},
		{name: "non numeric ignored", in: []string{"pri-high"}, wantErr: ErrMissingPriority},
		{name: "ambiguous keeps first", in: []string{"pri-3", "pri-1"}, want: 3, wantErr: ErrAmbiguousPriority},
		{name: "duplicates agree", in: []string{"pri-3", "Pri-3"}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Classify(%v) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Classify(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestGroup(t *testing.T) {
	issues := []store.Issue{
		{ID: 1, Summary: "zebra", Labels: []string{"Open", "pri-1"}},
		{ID: 2, Summary: "Apple", Labels: []string{"Open", "pri-1"}},
		{ID: 3, Summary: "no pri", Labels: []string{"Open"}},
		{ID: 4, Summary: "zero", Labels: []string{"pri-0"}},
		{ID: 5, Summary: "four", Labels: []string{"pri-4"}},
	}
	table := Group(issues)

	if len(table.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(table.Rows))
	}
	first := table.Rows[0]
	if first.Bucket != UrgentImportant || len(first.Issues) != 2 {
		t.Fatalf("bucket 1 = %+v", first)
	}
	if first.Issues[0].ID != 2 || first.Issues[1].ID != 1 {
		t.Fatalf("bucket 1 not sorted by summary: %d, %d", first.Issues[0].ID, first.Issues[1].ID)
	}
	if len(table.Rows[3].Issues) != 1 || table.Rows[3].Issues[0].ID != 5 {
		t.Fatalf("bucket 4 = %+v", table.Rows[3].Issues)
	}
	if len(table.Unclassified) != 1 || table.Unclassified[0].ID != 3 {
		t.Fatalf("unclassified = %+v", table.Unclassified)
	}
	for _, row := range table.Rows {
		for _, issue := range row.Issues {
			if issue.ID == 4 {
				t.Fatal("pri-0 issue must not be placed in any bucket")
			}
		}
	}
}

func TestFix(t *testing.T) {
	tests := []struct {
		name        string
		in          []string
		want        []string
		wantChanged bool
	}{
		{name: "canonical unchanged", in: []string{"Open", "pri-2"}, want: []string{"Open", "pri-2"}},
		{name: "case normalized", in: []string{"Pri-2", "Open"}, want: []string{"pri-2", "Open"}, wantChanged: true},
		{name: "named legacy", in: []string{"Open", "priority-high"}, want: []string{"Open", "pri-2"}, wantChanged: true},
		{name: "p prefix", in: []string{"pri-p1"}, want: []string{"pri-1"}, wantChanged: true},
		{name: "smallest wins", in: []string{"pri-3", "bug", "pri-1"}, want: []string{"pri-1", "bug"}, wantChanged: true},
		{name: "missing gets default", in: []string{"Open"}, want: []string{"Open", "pri-4"}, wantChanged: true},
		{name: "duplicate collapsed", in: []string{"pri-2", "Open", "pri-2"}, want: []string{"pri-2", "Open"}, wantChanged: true},
		{name: "invalid replaced by default", in: []string{"pri-0", "Open"}, want: []string{"pri-4", "Open"}, wantChanged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Fix(tt.in, Neither)
			if !reflect.DeepEqual(got, tt.want) || changed != tt.wantChanged {
				t.Fatalf("Fix(%v) = %v, %v; want %v, %v", tt.in, got, changed, tt.want, tt.wantChanged)
			}
			again, changed := Fix(got, Neither)
			if changed || !reflect.DeepEqual(again, got) {
				t.Fatalf("Fix not idempotent: %v -> %v", got, again)
			}
		})
	}
}

func TestFixInvalidDefault(t *testing.T) {
	got, _ := Fix(nil, Bucket(9))
	if !reflect.DeepEqual(got, []string{"pri-4"}) {
		t.Fatalf("Fix with invalid default = %v", got)
	}
}
