package query

import (
	"testing"

	"github.com/antigravity-dev/tracker/internal/store"
)

var issues = []store.Issue{
	{ID: 1, Summary: "Login broken", Labels: []string{"Open", "pri-1", "bug", "area-auth"}},
	{ID: 2, Summary: "Docs typo", Labels: []string{"Closed", "pri-4", "area-docs"}},
	{ID: 3, Summary: "Dark mode", Labels: []string{"Open", "pri-2", "area-ui"}, CommentCount: 3},
}

func ids(in []store.Issue) []int64 {
	var out []int64
	for _, i := range in {
		out = append(out, i.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		src  string
		want []int64
	}{
		{src: `priority <= 2`, want: []int64{1, 3}},
		{src: `"bug" in labels`, want: []int64{1}},
		{src: `attrs.area == "ui"`, want: []int64{3}},
		{src: `!open`, want: []int64{2}},
		{src: `comment_count > 0 && summary contains "Dark"`, want: []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			got, err := p.Filter(issues)
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			g := ids(got)
			if len(g) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", g, tt.want)
			}
			for i := range g {
				if g[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", g, tt.want)
				}
			}
		})
	}
}

func TestCompileBlank(t *testing.T) {
	p, err := Compile("  ")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatal("expected nil predicate for blank input")
	}
	got, err := p.Filter(issues)
	if err != nil || len(got) != len(issues) {
		t.Fatalf("nil predicate Filter = %d issues, %v", len(got), err)
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{`priority +`, `summary`, `nosuchfield == 1`} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) expected error", src)
		}
	}
}
