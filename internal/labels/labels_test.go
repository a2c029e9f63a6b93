package labels

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "dedup and sort", in: "a, a, b", want: []string{"a", "b"}},
		{name: "empty", in: "", want: []string{}},
		{name: "only separators", in: " ,, , ", want: []string{}},
		{name: "mixed separators", in: "pri-2,Open  due-2024-01-01", want: []string{"Open", "due-2024-01-01", "pri-2"}},
		{name: "case sensitive", in: "b B a", want: []string{"B", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Normalize(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDedupeKeepsOrder(t *testing.T) {
	got := Dedupe([]string{"pri-2", "Open", "", "pri-2", " bug "})
	want := []string{"pri-2", "Open", "bug"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe = %v, want %v", got, want)
	}
}

func TestParse(t *testing.T) {
	if l := Parse("Open"); l.IsAttribute() || l.Name != "Open" {
		t.Fatalf("Parse(Open) = %+v", l)
	}
	l := Parse("due-2024-01-01")
	if !l.IsAttribute() || l.Key != "due" || l.Value != "2024-01-01" {
		t.Fatalf("Parse(due-...) = %+v", l)
	}
	if l.String() != "due-2024-01-01" {
		t.Fatalf("String() = %q", l.String())
	}
	if l := Parse("-x"); !l.IsAttribute() || l.Key != "" || l.Value != "x" {
		t.Fatalf("Parse(-x) = %+v", l)
	}
}

func TestColumns(t *testing.T) {
	got := Columns(
		[]string{"Open", "pri-1", "owner-bob"},
		[]string{"pri-3", "area-ui-kit"},
	)
	want := []string{"area", "owner", "pri"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Columns = %v, want %v", got, want)
	}
	if got := Columns([]string{"Open"}); len(got) != 0 {
		t.Fatalf("Columns of tags = %v, want none", got)
	}
}

func TestValueAndAttributes(t *testing.T) {
	set := []string{"Open", "Pri-2", "pri-3", "area-api"}
	if v := Value(set, "pri"); v != "2" {
		t.Fatalf("Value(pri) = %q, want 2", v)
	}
	if v := Value(set, "missing"); v != "" {
		t.Fatalf("Value(missing) = %q", v)
	}
	attrs := Attributes(set)
	if attrs["pri"] != "2" || attrs["area"] != "api" || len(attrs) != 2 {
		t.Fatalf("Attributes = %v", attrs)
	}
}

func TestSortForDisplay(t *testing.T) {
	in := []string{"Open", "zeta", "pri-2", "Area-ui", "alpha"}
	got := SortForDisplay(in)
	want := []string{"Area-ui", "pri-2", "alpha", "Open", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortForDisplay = %v, want %v", got, want)
	}
	if in[0] != "Open" {
		t.Fatal("SortForDisplay mutated its input")
	}
}

func TestWithState(t *testing.T) {
	got := WithState([]string{"Open", "bug", "Closed"}, true)
	if !reflect.DeepEqual(got, []string{"bug", "Closed"}) {
		t.Fatalf("WithState(resolved) = %v", got)
	}
	got = WithState([]string{"Closed"}, false)
	if !reflect.DeepEqual(got, []string{"Open"}) {
		t.Fatalf("WithState(open) = %v", got)
	}
}

func TestEnsureState(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{in: []string{"bug"}, want: []string{"bug", "Open"}},
		{in: []string{"Open", "Closed"}, want: []string{"Closed"}},
		{in: []string{"Closed", "bug"}, want: []string{"Closed", "bug"}},
		{in: nil, want: []string{"Open"}},
	}
	for _, tt := range tests {
		if got := EnsureState(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("EnsureState(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
