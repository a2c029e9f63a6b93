// Package query compiles user-supplied predicates used to narrow issue listings,
// for example `priority <= 2 && "bug" in labels` or `attrs.area == "ui"`.
package query

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/store"
)

// Env is the view of an issue that predicates are evaluated against.
type Env struct {
	ID           int64             `expr:"id"`
	Summary      string            `expr:"summary"`
	Description  string            `expr:"description"`
	Author       string            `expr:"author"`
	Owner        string            `expr:"owner"`
	Labels       []string          `expr:"labels"`
	CommentCount int               `expr:"comment_count"`
	Open         bool              `expr:"open"`
	Priority     int               `expr:"priority"` // 0 when the issue cannot be classified
	Attrs        map[string]string `expr:"attrs"`
}

// NewEnv builds the predicate environment for an issue.
func NewEnv(issue store.Issue) Env {
	pri := 0
	if b, err := priority.Classify(issue.Labels); err == nil {
		pri = int(b)
	}
	return Env{
		ID:           issue.ID,
		Summary:      issue.Summary,
		Description:  issue.Description,
		Author:       issue.Author,
		Owner:        issue.Owner,
		Labels:       issue.Labels,
		CommentCount: issue.CommentCount,
		Open:         !labels.IsClosed(issue.Labels),
		Priority:     pri,
		Attrs:        labels.Attributes(issue.Labels),
	}
}

// Predicate is a compiled boolean expression. A nil Predicate matches everything.
type Predicate struct {
	src     string
	program *vm.Program
}

// Compile parses src. Blank input yields a nil Predicate.
func Compile(src string) (*Predicate, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("query: compile %q: %w", src, err)
	}
	return &Predicate{src: src, program: program}, nil
}

// String returns the source expression.
func (p *Predicate) String() string {
	if p == nil {
		return ""
	}
	return p.src
}

// Match evaluates the predicate against an issue.
func (p *Predicate) Match(issue store.Issue) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, err := expr.Run(p.program, NewEnv(issue))
	if err != nil {
		return false, fmt.Errorf("query: evaluate %q on issue %d: %w", p.src, issue.ID, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Filter keeps the issues that match p.
func (p *Predicate) Filter(issues []store.Issue) ([]store.Issue, error) {
	if p == nil {
		return issues, nil
	}
	out := make([]store.Issue, 0, len(issues))
	for _, issue := range issues {
		ok, err := p.Match(issue)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, issue)
		}
	}
	return out, nil
}
