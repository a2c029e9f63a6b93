package tracker

import (
	"errors"

	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/query"
	"github.com/antigravity-dev/tracker/internal/store"
)

var errIssueGone = errors.New("issue disappeared during fix")

// FixReport summarizes a FixPriorityLabels run.
type FixReport struct {
	Scanned int     `json:"scanned"`
	Changed []int64 `json:"changed"`
}

// FixPriorityLabels rewrites every issue's priority labels into one canonical
// pri-<n>. Only changed label sets are written, so a second run changes nothing.
func (e *Engine) FixPriorityLabels() (FixReport, error) {
	report := FixReport{Changed: []int64{}}
	issues, err := e.store.AllIssues()
	if err != nil {
		return report, storeErr("list issues", err)
	}
	def := e.DefaultPriority()
	for _, issue := range issues {
		report.Scanned++
		if _, changed := priority.Fix(issue.Labels, def); !changed {
			continue
		}
		// Fix again inside the write so a concurrent edit is not overwritten.
		var from []string
		updated, err := e.store.UpdateIssue(issue.ID, func(current *store.Issue) (*store.Issue, error) {
			if current == nil {
				return nil, errIssueGone
			}
			from = current.Labels
			current.Labels, _ = priority.Fix(current.Labels, def)
			return current, nil
		})
		if errors.Is(err, errIssueGone) {
			continue
		}
		if err != nil {
			return report, storeErr("update labels", err)
		}
		e.logger.Info("priority label fixed", "issue", issue.ID, "from", from, "to", updated.Labels)
		report.Changed = append(report.Changed, issue.ID)
	}
	return report, nil
}

// Table groups matching issues into the priority matrix.
func (e *Engine) Table(label string, includeClosed bool, where *query.Predicate) (priority.Table, error) {
	issues, err := e.Find(label, includeClosed, where)
	if err != nil {
		return priority.Table{}, err
	}
	return priority.Group(issues), nil
}
