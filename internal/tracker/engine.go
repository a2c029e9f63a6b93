// Package tracker implements the issue lifecycle: typed updates, comments,
// priority maintenance and bulk import on top of an IssueStore.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/query"
	"github.com/antigravity-dev/tracker/internal/store"
)

// IssueStore is the persistence the engine needs. *store.Store implements it.
type IssueStore interface {
	GetIssue(id int64) (*store.Issue, error)
	MaxIssueID() (int64, error)
	CreateIssue(issue *store.Issue) error
	UpdateIssue(id int64, mutate func(current *store.Issue) (*store.Issue, error)) (*store.Issue, error)
	QueryIssues(f store.IssueFilter) ([]store.Issue, error)
	AllIssues() ([]store.Issue, error)
	ListComments(issueID int64, limit int) ([]store.Comment, error)
	AppendComment(c *store.Comment, issueLabels []string, updatedAt time.Time) error
}

var _ IssueStore = (*store.Store)(nil)

// UpdateOptions controls how Update resolves its target.
type UpdateOptions struct {
	// Create allows an id that does not exist yet to be materialized.
	Create bool
	// Actor becomes the author of newly created issues unless the request names one.
	Actor string
}

// Engine applies lifecycle rules to issues.
type Engine struct {
	store  IssueStore
	logger *slog.Logger
	now    func() time.Time

	defaultPriority atomic.Int32
}

// NewEngine creates an engine over st.
func NewEngine(st IssueStore, logger *slog.Logger) *Engine {
	e := &Engine{
		store:  st,
		logger: logger.With("component", "tracker"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	e.defaultPriority.Store(int32(priority.Neither))
	return e
}

// SetDefaultPriority sets the bucket FixPriorityLabels assigns to issues
// without a usable priority label. It is safe to call while serving.
func (e *Engine) SetDefaultPriority(b priority.Bucket) {
	if b.Valid() {
		e.defaultPriority.Store(int32(b))
	}
}

// DefaultPriority returns the bucket assigned by FixPriorityLabels.
func (e *Engine) DefaultPriority() priority.Bucket {
	return priority.Bucket(e.defaultPriority.Load())
}

// Update creates or modifies one issue from req. Issues without an id get
// the next free id from the store; otherwise the read, the field changes and
// the write happen in one store transaction, so concurrent comments are never
// lost. Replaying the same request yields the same stored issue apart from
// DateUpdated.
func (e *Engine) Update(req UpdateRequest, opts UpdateOptions) (*store.Issue, error) {
	if req.ID <= 0 {
		issue := e.newIssue(0, opts.Actor)
		e.prepare(issue, req)
		if err := e.store.CreateIssue(issue); err != nil {
			return nil, storeErr("create issue", err)
		}
		e.logger.Debug("issue created", "id", issue.ID, "labels", issue.Labels)
		return issue, nil
	}

	var notFound error
	issue, err := e.store.UpdateIssue(req.ID, func(current *store.Issue) (*store.Issue, error) {
		if current == nil {
			if !opts.Create {
				notFound = fmt.Errorf("issue %d: %w", req.ID, ErrNotFound)
				return nil, notFound
			}
			current = e.newIssue(req.ID, opts.Actor)
		}
		e.prepare(current, req)
		return current, nil
	})
	if notFound != nil {
		return nil, notFound
	}
	if err != nil {
		return nil, storeErr("save issue", err)
	}
	e.logger.Debug("issue saved", "id", issue.ID, "labels", issue.Labels)
	return issue, nil
}

// prepare applies req to issue and enforces the state label.
func (e *Engine) prepare(issue *store.Issue, req UpdateRequest) {
	apply(issue, req)
	issue.Labels = labels.EnsureState(issue.Labels)
	if req.DateUpdated == nil {
		issue.DateUpdated = e.now()
	}
}

// GetOrCreate loads the issue with the given id. A zero id yields a fresh
// unsaved issue showing the next free id, which is only a preview: saving it
// through Update without an id allocates again. An unknown id yields an
// unsaved issue carrying it.
func (e *Engine) GetOrCreate(id int64) (*store.Issue, error) {
	if id <= 0 {
		next, err := e.nextID()
		if err != nil {
			return nil, err
		}
		return e.newIssue(next, ""), nil
	}
	issue, err := e.store.GetIssue(id)
	if err != nil {
		return nil, storeErr("get issue", err)
	}
	if issue == nil {
		return e.newIssue(id, ""), nil
	}
	return issue, nil
}

// Get returns an existing issue or ErrNotFound.
func (e *Engine) Get(id int64) (*store.Issue, error) {
	issue, err := e.store.GetIssue(id)
	if err != nil {
		return nil, storeErr("get issue", err)
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	return issue, nil
}

// Find lists issues carrying label (any when empty). Closed issues are only
// included on request. A non-nil predicate narrows the result further.
func (e *Engine) Find(label string, includeClosed bool, where *query.Predicate) ([]store.Issue, error) {
	issues, err := e.store.QueryIssues(store.IssueFilter{Label: label, IncludeClosed: includeClosed})
	if err != nil {
		return nil, storeErr("query issues", err)
	}
	out, err := where.Filter(issues)
	if err != nil {
		return nil, &ValidationError{Field: "where", Value: where.String(), Err: err}
	}
	return out, nil
}

// Ping checks that the store answers queries.
func (e *Engine) Ping() error {
	_, err := e.store.MaxIssueID()
	return storeErr("ping", err)
}

func (e *Engine) nextID() (int64, error) {
	max, err := e.store.MaxIssueID()
	if err != nil {
		return 0, storeErr("max issue id", err)
	}
	return max + 1, nil
}

func (e *Engine) newIssue(id int64, actor string) *store.Issue {
	now := e.now()
	return &store.Issue{
		ID:          id,
		Author:      actor,
		Labels:      []string{labels.Open},
		DateCreated: now,
		DateUpdated: now,
	}
}

func apply(issue *store.Issue, req UpdateRequest) {
	if req.Summary != nil {
		issue.Summary = *req.Summary
	}
	if req.Description != nil {
		issue.Description = *req.Description
	}
	if req.Author != nil {
		issue.Author = *req.Author
	}
	if req.Owner != nil {
		issue.Owner = *req.Owner
	}
	if req.Labels != nil {
		issue.Labels = append([]string{}, req.Labels...)
	}
	if req.DateCreated != nil {
		issue.DateCreated = *req.DateCreated
	}
	if req.DateUpdated != nil {
		issue.DateUpdated = *req.DateUpdated
	}
	if len(req.Extra) > 0 {
		if issue.Extra == nil {
			issue.Extra = make(map[string]string, len(req.Extra))
		}
		for k, v := range req.Extra {
			issue.Extra[k] = v
		}
	}
}

func isStoreNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
