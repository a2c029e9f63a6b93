package tracker

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/store"
)

// MaxViewComments bounds the comments returned with an issue view.
const MaxViewComments = 100

// CommentRequest is one comment submission. Labels is the proposed label set
// for the issue, already normalized; Resolved decides between Open and Closed.
type CommentRequest struct {
	IssueID  int64
	Author   string
	Text     string
	Labels   []string
	Resolved bool
}

// AddComment appends a comment and moves the issue to the submitted label set
// with exactly one state tag. Comments on unknown issues fail with ErrNotFound
// and write nothing.
func (e *Engine) AddComment(req CommentRequest) (*store.Comment, error) {
	if req.IssueID <= 0 {
		return nil, fmt.Errorf("comment on issue %d: %w", req.IssueID, ErrNotFound)
	}

	next := labels.WithState(req.Labels, req.Resolved)
	now := e.now()
	c := &store.Comment{
		IssueID:     req.IssueID,
		Author:      strings.TrimSpace(req.Author),
		Text:        req.Text,
		Labels:      next,
		DateCreated: now,
	}
	if err := e.store.AppendComment(c, next, now); err != nil {
		if isStoreNotFound(err) {
			return nil, fmt.Errorf("comment on issue %d: %w", req.IssueID, ErrNotFound)
		}
		return nil, storeErr("append comment", err)
	}
	e.logger.Info("comment added", "issue", req.IssueID, "comment", c.ID, "resolved", req.Resolved)
	return c, nil
}

// IssueView is an issue prepared for display.
type IssueView struct {
	Issue         *store.Issue    `json:"issue"`
	DisplayLabels []string        `json:"display_labels"`
	Resolved      bool            `json:"resolved"`
	Comments      []store.Comment `json:"comments"`
}

// View loads an issue with its labels in display order and its oldest comments.
func (e *Engine) View(id int64) (*IssueView, error) {
	issue, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	comments, err := e.store.ListComments(id, MaxViewComments)
	if err != nil {
		return nil, storeErr("list comments", err)
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return &IssueView{
		Issue:         issue,
		DisplayLabels: labels.SortForDisplay(issue.Labels),
		Resolved:      labels.IsClosed(issue.Labels),
		Comments:      comments,
	}, nil
}
