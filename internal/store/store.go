package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed timestamp format used in the database and on the wire.
const TimeLayout = "2006-01-02 15:04:05"

// ErrNotFound is returned by comment appends that target a missing issue.
var ErrNotFound = errors.New("store: not found")

// Store provides SQLite-backed persistence for issues and comments.
type Store struct {
	db *sql.DB
}

// Issue is a tracked issue. Author and Owner are identity references; "" means none.
type Issue struct {
	ID           int64             `json:"id"`
	Summary      string            `json:"summary"`
	Description  string            `json:"description"`
	Author       string            `json:"author,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	Labels       []string          `json:"labels"`
	CommentCount int               `json:"comment_count"`
	Extra        map[string]string `json:"extra,omitempty"`
	DateCreated  time.Time         `json:"date_created"`
	DateUpdated  time.Time         `json:"date_updated"`
}

// Comment is an append-only note on an issue. Labels holds the label set
// submitted with the comment.
type Comment struct {
	ID          int64     `json:"id"`
	IssueID     int64     `json:"issue_id"`
	Author      string    `json:"author,omitempty"`
	Text        string    `json:"text"`
	Labels      []string  `json:"labels"`
	DateCreated time.Time `json:"date_created"`
}

// IssueFilter selects issues. An empty Label matches every issue.
type IssueFilter struct {
	Label         string
	IncludeClosed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY,
	summary TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	labels TEXT NOT NULL DEFAULT '[]',
	comment_count INTEGER NOT NULL DEFAULT 0,
	date_created TEXT NOT NULL,
	date_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id INTEGER NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	labels TEXT NOT NULL DEFAULT '[]',
	date_created TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id, date_created);
`

// Open creates or opens a SQLite database at the given path and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	// Immediate transactions take the write lock up front, so a
	// read-modify-write waits on busy_timeout instead of failing on upgrade.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	// Run migrations for existing databases
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental schema migrations for existing databases.
func migrate(db *sql.DB) error {
	// Free-form import fields landed after the first release
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('issues') WHERE name = 'extra'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check extra column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE issues ADD COLUMN extra TEXT NOT NULL DEFAULT '{}'`); err != nil {
			return fmt.Errorf("add extra column: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const issueCols = `id, summary, description, author, owner, labels, comment_count, extra, date_created, date_updated`

// GetIssue returns the issue with the given id, or nil if there is none.
func (s *Store) GetIssue(id int64) (*Issue, error) {
	issues, err := queryIssues(s.db, `SELECT `+issueCols+` FROM issues WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}
	return &issues[0], nil
}

// MaxIssueID returns the largest issue id in use, or 0 for an empty store.
func (s *Store) MaxIssueID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM issues`).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: max issue id: %w", err)
	}
	return id, nil
}

// CreateIssue stores issue under the next free id and sets issue.ID. The id is
// allocated by the insert itself, so concurrent creates and explicit-id
// writes can never claim the same row.
func (s *Store) CreateIssue(issue *Issue) error {
	labelsJSON, err := encodeLabels(issue.Labels)
	if err != nil {
		return fmt.Errorf("store: encode labels: %w", err)
	}
	extraJSON, err := encodeExtra(issue.Extra)
	if err != nil {
		return fmt.Errorf("store: encode extra: %w", err)
	}

	err = s.db.QueryRow(`
		INSERT INTO issues (id, summary, description, author, owner, labels, comment_count, extra, date_created, date_updated)
		SELECT COALESCE(MAX(id), 0) + 1, ?, ?, ?, ?, ?, 0, ?, ?, ? FROM issues
		RETURNING id, comment_count`,
		issue.Summary, issue.Description, issue.Author, issue.Owner, labelsJSON,
		extraJSON, formatTime(issue.DateCreated), formatTime(issue.DateUpdated),
	).Scan(&issue.ID, &issue.CommentCount)
	if err != nil {
		return fmt.Errorf("store: create issue: %w", err)
	}
	return nil
}

// UpdateIssue reads issue id, passes it to mutate (nil when absent) and
// writes the result back, all inside one write transaction. Errors returned
// by mutate abort the update and are returned unchanged. The stored comment
// count is recomputed from the comments table.
func (s *Store) UpdateIssue(id int64, mutate func(current *Issue) (*Issue, error)) (*Issue, error) {
	if id <= 0 {
		return nil, fmt.Errorf("store: update issue: invalid id %d", id)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin update issue %d: %w", id, err)
	}
	defer tx.Rollback()

	found, err := queryIssues(tx, `SELECT `+issueCols+` FROM issues WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	var current *Issue
	if len(found) > 0 {
		current = &found[0]
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	next.ID = id
	if err := upsertIssue(tx, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit issue %d: %w", id, err)
	}
	return next, nil
}

func upsertIssue(q querier, issue *Issue) error {
	labelsJSON, err := encodeLabels(issue.Labels)
	if err != nil {
		return fmt.Errorf("store: encode labels: %w", err)
	}
	extraJSON, err := encodeExtra(issue.Extra)
	if err != nil {
		return fmt.Errorf("store: encode extra: %w", err)
	}

	err = q.QueryRow(`
		INSERT INTO issues (id, summary, description, author, owner, labels, comment_count, extra, date_created, date_updated)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COUNT(*) FROM comments WHERE issue_id = ?), ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			summary = excluded.summary,
			description = excluded.description,
			author = excluded.author,
			owner = excluded.owner,
			labels = excluded.labels,
			comment_count = excluded.comment_count,
			extra = excluded.extra,
			date_created = excluded.date_created,
			date_updated = excluded.date_updated
		RETURNING comment_count`,
		issue.ID, issue.Summary, issue.Description, issue.Author, issue.Owner, labelsJSON,
		issue.ID, extraJSON, formatTime(issue.DateCreated), formatTime(issue.DateUpdated),
	).Scan(&issue.CommentCount)
	if err != nil {
		return fmt.Errorf("store: save issue %d: %w", issue.ID, err)
	}
	return nil
}

// QueryIssues returns issues matching the filter ordered by id.
func (s *Store) QueryIssues(f IssueFilter) ([]Issue, error) {
	query := `SELECT ` + issueCols + ` FROM issues WHERE 1 = 1`
	var args []any
	if f.Label != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(issues.labels) WHERE json_each.value = ?)`
		args = append(args, f.Label)
	}
	if !f.IncludeClosed {
		query += ` AND NOT EXISTS (SELECT 1 FROM json_each(issues.labels) WHERE json_each.value = 'Closed')`
	}
	query += ` ORDER BY id`
	return queryIssues(s.db, query, args...)
}

// AllIssues returns every issue, closed ones included.
func (s *Store) AllIssues() ([]Issue, error) {
	return s.QueryIssues(IssueFilter{IncludeClosed: true})
}

// ListComments returns up to limit comments of an issue, oldest first.
func (s *Store) ListComments(issueID int64, limit int) ([]Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, issue_id, author, text, labels, date_created
		FROM comments WHERE issue_id = ?
		ORDER BY date_created, id LIMIT ?`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		var labelsJSON, created string
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &labelsJSON, &created); err != nil {
			return nil, fmt.Errorf("store: scan comment: %w", err)
		}
		if c.Labels, err = decodeLabels(labelsJSON); err != nil {
			return nil, fmt.Errorf("store: parse comment labels: %w", err)
		}
		if c.DateCreated, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("store: parse comment date: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AppendComment records a comment and, in the same transaction, replaces the
// issue's labels, recomputes its comment count and bumps its update time.
func (s *Store) AppendComment(c *Comment, issueLabels []string, updatedAt time.Time) error {
	commentLabels, err := encodeLabels(c.Labels)
	if err != nil {
		return fmt.Errorf("store: encode comment labels: %w", err)
	}
	newLabels, err := encodeLabels(issueLabels)
	if err != nil {
		return fmt.Errorf("store: encode issue labels: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin append comment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO comments (issue_id, author, text, labels, date_created)
		VALUES (?, ?, ?, ?, ?)`,
		c.IssueID, c.Author, c.Text, commentLabels, formatTime(c.DateCreated))
	if err != nil {
		return fmt.Errorf("store: insert comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: comment id: %w", err)
	}

	res, err = tx.Exec(`
		UPDATE issues SET
			labels = ?,
			comment_count = (SELECT COUNT(*) FROM comments WHERE issue_id = ?),
			date_updated = ?
		WHERE id = ?`,
		newLabels, c.IssueID, formatTime(updatedAt), c.IssueID)
	if err != nil {
		return fmt.Errorf("store: update issue %d after comment: %w", c.IssueID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: comment on issue %d: %w", c.IssueID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit append comment: %w", err)
	}
	c.ID = id
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func queryIssues(q querier, query string, args ...any) ([]Issue, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var i Issue
		var labelsJSON, extraJSON, created, updated string
		if err := rows.Scan(
			&i.ID, &i.Summary, &i.Description, &i.Author, &i.Owner, &labelsJSON,
			&i.CommentCount, &extraJSON, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("store: scan issue: %w", err)
		}
		if i.Labels, err = decodeLabels(labelsJSON); err != nil {
			return nil, fmt.Errorf("store: parse labels of issue %d: %w", i.ID, err)
		}
		if i.Extra, err = decodeExtra(extraJSON); err != nil {
			return nil, fmt.Errorf("store: parse extra of issue %d: %w", i.ID, err)
		}
		if i.DateCreated, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("store: parse date_created of issue %d: %w", i.ID, err)
		}
		if i.DateUpdated, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("store: parse date_updated of issue %d: %w", i.ID, err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeLabels(raw string) ([]string, error) {
	labels := []string{}
	if raw == "" {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeExtra(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil, err
	}
	return extra, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}
