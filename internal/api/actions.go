package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/query"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

// maxImportBytes bounds an import request body.
const maxImportBytes = 32 << 20

func parseID(raw string, required bool) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return 0, &tracker.ValidationError{Field: "id", Err: fmt.Errorf("required")}
		}
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		if err == nil {
			err = fmt.Errorf("must not be negative")
		}
		return 0, &tracker.ValidationError{Field: "id", Value: raw, Err: err}
	}
	return id, nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// formFields flattens the posted form, dropping the routing parameter.
func formFields(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &tracker.ValidationError{Field: "form", Err: err}
	}
	fields := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if k == "action" || len(vs) == 0 {
			continue
		}
		fields[k] = vs[0]
	}
	return fields, nil
}

// listParams reads the label, closed and where filters shared by list and table.
func listParams(r *http.Request) (string, bool, *query.Predicate, error) {
	q := r.URL.Query()
	where, err := query.Compile(q.Get("where"))
	if err != nil {
		return "", false, nil, &tracker.ValidationError{Field: "where", Value: q.Get("where"), Err: err}
	}
	return strings.TrimSpace(q.Get("label")), parseFlag(q.Get("closed")), where, nil
}

type submitAction struct{ s *Server }

// Get returns an unsaved template issue for the submit form.
func (a submitAction) Get(w http.ResponseWriter, r *http.Request) {
	issue, err := a.s.engine.GetOrCreate(0)
	if err != nil {
		a.s.writeTrackerError(w, "submit", err)
		return
	}
	user := a.s.authMiddleware.CurrentUser(r)
	issue.Author, issue.Owner = user, user
	issue.Labels = labels.WithState(labels.Normalize(r.URL.Query().Get("labels")), false)
	writeJSON(w, issue)
}

// Post always allocates a fresh id; an id echoed back from the template is
// only a preview and is ignored.
func (a submitAction) Post(w http.ResponseWriter, r *http.Request) {
	a.s.update(w, r, "submit", tracker.UpdateOptions{Create: true})
}

type editAction struct{ s *Server }

func (a editAction) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Query().Get("id"), true)
	if err != nil {
		a.s.writeTrackerError(w, "edit", err)
		return
	}
	issue, err := a.s.engine.Get(id)
	if err != nil {
		a.s.writeTrackerError(w, "edit", err)
		return
	}
	writeJSON(w, issue)
}

func (a editAction) Post(w http.ResponseWriter, r *http.Request) {
	a.s.update(w, r, "edit", tracker.UpdateOptions{})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, action string, opts tracker.UpdateOptions) {
	fields, err := formFields(r)
	if err != nil {
		s.writeTrackerError(w, action, err)
		return
	}
	if action == "submit" {
		delete(fields, "id")
	}
	req, err := tracker.ParseForm(fields)
	if err != nil {
		s.writeTrackerError(w, action, err)
		return
	}
	if !opts.Create && req.ID == 0 {
		s.writeTrackerError(w, action, &tracker.ValidationError{Field: "id", Err: fmt.Errorf("required")})
		return
	}
	opts.Actor = s.authMiddleware.CurrentUser(r)

	issue, err := s.engine.Update(req, opts)
	if err != nil {
		s.writeTrackerError(w, action, err)
		return
	}
	s.logger.Info("issue updated", "action", action, "id", issue.ID, "actor", opts.Actor)
	code := http.StatusOK
	if opts.Create {
		code = http.StatusCreated
	}
	writeJSONStatus(w, code, issue)
}

type viewAction struct{ s *Server }

func (a viewAction) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Query().Get("id"), true)
	if err != nil {
		a.s.writeTrackerError(w, "view", err)
		return
	}
	view, err := a.s.engine.View(id)
	if err != nil {
		a.s.writeTrackerError(w, "view", err)
		return
	}
	writeJSON(w, view)
}

type commentAction struct{ s *Server }

func (a commentAction) Post(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		a.s.writeTrackerError(w, "comment", err)
		return
	}
	id, err := parseID(fields["id"], true)
	if err != nil {
		a.s.writeTrackerError(w, "comment", err)
		return
	}
	c, err := a.s.engine.AddComment(tracker.CommentRequest{
		IssueID:  id,
		Author:   a.s.authMiddleware.CurrentUser(r),
		Text:     fields["text"],
		Labels:   labels.Normalize(fields["labels"]),
		Resolved: parseFlag(fields["resolved"]),
	})
	if err != nil {
		a.s.writeTrackerError(w, "comment", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

type listAction struct{ s *Server }

func (a listAction) Get(w http.ResponseWriter, r *http.Request) {
	label, closed, where, err := listParams(r)
	if err != nil {
		a.s.writeTrackerError(w, "list", err)
		return
	}
	issues, err := a.s.engine.Find(label, closed, where)
	if err != nil {
		a.s.writeTrackerError(w, "list", err)
		return
	}
	if issues == nil {
		issues = []store.Issue{}
	}
	sets := make([][]string, 0, len(issues))
	for _, issue := range issues {
		sets = append(sets, issue.Labels)
	}
	// cells[i][j] is issue i's value for columns[j], "" when unset.
	columns := labels.Columns(sets...)
	cells := make([][]string, len(issues))
	for i, issue := range issues {
		row := make([]string, len(columns))
		for j, key := range columns {
			row[j] = labels.Value(issue.Labels, key)
		}
		cells[i] = row
	}
	writeJSON(w, map[string]any{
		"label":   label,
		"closed":  closed,
		"where":   where.String(),
		"columns": columns,
		"cells":   cells,
		"issues":  issues,
	})
}

type tableAction struct{ s *Server }

func (a tableAction) Get(w http.ResponseWriter, r *http.Request) {
	label, closed, where, err := listParams(r)
	if err != nil {
		a.s.writeTrackerError(w, "table", err)
		return
	}
	table, err := a.s.engine.Table(label, closed, where)
	if err != nil {
		a.s.writeTrackerError(w, "table", err)
		return
	}
	writeJSON(w, table)
}

type exportAction struct{ s *Server }

func (a exportAction) Get(w http.ResponseWriter, r *http.Request) {
	items, err := a.s.engine.Export(strings.TrimSpace(r.URL.Query().Get("label")))
	if err != nil {
		a.s.writeTrackerError(w, "export", err)
		return
	}
	writeJSON(w, items)
}

type importAction struct{ s *Server }

// Post accepts either a JSON array body or a form with the array under "dump".
func (a importAction) Post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	sync := parseFlag(r.URL.Query().Get("sync"))

	var items []tracker.Item
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		items, err = tracker.DecodeItems(r.Body)
	} else {
		var fields map[string]string
		if fields, err = formFields(r); err == nil {
			sync = sync || parseFlag(fields["sync"])
			items, err = tracker.DecodeItems(strings.NewReader(fields["dump"]))
		}
	}
	if err != nil {
		a.s.writeTrackerError(w, "import", err)
		return
	}

	if err := a.s.importer.ImportAll(r.Context(), items, !sync); err != nil {
		a.s.writeTrackerError(w, "import", err)
		return
	}
	mode := "queued"
	if sync || a.s.cfgMgr.Get().Import.Backend == config.BackendSync {
		mode = "sync"
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"items": len(items), "mode": mode})
}

type importOneAction struct{ s *Server }

func (a importOneAction) Post(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		a.s.writeTrackerError(w, "import-one", err)
		return
	}
	if err := a.s.importer.ImportOne(r.Context(), map[string]string{"data": fields["data"]}); err != nil {
		a.s.writeTrackerError(w, "import-one", err)
		return
	}
	writeJSON(w, map[string]string{"status": "imported"})
}

type fixPriorityAction struct{ s *Server }

func (a fixPriorityAction) Get(w http.ResponseWriter, r *http.Request) { a.run(w) }

func (a fixPriorityAction) Post(w http.ResponseWriter, r *http.Request) { a.run(w) }

func (a fixPriorityAction) run(w http.ResponseWriter) {
	report, err := a.s.engine.FixPriorityLabels()
	if err != nil {
		a.s.writeTrackerError(w, "fixpriority", err)
		return
	}
	writeJSON(w, report)
}
