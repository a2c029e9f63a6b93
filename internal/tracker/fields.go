package tracker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/tracker/internal/labels"
	"github.com/antigravity-dev/tracker/internal/store"
)

// Field names shared by form input, import items and exports.
const (
	FieldID           = "id"
	FieldSummary      = "summary"
	FieldDescription  = "description"
	FieldAuthor       = "author"
	FieldOwner        = "owner"
	FieldLabels       = "labels"
	FieldCommentCount = "comment_count"
	FieldDateCreated  = "date_created"
	FieldDateUpdated  = "date_updated"
)

// UpdateRequest is the typed form of an issue update. Nil pointers and a nil
// Labels slice mean "not supplied". Extra carries fields the tracker does not
// model; they are stored verbatim.
type UpdateRequest struct {
	ID           int64
	Summary      *string
	Description  *string
	Author       *string
	Owner        *string
	Labels       []string
	CommentCount *int
	DateCreated  *time.Time
	DateUpdated  *time.Time
	Extra        map[string]string
}

// Item is one untyped record of the import/export wire format.
type Item map[string]any

// ParseFields coerces an untyped field map into an UpdateRequest.
//
// id and comment_count accept integers or decimal strings, dates use
// store.TimeLayout, and labels may be raw text (normalized) or a list
// (deduplicated, order kept). Unknown fields go to Extra.
func ParseFields(fields map[string]any) (UpdateRequest, error) {
	var req UpdateRequest

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		switch k {
		case FieldID:
			n, err := parseInt(k, v)
			if err != nil {
				return req, err
			}
			if n < 0 {
				return req, &ValidationError{Field: k, Value: fmt.Sprint(v), Err: fmt.Errorf("must not be negative")}
			}
			req.ID = n
		case FieldCommentCount:
			n, err := parseInt(k, v)
			if err != nil {
				return req, err
			}
			c := int(n)
			req.CommentCount = &c
		case FieldSummary, FieldDescription, FieldAuthor, FieldOwner:
			s, err := parseString(k, v)
			if err != nil {
				return req, err
			}
			switch k {
			case FieldSummary:
				req.Summary = &s
			case FieldDescription:
				req.Description = &s
			case FieldAuthor:
				s = strings.TrimSpace(s)
				req.Author = &s
			case FieldOwner:
				s = strings.TrimSpace(s)
				req.Owner = &s
			}
		case FieldDateCreated, FieldDateUpdated:
			ts, err := parseTime(k, v)
			if err != nil {
				return req, err
			}
			if k == FieldDateCreated {
				req.DateCreated = &ts
			} else {
				req.DateUpdated = &ts
			}
		case FieldLabels:
			l, err := parseLabels(v)
			if err != nil {
				return req, err
			}
			req.Labels = l
		default:
			s, err := parseString(k, v)
			if err != nil {
				return req, err
			}
			if req.Extra == nil {
				req.Extra = make(map[string]string)
			}
			req.Extra[k] = s
		}
	}
	return req, nil
}

// ParseForm is ParseFields for string-valued input such as HTML forms.
func ParseForm(fields map[string]string) (UpdateRequest, error) {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return ParseFields(m)
}

func parseInt(field string, v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, &ValidationError{Field: field, Value: fmt.Sprint(v), Err: fmt.Errorf("not an integer")}
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, &ValidationError{Field: field, Value: x.String(), Err: err}
		}
		return n, nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, &ValidationError{Field: field, Value: x, Err: err}
		}
		return n, nil
	case nil:
		return 0, nil
	}
	return 0, &ValidationError{Field: field, Value: fmt.Sprint(v), Err: fmt.Errorf("unsupported type %T", v)}
}

func parseString(field string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	case float64, json.Number, bool, int, int64:
		return fmt.Sprint(x), nil
	}
	return "", &ValidationError{Field: field, Value: fmt.Sprint(v), Err: fmt.Errorf("unsupported type %T", v)}
}

func parseTime(field string, v any) (time.Time, error) {
	s, err := parseString(field, v)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.ParseInLocation(store.TimeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Value: s, Err: err}
	}
	return ts, nil
}

func parseLabels(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return labels.Normalize(x), nil
	case []string:
		return labels.Dedupe(x), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, &ValidationError{Field: FieldLabels, Value: fmt.Sprint(v), Err: fmt.Errorf("label %v is not a string", e)}
			}
			out = append(out, s)
		}
		return labels.Dedupe(out), nil
	case nil:
		return []string{}, nil
	}
	return nil, &ValidationError{Field: FieldLabels, Value: fmt.Sprint(v), Err: fmt.Errorf("unsupported type %T", v)}
}

// ToItem renders an issue in the wire format accepted by ParseFields.
func ToItem(issue *store.Issue) Item {
	item := Item{}
	for k, v := range issue.Extra {
		item[k] = v
	}
	item[FieldID] = strconv.FormatInt(issue.ID, 10)
	item[FieldSummary] = issue.Summary
	item[FieldDescription] = issue.Description
	item[FieldAuthor] = issue.Author
	item[FieldOwner] = issue.Owner
	item[FieldLabels] = append([]string{}, issue.Labels...)
	item[FieldCommentCount] = strconv.Itoa(issue.CommentCount)
	item[FieldDateCreated] = issue.DateCreated.UTC().Format(store.TimeLayout)
	item[FieldDateUpdated] = issue.DateUpdated.UTC().Format(store.TimeLayout)
	return item
}
