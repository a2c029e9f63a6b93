package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/tracker/internal/store"
)

// Export renders every issue carrying label (all issues when empty), closed
// ones included, in the import wire format.
func (e *Engine) Export(label string) ([]Item, error) {
	issues, err := e.store.QueryIssues(store.IssueFilter{Label: label, IncludeClosed: true})
	if err != nil {
		return nil, storeErr("query issues", err)
	}
	items := make([]Item, 0, len(issues))
	for i := range issues {
		items = append(items, ToItem(&issues[i]))
	}
	return items, nil
}

// WriteItems writes items as an indented JSON array.
func WriteItems(w io.Writer, items []Item) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// WriteItemsYAML writes items as a YAML sequence for human review. Import
// only reads JSON.
func WriteItemsYAML(w io.Writer, items []Item) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(items); err != nil {
		return err
	}
	return enc.Close()
}

// DecodeItems reads a JSON array of flat objects. Numbers are kept as
// json.Number so ids survive without float rounding.
func DecodeItems(r io.Reader) ([]Item, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var items []Item
	if err := dec.Decode(&items); err != nil {
		return nil, &ValidationError{Field: "dump", Value: "", Err: fmt.Errorf("decode items: %w", err)}
	}
	for i, item := range items {
		if item == nil {
			return nil, &ValidationError{Field: "dump", Value: fmt.Sprint(i + 1), Err: fmt.Errorf("item is not an object")}
		}
	}
	return items, nil
}

func decodeItem(data string) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var item Item
	if err := dec.Decode(&item); err != nil || item == nil {
		if err == nil {
			err = fmt.Errorf("item is not an object")
		}
		return nil, &ValidationError{Field: "data", Value: truncate(data, 64), Err: err}
	}
	return item, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
