package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/tracker/internal/queue"
	"github.com/antigravity-dev/tracker/internal/store"
)

// TaskImportOne is the queue task that imports a single item.
const TaskImportOne = "import-one"

// ImportError reports the item a synchronous import stopped at. Index is 1-based.
type ImportError struct {
	Index int
	Err   error
}

func (e *ImportError) Error() string { return fmt.Sprintf("import item %d: %v", e.Index, e.Err) }

func (e *ImportError) Unwrap() error { return e.Err }

// Importer turns a batch of items into issue updates, either inline or as one
// queued task per item.
type Importer struct {
	engine *Engine
	queue  queue.Queue
	logger *slog.Logger
}

// NewImporter creates an importer. A nil queue forces synchronous imports.
func NewImporter(engine *Engine, q queue.Queue, logger *slog.Logger) *Importer {
	return &Importer{engine: engine, queue: q, logger: logger.With("component", "importer")}
}

// Register installs the import-one handler on mux.
func (im *Importer) Register(mux *queue.Mux) {
	mux.Handle(TaskImportOne, im.ImportOne)
}

// ImportAll imports items. When delayed and a queue is configured, each item
// becomes an independent import-one task and enqueue failures are joined
// without stopping the rest. Otherwise items are applied in order and the
// first failure aborts the remainder with an *ImportError.
func (im *Importer) ImportAll(ctx context.Context, items []Item, delayed bool) error {
	if delayed && im.queue != nil {
		return im.enqueueAll(ctx, items)
	}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return &ImportError{Index: i + 1, Err: err}
		}
		if _, err := im.importItem(item); err != nil {
			im.logger.Warn("import aborted", "item", i+1, "of", len(items), "error", err)
			return &ImportError{Index: i + 1, Err: err}
		}
	}
	im.logger.Info("import finished", "items", len(items))
	return nil
}

func (im *Importer) enqueueAll(ctx context.Context, items []Item) error {
	var errs []error
	queued := 0
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			errs = append(errs, &ImportError{Index: i + 1, Err: err})
			continue
		}
		if err := im.queue.Enqueue(ctx, TaskImportOne, map[string]string{"data": string(data)}); err != nil {
			errs = append(errs, &ImportError{Index: i + 1, Err: err})
			continue
		}
		queued++
	}
	im.logger.Info("import queued", "items", len(items), "queued", queued)
	return errors.Join(errs...)
}

// ImportOne is the import-one task handler. The payload carries the JSON item
// under "data". Running it twice with the same payload stores the same issue.
func (im *Importer) ImportOne(_ context.Context, payload map[string]string) error {
	data, ok := payload["data"]
	if !ok {
		return &ValidationError{Field: "data", Err: fmt.Errorf("missing")}
	}
	item, err := decodeItem(data)
	if err != nil {
		return err
	}
	issue, err := im.importItem(item)
	if err != nil {
		return err
	}
	im.logger.Debug("item imported", "id", issue.ID)
	return nil
}

func (im *Importer) importItem(item Item) (*store.Issue, error) {
	req, err := ParseFields(item)
	if err != nil {
		return nil, err
	}
	return im.engine.Update(req, UpdateOptions{Create: true})
}
