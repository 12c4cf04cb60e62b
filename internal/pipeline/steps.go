package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nao1215/sprite/internal/database"
	"github.com/nao1215/sprite/internal/model"
)

// StoreStep saves items to the SQLite item store.
type StoreStep struct {
	db    *database.ItemDB
	runID string
}

// StoreStepOption configures a StoreStep.
type StoreStepOption func(*StoreStep)

// WithRunID attaches stored items to a crawl run.
func WithRunID(id string) StoreStepOption {
	return func(s *StoreStep) {
		s.runID = id
	}
}

// NewStoreStep creates a store step writing to db.
func NewStoreStep(db *database.ItemDB, opts ...StoreStepOption) *StoreStep {
	s := &StoreStep{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *StoreStep) Name() string {
	return "store"
}

// Do stores item and passes it on unchanged.
func (s *StoreStep) Do(ctx context.Context, item model.Item, spiderName string) (model.Item, error) {
	if _, err := s.db.InsertItem(ctx, s.runID, spiderName, item.String("url"), item); err != nil {
		return nil, err
	}
	return item, nil
}

// JSONLinesStep writes each item as one JSON object per line.
type JSONLinesStep struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesStep creates a step writing to w.
func NewJSONLinesStep(w io.Writer) *JSONLinesStep {
	return &JSONLinesStep{enc: json.NewEncoder(w)}
}

// Name returns the step name.
func (s *JSONLinesStep) Name() string {
	return "json_lines"
}

// Do writes item.
func (s *JSONLinesStep) Do(_ context.Context, item model.Item, _ string) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(item); err != nil {
		return nil, fmt.Errorf("failed to write item: %w", err)
	}
	return item, nil
}

// RequireFieldsStep drops items missing any of its fields. Empty
// strings count as missing.
type RequireFieldsStep struct {
	fields []string
}

// NewRequireFieldsStep creates a step requiring fields.
func NewRequireFieldsStep(fields ...string) *RequireFieldsStep {
	return &RequireFieldsStep{fields: fields}
}

// Name returns the step name.
func (s *RequireFieldsStep) Name() string {
	return "require_fields"
}

// Do checks the fields of item.
func (s *RequireFieldsStep) Do(_ context.Context, item model.Item, _ string) (model.Item, error) {
	for _, field := range s.fields {
		v, ok := item[field]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: missing field %q", ErrDropItem, field)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return nil, fmt.Errorf("%w: empty field %q", ErrDropItem, field)
		}
	}
	return item, nil
}

// LogStep logs every item at debug level.
type LogStep struct {
	logger *slog.Logger
}

// NewLogStep creates a log step.
func NewLogStep(logger *slog.Logger) *LogStep {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogStep{logger: logger}
}

// Name returns the step name.
func (s *LogStep) Name() string {
	return "log"
}

// Do logs item.
func (s *LogStep) Do(_ context.Context, item model.Item, spiderName string) (model.Item, error) {
	s.logger.Debug("item",
		"spider", spiderName,
		"url", item.String("url"),
		"fields", len(item),
	)
	return item, nil
}
