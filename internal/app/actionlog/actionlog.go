// Package actionlog appends a JSON line for every triage action, undo and
// outbound immich call. The log is write-only; nothing reads it back.
package actionlog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"immich-sorter/internal/immich"
	"immich-sorter/internal/immich/api"
)

// Entry types.
const (
	TypeAction = "action"
	TypeUndo   = "undo"
	TypeAPI    = "api"
)

// Entry is one line of the log.
type Entry struct {
	ID   uuid.UUID `json:"id"`
	Time time.Time `json:"time"`
	Type string    `json:"type"`

	AssetID  immich.AssetID `json:"asset_id,omitempty"`
	Action   string         `json:"action,omitempty"`
	Prior    *immich.State  `json:"prior,omitempty"`
	Position *int           `json:"position,omitempty"`

	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	Status     int    `json:"status,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Log is an append-only JSON lines writer. It is safe for concurrent use.
type Log struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
	now func() time.Time
}

// New creates a Log writing to w.
func New(w io.Writer) *Log {
	return &Log{enc: json.NewEncoder(w), now: time.Now}
}

// Open creates or appends to the log file at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create action log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	l := New(f)
	l.c = f
	return l, nil
}

// Discard returns a Log that drops every entry.
func Discard() *Log { return New(io.Discard) }

// Record fills in the ID and time of e and appends it. Failures to write are
// logged, not returned.
func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Time.IsZero() {
		e.Time = l.now().UTC()
	}
	if err := l.enc.Encode(e); err != nil {
		slog.Error("failed to write action log", "type", e.Type, "error", err)
	}
}

// ObserveCall records the outcome of an outbound immich request. It has the
// signature expected by [api.WithObserver].
func (l *Log) ObserveCall(c api.Call) {
	e := Entry{
		Type:       TypeAPI,
		Method:     c.Method,
		Path:       c.Path,
		Status:     c.StatusCode,
		Attempts:   c.Attempts,
		DurationMS: c.Duration.Milliseconds(),
		Outcome:    "ok",
	}
	if c.Err != nil {
		e.Outcome = "error"
		e.Error = c.Err.Error()
	}
	l.Record(e)
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Close()
}
