// Package output persists logs of deployments as append-only line streams.
//
// Consumers tail a stream by offset.
package output

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db"
)

type Stream string

const (
	Stdout Stream = "STDOUT"
	Stderr Stream = "STDERR"

	// messages written by the platform itself.
	System Stream = "SYSTEM"
)

// DefaultLimit is the number of lines returned by Lines when limit is not positive.
const DefaultLimit = 500

// NewStreamID returns an id for a new stream.
func NewStreamID() string {
	return uuid.NewString()
}

// Listener observes lines written to a stream.
type Listener func(ctx context.Context, line string)

type Store struct {
	db kdb.Interface
}

func New(db kdb.Interface) *Store {
	return &Store{db: db}
}

// Lines returns lines from the offset.
func (s *Store) Lines(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.db.Lines(ctx, streamID, fromOffset, limit)
}

// Writer returns a Writer of the stream.
//
// Listeners are called for each line, after it is persisted.
func (s *Store) Writer(streamID string, listeners ...Listener) *Writer {
	return &Writer{db: s.db, streamID: streamID, listeners: listeners}
}

// Writer appends lines to a stream. Safe to be used concurrently.
type Writer struct {
	db        kdb.Interface
	streamID  string
	listeners []Listener

	// lines are persisted in the order listeners see them.
	mu sync.Mutex
}

func (w *Writer) StreamID() string {
	return w.streamID
}

// WriteLine appends a line. Trailing newlines are trimmed.
func (w *Writer) WriteLine(ctx context.Context, stream Stream, line string) error {
	return w.WriteLines(ctx, stream, line)
}

// WriteLines appends lines at once.
func (w *Writer) WriteLines(ctx context.Context, stream Stream, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	records := make([]domain.LogLine, 0, len(lines))
	for _, l := range lines {
		records = append(records, domain.LogLine{Stream: string(stream), Line: strings.TrimRight(l, "\r\n")})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	appended, err := w.db.Append(ctx, w.streamID, records)
	if err != nil {
		return err
	}
	for _, l := range appended {
		for _, listen := range w.listeners {
			listen(ctx, l.Line)
		}
	}
	return nil
}
