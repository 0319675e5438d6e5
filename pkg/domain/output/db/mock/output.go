package mock

import (
	"context"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db"
)

// Memory keeps streams in memory.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]domain.LogLine
}

func NewMemory() *Memory {
	return &Memory{streams: map[string][]domain.LogLine{}}
}

var _ kdb.Interface = &Memory{}

func (m *Memory) Append(_ context.Context, streamID string, lines []domain.LogLine) ([]domain.LogLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appended := make([]domain.LogLine, 0, len(lines))
	for _, l := range lines {
		l.StreamID = streamID
		l.Offset = int64(len(m.streams[streamID]))
		m.streams[streamID] = append(m.streams[streamID], l)
		appended = append(appended, l)
	}
	return appended, nil
}

func (m *Memory) Lines(_ context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.streams[streamID]
	if fromOffset < 0 {
		fromOffset = 0
	}
	if int64(len(all)) <= fromOffset {
		return []domain.LogLine{}, nil
	}
	ret := all[fromOffset:]
	if 0 <= limit && limit < len(ret) {
		ret = ret[:limit]
	}
	return append([]domain.LogLine{}, ret...), nil
}

// Texts returns lines of the stream, without metadata.
func (m *Memory) Texts(streamID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	texts := make([]string, 0, len(m.streams[streamID]))
	for _, l := range m.streams[streamID] {
		texts = append(texts, l.Line)
	}
	return texts
}
