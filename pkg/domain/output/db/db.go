package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

type Interface interface {
	// Append appends lines to the end of the stream, and returns them with offsets assigned.
	//
	// Offsets of a stream start at 0 and have no gaps.
	Append(ctx context.Context, streamID string, lines []domain.LogLine) ([]domain.LogLine, error)

	// Lines returns at most limit lines of the stream whose offset is fromOffset or later.
	Lines(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error)
}
