package postgres

import (
	"context"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type outputPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &outputPG{pool: pool}
}

func (o *outputPG) Append(ctx context.Context, streamID string, lines []domain.LogLine) ([]domain.LogLine, error) {
	if len(lines) == 0 {
		return []domain.LogLine{}, nil
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// writers of the same stream are serialized until commit.
	if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock(hashtext($1))`, streamID); err != nil {
		return nil, xe.Wrap(err)
	}
	var next int64
	if err := tx.QueryRow(
		ctx,
		`select coalesce(max("offset"), -1) + 1 from "output_line" where "stream_id" = $1`,
		streamID,
	).Scan(&next); err != nil {
		return nil, xe.Wrap(err)
	}

	appended := make([]domain.LogLine, 0, len(lines))
	for _, l := range lines {
		l.StreamID = streamID
		l.Offset = next
		if err := tx.QueryRow(
			ctx,
			`
			insert into "output_line" ("stream_id", "offset", "stream", "line")
			values ($1, $2, $3, $4)
			returning "created_at"
			`,
			streamID, l.Offset, l.Stream, l.Line,
		).Scan(&l.CreatedAt); err != nil {
			return nil, pgerr.Classify(err, "output_line", streamID)
		}
		appended = append(appended, l)
		next += 1
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, xe.Wrap(err)
	}
	return appended, nil
}

func (o *outputPG) Lines(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error) {
	rows, err := o.pool.Query(
		ctx,
		`
		select "stream_id", "offset", "stream", "line", "created_at"
		from "output_line"
		where "stream_id" = $1 and $2 <= "offset"
		order by "offset"
		limit $3
		`,
		streamID, fromOffset, limit,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "output_line", streamID)
	}
	defer rows.Close()

	lines := []domain.LogLine{}
	for rows.Next() {
		var l domain.LogLine
		if err := rows.Scan(&l.StreamID, &l.Offset, &l.Stream, &l.Line, &l.CreatedAt); err != nil {
			return nil, xe.Wrap(err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return lines, nil
}
