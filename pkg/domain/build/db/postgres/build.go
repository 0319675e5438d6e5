package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type buildPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &buildPG{pool: pool}
}

const selectProcess = `
	select
		"id", "module_id", "wl_app", "deployment_id", "source_tarball",
		"builder_image", "buildpacks", "metadata", "revision", "branch",
		"output_stream_id", "status", coalesce("build_id", ''), "int_requested_at",
		"created_at", "completed_at"
	from "build_process"
`

func scanProcess(row pgx.Row) (domain.BuildProcess, error) {
	var bp domain.BuildProcess
	var buildpacks, metadata []byte
	var status string
	if err := row.Scan(
		&bp.ID, &bp.ModuleID, &bp.WorkloadApp, &bp.DeploymentID, &bp.SourceTarball,
		&bp.BuilderImage, &buildpacks, &metadata, &bp.Revision, &bp.Branch,
		&bp.OutputStreamID, &status, &bp.BuildID, &bp.IntRequestedAt,
		&bp.CreatedAt, &bp.CompletedAt,
	); err != nil {
		return domain.BuildProcess{}, err
	}
	st, err := domain.AsJobStatus(status)
	if err != nil {
		return domain.BuildProcess{}, xe.Wrap(err)
	}
	bp.Status = st
	if err := json.Unmarshal(buildpacks, &bp.Buildpacks); err != nil {
		return domain.BuildProcess{}, xe.Wrap(err)
	}
	if err := json.Unmarshal(metadata, &bp.Metadata); err != nil {
		return domain.BuildProcess{}, xe.Wrap(err)
	}
	return bp, nil
}

func (b *buildPG) NewProcess(ctx context.Context, bp domain.BuildProcess) (domain.BuildProcess, error) {
	if bp.ID == "" {
		bp.ID = uuid.NewString()
	}
	if bp.Buildpacks == nil {
		bp.Buildpacks = []domain.Buildpack{}
	}
	buildpacks, err := json.Marshal(bp.Buildpacks)
	if err != nil {
		return domain.BuildProcess{}, xe.Wrap(err)
	}
	metadata, err := json.Marshal(bp.Metadata)
	if err != nil {
		return domain.BuildProcess{}, xe.Wrap(err)
	}

	if _, err := b.pool.Exec(
		ctx,
		`
		insert into "build_process" (
			"id", "module_id", "wl_app", "deployment_id", "source_tarball",
			"builder_image", "buildpacks", "metadata", "revision", "branch",
			"output_stream_id", "status"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
		bp.ID, bp.ModuleID, bp.WorkloadApp, bp.DeploymentID, bp.SourceTarball,
		bp.BuilderImage, buildpacks, metadata, bp.Revision, bp.Branch,
		bp.OutputStreamID, string(domain.Pending),
	); err != nil {
		return domain.BuildProcess{}, pgerr.Classify(err, "build_process", bp.ID)
	}
	return b.GetProcess(ctx, bp.ID)
}

func (b *buildPG) GetProcess(ctx context.Context, id string) (domain.BuildProcess, error) {
	bp, err := scanProcess(b.pool.QueryRow(ctx, selectProcess+` where "id" = $1`, id))
	if err != nil {
		return domain.BuildProcess{}, pgerr.Classify(err, "build_process", id)
	}
	return bp, nil
}

func (b *buildPG) SetProcessStatus(ctx context.Context, id string, status domain.JobStatus) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var current string
	if err := tx.QueryRow(
		ctx, `select "status" from "build_process" where "id" = $1 for update`, id,
	).Scan(&current); err != nil {
		return pgerr.Classify(err, "build_process", id)
	}
	if !domain.JobStatus(current).CanTransitTo(status) {
		return xe.Wrap(domerr.Precondition("build process %s is %s, can not be %s", id, current, status))
	}

	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now()
		completedAt = &now
	}
	if _, err := tx.Exec(
		ctx,
		`update "build_process" set "status" = $2, "completed_at" = coalesce("completed_at", $3) where "id" = $1`,
		id, string(status), completedAt,
	); err != nil {
		return pgerr.Classify(err, "build_process", id)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (b *buildPG) RequestInterruption(ctx context.Context, id string) error {
	ct, err := b.pool.Exec(
		ctx,
		`update "build_process" set "int_requested_at" = coalesce("int_requested_at", now()) where "id" = $1`,
		id,
	)
	if err != nil {
		return pgerr.Classify(err, "build_process", id)
	}
	if ct.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "build_process", Identity: id})
	}
	return nil
}

const selectBuild = `
	select
		"id", "module_id", "wl_app", "artifact_type", "image", "slug_path",
		"revision", "branch", "metadata", "created_at"
	from "build"
`

func scanBuild(row pgx.Row) (domain.Build, error) {
	var build domain.Build
	var artifactType string
	var metadata []byte
	if err := row.Scan(
		&build.ID, &build.ModuleID, &build.WorkloadApp, &artifactType, &build.Image, &build.SlugPath,
		&build.Revision, &build.Branch, &metadata, &build.CreatedAt,
	); err != nil {
		return domain.Build{}, err
	}
	at, err := domain.AsArtifactType(artifactType)
	if err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	build.ArtifactType = at
	if err := json.Unmarshal(metadata, &build.Metadata); err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	return build, nil
}

// insertLatest inserts build as the latest one of its (module, artifact type).
func insertLatest(ctx context.Context, tx kpool.Queryer, build domain.Build) (domain.Build, error) {
	if build.ID == "" {
		build.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(build.Metadata)
	if err != nil {
		return domain.Build{}, xe.Wrap(err)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "build" set "is_latest" = false
		where "module_id" = $1 and "artifact_type" = $2 and "is_latest"
		`,
		build.ModuleID, string(build.ArtifactType),
	); err != nil {
		return domain.Build{}, pgerr.Classify(err, "build", build.ModuleID)
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "build" (
			"id", "module_id", "wl_app", "artifact_type", "image", "slug_path",
			"revision", "branch", "metadata", "is_latest"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
		returning "created_at"
		`,
		build.ID, build.ModuleID, build.WorkloadApp, string(build.ArtifactType), build.Image, build.SlugPath,
		build.Revision, build.Branch, metadata,
	).Scan(&build.CreatedAt); err != nil {
		return domain.Build{}, pgerr.Classify(err, "build", build.ID)
	}
	return build, nil
}

func (b *buildPG) Succeed(ctx context.Context, bpID string, build domain.Build) (domain.Build, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var status string
	var buildID *string
	if err := tx.QueryRow(
		ctx, `select "status", "build_id" from "build_process" where "id" = $1 for update`, bpID,
	).Scan(&status, &buildID); err != nil {
		return domain.Build{}, pgerr.Classify(err, "build_process", bpID)
	}
	if buildID != nil {
		existing, err := scanBuild(tx.QueryRow(ctx, selectBuild+` where "id" = $1`, *buildID))
		if err != nil {
			return domain.Build{}, pgerr.Classify(err, "build", *buildID)
		}
		return existing, nil
	}
	if !domain.JobStatus(status).CanTransitTo(domain.Successful) {
		return domain.Build{}, xe.Wrap(domerr.Precondition("build process %s is %s, can not succeed", bpID, status))
	}

	created, err := insertLatest(ctx, tx, build)
	if err != nil {
		return domain.Build{}, err
	}
	if _, err := tx.Exec(
		ctx,
		`
		update "build_process"
		set "status" = $2, "build_id" = $3, "completed_at" = now()
		where "id" = $1
		`,
		bpID, string(domain.Successful), created.ID,
	); err != nil {
		return domain.Build{}, pgerr.Classify(err, "build_process", bpID)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	return created, nil
}

func (b *buildPG) NewBuild(ctx context.Context, build domain.Build) (domain.Build, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	created, err := insertLatest(ctx, tx, build)
	if err != nil {
		return domain.Build{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Build{}, xe.Wrap(err)
	}
	return created, nil
}

func (b *buildPG) GetBuild(ctx context.Context, id string) (domain.Build, error) {
	build, err := scanBuild(b.pool.QueryRow(ctx, selectBuild+` where "id" = $1`, id))
	if err != nil {
		return domain.Build{}, pgerr.Classify(err, "build", id)
	}
	return build, nil
}

func (b *buildPG) LatestBuild(ctx context.Context, moduleID string, artifactType domain.ArtifactType) (domain.Build, error) {
	build, err := scanBuild(b.pool.QueryRow(
		ctx,
		selectBuild+` where "module_id" = $1 and "artifact_type" = $2 and "is_latest"`,
		moduleID, string(artifactType),
	))
	if err != nil {
		return domain.Build{}, pgerr.Classify(err, "build", moduleID+"/"+string(artifactType))
	}
	return build, nil
}
