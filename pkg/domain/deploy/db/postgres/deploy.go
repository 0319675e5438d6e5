package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type deployPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &deployPG{pool: pool}
}

func (m *deployPG) New(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.OutputStreamID == "" {
		d.OutputStreamID = uuid.NewString()
	}
	source, err := json.Marshal(d.Source)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	options, err := json.Marshal(d.Options)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	if d.Procfile == nil {
		d.Procfile = map[string]string{}
	}
	procfile, err := json.Marshal(d.Procfile)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	if d.Hooks == nil {
		d.Hooks = []domain.DeployHook{}
	}
	hooks, err := json.Marshal(d.Hooks)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// deployments of an environment are serialized by the partial unique index on pending ones.
	// This check is only for a friendly error.
	var running string
	if err := tx.QueryRow(
		ctx,
		`
		select "id" from "deployment"
		where "environment_id" = $1 and "status" = 'pending'
		limit 1
		`,
		d.EnvironmentID,
	).Scan(&running); err == nil {
		return domain.Deployment{}, xe.Wrap(&kdb.InProgress{EnvironmentID: d.EnvironmentID, DeploymentID: running})
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Deployment{}, xe.Wrap(err)
	}

	if _, err := tx.Exec(
		ctx,
		`
		insert into "deployment" (
			"id", "application_id", "module_id", "environment_id", "wl_app", "operator",
			"source", "options", "procfile", "hooks",
			"status", "current_phase", "output_stream_id"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
		d.ID, d.ApplicationID, d.ModuleID, d.EnvironmentID, d.WorkloadApp, d.Operator,
		source, options, procfile, hooks,
		string(domain.Pending), string(domain.PhasePreparation), d.OutputStreamID,
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return domain.Deployment{}, xe.Wrap(&kdb.InProgress{EnvironmentID: d.EnvironmentID})
		}
		return domain.Deployment{}, pgerr.Classify(err, "deployment", d.ID)
	}

	phases := d.Phases
	if len(phases) == 0 {
		phases = domain.NewPhases(nil)
	}
	for _, p := range phases {
		if _, err := tx.Exec(
			ctx,
			`insert into "deploy_phase" ("deployment_id", "type", "status") values ($1, $2, $3)`,
			d.ID, string(p.Type), string(domain.Pending),
		); err != nil {
			return domain.Deployment{}, pgerr.Classify(err, "deploy_phase", d.ID+"/"+string(p.Type))
		}
		for seq, s := range p.Steps {
			if _, err := tx.Exec(
				ctx,
				`
				insert into "deploy_step" ("deployment_id", "phase", "name", "seq", "status")
				values ($1, $2, $3, $4, $5)
				`,
				d.ID, string(p.Type), s.Name, seq, string(domain.Pending),
			); err != nil {
				return domain.Deployment{}, pgerr.Classify(err, "deploy_step", d.ID+"/"+s.Name)
			}
		}
	}

	created, err := get(ctx, tx, d.ID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	return created, nil
}

func (m *deployPG) Get(ctx context.Context, id string) (domain.Deployment, error) {
	return get(ctx, m.pool, id)
}

func (m *deployPG) Latest(ctx context.Context, environmentID string) (domain.Deployment, error) {
	var id string
	if err := m.pool.QueryRow(
		ctx,
		`
		select "id" from "deployment"
		where "environment_id" = $1
		order by "created_at" desc
		limit 1
		`,
		environmentID,
	).Scan(&id); err != nil {
		return domain.Deployment{}, pgerr.Classify(err, "deployment", "latest of "+environmentID)
	}
	return get(ctx, m.pool, id)
}

func get(ctx context.Context, conn kpool.Queryer, id string) (domain.Deployment, error) {
	var d domain.Deployment
	var source, options, procfile, hooks []byte
	var status string
	if err := conn.QueryRow(
		ctx,
		`
		select
			"id", "application_id", "module_id", "environment_id", "wl_app", "operator",
			"source", "options", "procfile", "hooks", "status", "output_stream_id",
			coalesce("build_process_id", ''), coalesce("build_id", ''),
			"err_detail", "err_kind", "tips_url",
			"created_at", "updated_at", "completed_at"
		from "deployment"
		where "id" = $1
		`,
		id,
	).Scan(
		&d.ID, &d.ApplicationID, &d.ModuleID, &d.EnvironmentID, &d.WorkloadApp, &d.Operator,
		&source, &options, &procfile, &hooks, &status, &d.OutputStreamID,
		&d.BuildProcessID, &d.BuildID,
		&d.ErrDetail, &d.ErrKind, &d.TipsURL,
		&d.CreatedAt, &d.UpdatedAt, &d.CompleteTime,
	); err != nil {
		return domain.Deployment{}, pgerr.Classify(err, "deployment", id)
	}
	st, err := domain.AsJobStatus(status)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	d.Status = st
	for _, f := range []struct {
		raw []byte
		v   any
	}{
		{source, &d.Source}, {options, &d.Options}, {procfile, &d.Procfile}, {hooks, &d.Hooks},
	} {
		if err := json.Unmarshal(f.raw, f.v); err != nil {
			return domain.Deployment{}, xe.Wrap(err)
		}
	}

	phases, err := phasesOf(ctx, conn, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	d.Phases = phases
	return d, nil
}

func phasesOf(ctx context.Context, conn kpool.Queryer, id string) ([]domain.Phase, error) {
	rows, err := conn.Query(
		ctx,
		`
		select "type", "status", "int_requested_at", "start_time", "complete_time", "progress_at"
		from "deploy_phase"
		where "deployment_id" = $1
		`,
		id,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	byType := map[domain.PhaseType]*domain.Phase{}
	for rows.Next() {
		p := domain.Phase{}
		var typ, status string
		if err := rows.Scan(&typ, &status, &p.IntRequestedAt, &p.StartTime, &p.CompleteTime, &p.ProgressAt); err != nil {
			rows.Close()
			return nil, xe.Wrap(err)
		}
		if p.Type, err = domain.AsPhaseType(typ); err != nil {
			rows.Close()
			return nil, xe.Wrap(err)
		}
		if p.Status, err = domain.AsJobStatus(status); err != nil {
			rows.Close()
			return nil, xe.Wrap(err)
		}
		byType[p.Type] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}

	rows, err = conn.Query(
		ctx,
		`
		select "phase", "name", "status", "start_time", "complete_time"
		from "deploy_step"
		where "deployment_id" = $1
		order by "phase", "seq"
		`,
		id,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		s := domain.Step{}
		var phase, status string
		if err := rows.Scan(&phase, &s.Name, &status, &s.StartTime, &s.CompleteTime); err != nil {
			return nil, xe.Wrap(err)
		}
		if s.Status, err = domain.AsJobStatus(status); err != nil {
			return nil, xe.Wrap(err)
		}
		if p, ok := byType[domain.PhaseType(phase)]; ok {
			p.Steps = append(p.Steps, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}

	phases := make([]domain.Phase, 0, len(byType))
	for _, t := range domain.PhaseTypes() {
		if p, ok := byType[t]; ok {
			phases = append(phases, *p)
		}
	}
	return phases, nil
}

func (m *deployPG) RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var deployStatus, phaseStatus string
	if err := tx.QueryRow(
		ctx,
		`
		select "d"."status", "p"."status"
		from "deployment" as "d"
		inner join "deploy_phase" as "p" on "p"."deployment_id" = "d"."id"
		where "d"."id" = $1 and "p"."type" = $2
		for no key update of "d"
		`,
		id, string(phase),
	).Scan(&deployStatus, &phaseStatus); err != nil {
		return pgerr.Classify(err, "deployment", id)
	}
	if domain.JobStatus(deployStatus).Terminal() || domain.JobStatus(phaseStatus).Terminal() {
		return xe.Wrap(domerr.Precondition("deployment %s has been finished", id))
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deploy_phase"
		set "int_requested_at" = coalesce("int_requested_at", now())
		where "deployment_id" = $1 and "type" = $2
		`,
		id, string(phase),
	); err != nil {
		return pgerr.Classify(err, "deploy_phase", id)
	}
	// poll it soon.
	if _, err := tx.Exec(
		ctx,
		`update "deployment" set "poll_suspend_until" = now(), "updated_at" = now() where "id" = $1`, id,
	); err != nil {
		return pgerr.Classify(err, "deployment", id)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *deployPG) UpdateSteps(ctx context.Context, id string, phase domain.PhaseType, updates []kdb.StepUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		var completeTime any
		if u.Status.Terminal() {
			completeTime = time.Now()
		}
		if _, err := tx.Exec(
			ctx,
			`
			update "deploy_step"
			set
				"status" = $4,
				"start_time" = case when $5 then coalesce("start_time", now()) else "start_time" end,
				"complete_time" = coalesce("complete_time", $6)
			where
				"deployment_id" = $1 and "phase" = $2 and "name" = $3
				and "status" = 'pending'
			`,
			id, string(phase), u.Name, string(u.Status), u.Started, completeTime,
		); err != nil {
			return pgerr.Classify(err, "deploy_step", id+"/"+u.Name)
		}
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *deployPG) Progress(ctx context.Context, id string, phase domain.PhaseType) error {
	if _, err := m.pool.Exec(
		ctx,
		`update "deploy_phase" set "progress_at" = now() where "deployment_id" = $1 and "type" = $2`,
		id, string(phase),
	); err != nil {
		return pgerr.Classify(err, "deploy_phase", id)
	}
	return nil
}

func (m *deployPG) PickAndSetStatus(
	ctx context.Context, cursor kdb.Cursor,
	task func(domain.Deployment) (kdb.Transition, error),
) (kdb.Cursor, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return cursor, false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var id string
	var pickedAt time.Time
	if err := tx.QueryRow(
		ctx,
		`
		select "id", now() from "deployment"
		where
			"status" = 'pending'
			and "current_phase" = $1
			and "poll_suspend_until" <= now()
		order by "id" <= $2, "id"
		limit 1
		for no key update skip locked
		`,
		string(cursor.Phase), cursor.Head,
	).Scan(&id, &pickedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor, false, nil
		}
		return cursor, false, xe.Wrap(err)
	}
	cursor = kdb.Cursor{Phase: cursor.Phase, Head: id, Debounce: cursor.Debounce}

	d, err := get(ctx, tx, id)
	if err != nil {
		return cursor, false, err
	}
	// the phase is started at its first pick.
	if p, ok := d.Phase(cursor.Phase); ok && p.StartTime == nil {
		p.StartTime = &pickedAt
	}

	t, err := task(d)
	if err != nil {
		return cursor, false, err
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deploy_phase" set "start_time" = coalesce("start_time", $3)
		where "deployment_id" = $1 and "type" = $2
		`,
		id, string(cursor.Phase), pickedAt,
	); err != nil {
		return cursor, false, pgerr.Classify(err, "deploy_phase", id)
	}
	if _, err := tx.Exec(
		ctx,
		`
		update "deployment"
		set "poll_suspend_until" = now() + make_interval(secs => $2)
		where "id" = $1
		`,
		id, cursor.Debounce.Seconds(),
	); err != nil {
		return cursor, false, pgerr.Classify(err, "deployment", id)
	}
	if err := setTransition(ctx, tx, d, cursor.Phase, t); err != nil {
		return cursor, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return cursor, false, xe.Wrap(err)
	}
	return cursor, true, nil
}

func (m *deployPG) Finish(ctx context.Context, id string, phase domain.PhaseType, t kdb.Transition) (domain.Deployment, error) {
	if !t.Status.Terminal() {
		return domain.Deployment{}, xe.Wrap(domerr.Invalid("status", "%s is not a terminal status", t.Status))
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(
		ctx, `select "id" from "deployment" where "id" = $1 for no key update`, id,
	).Scan(new(string)); err != nil {
		return domain.Deployment{}, pgerr.Classify(err, "deployment", id)
	}
	d, err := get(ctx, tx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if err := setTransition(ctx, tx, d, phase, t); err != nil {
		return domain.Deployment{}, err
	}
	finished, err := get(ctx, tx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}
	return finished, nil
}

// setTransition writes t on the phase of d.
//
// d should be locked in tx.
func setTransition(ctx context.Context, tx kpool.Tx, d domain.Deployment, phase domain.PhaseType, t kdb.Transition) error {
	p, ok := d.Phase(phase)
	if !ok {
		return xe.Wrap(domerr.Missing{Table: "deploy_phase", Identity: d.ID + "/" + string(phase)})
	}
	if !p.Status.CanTransitTo(t.Status) || (d.Status.Terminal() && p.Status != t.Status) {
		return xe.Wrap(domerr.Precondition(
			"phase %s of deployment %s is %s, can not be %s", phase, d.ID, p.Status, t.Status,
		))
	}

	if t.BuildProcessID != "" || t.BuildID != "" {
		if _, err := tx.Exec(
			ctx,
			`
			update "deployment"
			set
				"build_process_id" = coalesce(nullif($2, ''), "build_process_id"),
				"build_id" = coalesce(nullif($3, ''), "build_id"),
				"updated_at" = now()
			where "id" = $1
			`,
			d.ID, t.BuildProcessID, t.BuildID,
		); err != nil {
			return pgerr.Classify(err, "deployment", d.ID)
		}
	}
	if !t.Status.Terminal() || p.Status == t.Status {
		return nil
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deploy_phase"
		set "status" = $3, "start_time" = coalesce("start_time", now()), "complete_time" = now()
		where "deployment_id" = $1 and "type" = $2
		`,
		d.ID, string(phase), string(t.Status),
	); err != nil {
		return pgerr.Classify(err, "deploy_phase", d.ID)
	}

	// the rest of the phase fails along with it.
	if t.Status != domain.Successful {
		if _, err := tx.Exec(
			ctx,
			`
			update "deploy_step"
			set "status" = $3, "complete_time" = now()
			where
				"deployment_id" = $1 and "phase" = $2
				and "status" = 'pending' and "start_time" is not null
			`,
			d.ID, string(phase), string(t.Status),
		); err != nil {
			return pgerr.Classify(err, "deploy_step", d.ID)
		}
	}

	next, hasNext := phase.Next()
	if t.Status == domain.Successful && d.Options.BuildOnly && phase == domain.PhaseBuild {
		hasNext = false
	}
	if t.Status == domain.Successful && hasNext {
		if _, err := tx.Exec(
			ctx,
			`
			update "deployment"
			set "current_phase" = $2, "poll_suspend_until" = now(), "updated_at" = now()
			where "id" = $1
			`,
			d.ID, string(next),
		); err != nil {
			return pgerr.Classify(err, "deployment", d.ID)
		}
		return nil
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deployment"
		set
			"status" = $2,
			"err_detail" = $3, "err_kind" = $4, "tips_url" = $5,
			"updated_at" = now(), "completed_at" = now()
		where "id" = $1
		`,
		d.ID, string(t.Status), t.ErrDetail, t.ErrKind, t.TipsURL,
	); err != nil {
		return pgerr.Classify(err, "deployment", d.ID)
	}
	return nil
}
