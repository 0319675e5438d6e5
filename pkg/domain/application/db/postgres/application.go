package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/twophase"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type applicationPG struct {
	dbs twophase.Pair
}

// New returns the application repository.
//
// The application model lives in dbs.Main, and workload apps in dbs.Workloads.
func New(dbs twophase.Pair) kdb.Interface {
	return &applicationPG{dbs: dbs}
}

func (a *applicationPG) NewApplication(ctx context.Context, app domain.Application) (domain.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if err := a.dbs.Main.QueryRow(
		ctx,
		`
		insert into "application"
			("id", "code", "tenant_id", "region", "name", "type", "owner", "is_active")
		values ($1, $2, $3, $4, $5, $6, $7, true)
		returning "is_active", "created_at", "updated_at"
		`,
		app.ID, app.Code, app.TenantID, app.Region, app.Name, string(app.Type), app.Owner,
	).Scan(&app.IsActive, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return domain.Application{}, pgerr.Classify(err, "application", app.Code)
	}
	return app, nil
}

func scanApplication(row pgx.Row) (domain.Application, error) {
	var app domain.Application
	var typ string
	if err := row.Scan(
		&app.ID, &app.Code, &app.TenantID, &app.Region, &app.Name, &typ, &app.Owner,
		&app.IsActive, &app.CreatedAt, &app.UpdatedAt,
	); err != nil {
		return domain.Application{}, err
	}
	app.Type = domain.AppType(typ)
	return app, nil
}

func (a *applicationPG) GetApplication(ctx context.Context, code string) (domain.Application, error) {
	app, err := scanApplication(a.dbs.Main.QueryRow(
		ctx,
		`
		select
			"id", "code", "tenant_id", "region", "name", "type", "owner",
			"is_active", "created_at", "updated_at"
		from "application" where "code" = $1
		`,
		code,
	))
	if err != nil {
		return domain.Application{}, pgerr.Classify(err, "application", code)
	}
	return app, nil
}

func (a *applicationPG) GetApplicationByID(ctx context.Context, appID string) (domain.Application, error) {
	app, err := scanApplication(a.dbs.Main.QueryRow(
		ctx,
		`
		select
			"id", "code", "tenant_id", "region", "name", "type", "owner",
			"is_active", "created_at", "updated_at"
		from "application" where "id" = $1
		`,
		appID,
	))
	if err != nil {
		return domain.Application{}, pgerr.Classify(err, "application", appID)
	}
	return app, nil
}

func (a *applicationPG) SetApplicationActive(ctx context.Context, appID string, active bool) error {
	ctag, err := a.dbs.Main.Exec(
		ctx,
		`update "application" set "is_active" = $2, "updated_at" = now() where "id" = $1`,
		appID, active,
	)
	if err != nil {
		return pgerr.Classify(err, "application", appID)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "application", Identity: appID})
	}
	return nil
}

func (a *applicationPG) DeleteApplication(ctx context.Context, appID string) error {
	return a.dbs.Bracket(ctx, func(main, wl kpool.Tx) error {
		rows, err := main.Query(
			ctx,
			`
			select "environment"."workload_app" from "environment"
			inner join "module" on "module"."id" = "environment"."module_id"
			where "module"."application_id" = $1
			`,
			appID,
		)
		if err != nil {
			return pgerr.Classify(err, "environment", appID)
		}
		wlApps, err := collectStrings(rows)
		if err != nil {
			return pgerr.Classify(err, "environment", appID)
		}

		ctag, err := main.Exec(ctx, `delete from "application" where "id" = $1`, appID)
		if err != nil {
			return pgerr.Classify(err, "application", appID)
		}
		if ctag.RowsAffected() == 0 {
			return xe.Wrap(domerr.Missing{Table: "application", Identity: appID})
		}
		if _, err := wl.Exec(ctx, `delete from "wl_app" where "name" = any($1)`, wlApps); err != nil {
			return pgerr.Classify(err, "wl_app", appID)
		}
		return nil
	})
}

func (a *applicationPG) NewModule(ctx context.Context, mi kdb.ModuleInit) (domain.Module, []domain.Environment, error) {
	mod := mi.Module
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	repo, err := json.Marshal(mod.Repository)
	if err != nil {
		return domain.Module{}, nil, xe.Wrap(err)
	}
	buildConfig, err := json.Marshal(mod.BuildConfig)
	if err != nil {
		return domain.Module{}, nil, xe.Wrap(err)
	}

	envs := make([]domain.Environment, 0, len(mi.Environments))
	var region string

	err = a.dbs.Bracket(ctx, func(main, wl kpool.Tx) error {
		if err := main.QueryRow(
			ctx,
			`
			insert into "module"
				("id", "application_id", "name", "is_default", "source_origin", "repository", "build_config")
			values ($1, $2, $3, $4, $5, $6, $7)
			returning "created_at", "updated_at"
			`,
			mod.ID, mod.ApplicationID, mod.Name, mod.IsDefault, string(mod.SourceOrigin), repo, buildConfig,
		).Scan(&mod.CreatedAt, &mod.UpdatedAt); err != nil {
			return pgerr.Classify(err, "module", mod.Name)
		}

		if err := main.QueryRow(
			ctx, `select "region" from "application" where "id" = $1`, mod.ApplicationID,
		).Scan(&region); err != nil {
			return pgerr.Classify(err, "application", mod.ApplicationID)
		}

		for _, env := range mi.Environments {
			if env.ID == "" {
				env.ID = uuid.NewString()
			}
			env.ModuleID = mod.ID
			if _, err := main.Exec(
				ctx,
				`
				insert into "environment"
					("id", "module_id", "stage", "workload_app", "cluster", "is_offline")
				values ($1, $2, $3, $4, $5, false)
				`,
				env.ID, env.ModuleID, string(env.Stage), env.WorkloadApp, env.Cluster,
			); err != nil {
				return pgerr.Classify(err, "environment", env.WorkloadApp)
			}
			if _, err := wl.Exec(
				ctx,
				`
				insert into "wl_app" ("name", "region", "module_id", "environment_id", "cluster")
				values ($1, $2, $3, $4, $5)
				`,
				env.WorkloadApp, region, env.ModuleID, env.ID, env.Cluster,
			); err != nil {
				return pgerr.Classify(err, "wl_app", env.WorkloadApp)
			}
			envs = append(envs, env)
		}

		if err := replaceProcessSpecs(ctx, main, mod.ID, mi.ProcessSpecs); err != nil {
			return err
		}
		for _, h := range mi.Hooks {
			h.ModuleID = mod.ID
			if err := upsertDeployHook(ctx, main, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Module{}, nil, err
	}
	return mod, envs, nil
}

const selectModule = `
	select
		"id", "application_id", "name", "is_default", "source_origin",
		"repository", "build_config", "created_at", "updated_at"
	from "module"
`

func scanModule(row pgx.Row) (domain.Module, error) {
	var mod domain.Module
	var origin string
	var repo, buildConfig []byte
	if err := row.Scan(
		&mod.ID, &mod.ApplicationID, &mod.Name, &mod.IsDefault, &origin,
		&repo, &buildConfig, &mod.CreatedAt, &mod.UpdatedAt,
	); err != nil {
		return domain.Module{}, err
	}
	mod.SourceOrigin = domain.SourceOrigin(origin)
	if len(repo) != 0 {
		if err := json.Unmarshal(repo, &mod.Repository); err != nil {
			return domain.Module{}, xe.Wrap(err)
		}
	}
	if err := json.Unmarshal(buildConfig, &mod.BuildConfig); err != nil {
		return domain.Module{}, xe.Wrap(err)
	}
	return mod, nil
}

func (a *applicationPG) GetModule(ctx context.Context, appID string, name string) (domain.Module, error) {
	mod, err := scanModule(a.dbs.Main.QueryRow(
		ctx, selectModule+` where "application_id" = $1 and "name" = $2`, appID, name,
	))
	if err != nil {
		return domain.Module{}, pgerr.Classify(err, "module", name)
	}
	return mod, nil
}

func (a *applicationPG) GetModuleByID(ctx context.Context, moduleID string) (domain.Module, error) {
	mod, err := scanModule(a.dbs.Main.QueryRow(ctx, selectModule+` where "id" = $1`, moduleID))
	if err != nil {
		return domain.Module{}, pgerr.Classify(err, "module", moduleID)
	}
	return mod, nil
}

func (a *applicationPG) ListModules(ctx context.Context, appID string) ([]domain.Module, error) {
	rows, err := a.dbs.Main.Query(
		ctx, selectModule+` where "application_id" = $1 order by "is_default" desc, "name"`, appID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "module", appID)
	}
	defer rows.Close()

	mods := []domain.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "module", appID)
	}
	return mods, nil
}

func (a *applicationPG) SetDefaultModule(ctx context.Context, appID string, moduleID string) error {
	tx, err := a.dbs.Main.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`
		update "module" set "is_default" = false, "updated_at" = now()
		where "application_id" = $1 and "is_default" and "id" <> $2
		`,
		appID, moduleID,
	); err != nil {
		return pgerr.Classify(err, "module", moduleID)
	}
	ctag, err := tx.Exec(
		ctx,
		`
		update "module" set "is_default" = true, "updated_at" = now()
		where "application_id" = $1 and "id" = $2
		`,
		appID, moduleID,
	)
	if err != nil {
		return pgerr.Classify(err, "module", moduleID)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "module", Identity: moduleID})
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (a *applicationPG) DeleteModule(ctx context.Context, moduleID string) error {
	return a.dbs.Bracket(ctx, func(main, wl kpool.Tx) error {
		rows, err := main.Query(
			ctx, `select "workload_app" from "environment" where "module_id" = $1`, moduleID,
		)
		if err != nil {
			return pgerr.Classify(err, "environment", moduleID)
		}
		wlApps, err := collectStrings(rows)
		if err != nil {
			return pgerr.Classify(err, "environment", moduleID)
		}

		ctag, err := main.Exec(ctx, `delete from "module" where "id" = $1`, moduleID)
		if err != nil {
			return pgerr.Classify(err, "module", moduleID)
		}
		if ctag.RowsAffected() == 0 {
			return xe.Wrap(domerr.Missing{Table: "module", Identity: moduleID})
		}
		if _, err := wl.Exec(ctx, `delete from "wl_app" where "name" = any($1)`, wlApps); err != nil {
			return pgerr.Classify(err, "wl_app", moduleID)
		}
		return nil
	})
}

func (a *applicationPG) UpdateBuildConfig(ctx context.Context, moduleID string, config domain.BuildConfig) error {
	buf, err := json.Marshal(config)
	if err != nil {
		return xe.Wrap(err)
	}
	ctag, err := a.dbs.Main.Exec(
		ctx,
		`update "module" set "build_config" = $2, "updated_at" = now() where "id" = $1`,
		moduleID, buf,
	)
	if err != nil {
		return pgerr.Classify(err, "module", moduleID)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "module", Identity: moduleID})
	}
	return nil
}

const selectEnvironment = `
	select "id", "module_id", "stage", "workload_app", "cluster", "is_offline"
	from "environment"
`

func scanEnvironment(row pgx.Row) (domain.Environment, error) {
	var env domain.Environment
	var stage string
	if err := row.Scan(
		&env.ID, &env.ModuleID, &stage, &env.WorkloadApp, &env.Cluster, &env.IsOffline,
	); err != nil {
		return domain.Environment{}, err
	}
	env.Stage = domain.Stage(stage)
	return env, nil
}

func (a *applicationPG) ListEnvironments(ctx context.Context, moduleID string) ([]domain.Environment, error) {
	rows, err := a.dbs.Main.Query(
		ctx,
		selectEnvironment+` where "module_id" = $1 order by "stage" = 'prod', "stage"`,
		moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "environment", moduleID)
	}
	defer rows.Close()

	envs := []domain.Environment{}
	for rows.Next() {
		e, err := scanEnvironment(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		envs = append(envs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "environment", moduleID)
	}
	return envs, nil
}

func (a *applicationPG) GetEnvironment(ctx context.Context, envID string) (domain.Environment, error) {
	env, err := scanEnvironment(a.dbs.Main.QueryRow(ctx, selectEnvironment+` where "id" = $1`, envID))
	if err != nil {
		return domain.Environment{}, pgerr.Classify(err, "environment", envID)
	}
	return env, nil
}

func (a *applicationPG) FindEnvironmentByWorkloadApp(ctx context.Context, wlApp string) (domain.Environment, error) {
	env, err := scanEnvironment(a.dbs.Main.QueryRow(ctx, selectEnvironment+` where "workload_app" = $1`, wlApp))
	if err != nil {
		return domain.Environment{}, pgerr.Classify(err, "environment", wlApp)
	}
	return env, nil
}

func (a *applicationPG) SetEnvironmentOffline(ctx context.Context, envID string, offline bool) error {
	ctag, err := a.dbs.Main.Exec(
		ctx, `update "environment" set "is_offline" = $2 where "id" = $1`, envID, offline,
	)
	if err != nil {
		return pgerr.Classify(err, "environment", envID)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "environment", Identity: envID})
	}
	return nil
}

func (a *applicationPG) ListProcessSpecs(ctx context.Context, moduleID string) ([]domain.ProcessSpec, error) {
	rows, err := a.dbs.Main.Query(
		ctx,
		`select "spec" from "process_spec" where "module_id" = $1 order by "created_at", "name"`,
		moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "process_spec", moduleID)
	}
	defer rows.Close()

	specs := []domain.ProcessSpec{}
	for rows.Next() {
		var buf []byte
		if err := rows.Scan(&buf); err != nil {
			return nil, xe.Wrap(err)
		}
		var s domain.ProcessSpec
		if err := json.Unmarshal(buf, &s); err != nil {
			return nil, xe.Wrap(err)
		}
		s.ModuleID = moduleID
		specs = append(specs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "process_spec", moduleID)
	}
	return specs, nil
}

func (a *applicationPG) ReplaceProcessSpecs(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error {
	tx, err := a.dbs.Main.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := replaceProcessSpecs(ctx, tx, moduleID, specs); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit(ctx))
}

func replaceProcessSpecs(ctx context.Context, tx kpool.Queryer, moduleID string, specs []domain.ProcessSpec) error {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		s.ModuleID = moduleID
		buf, err := json.Marshal(s)
		if err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "process_spec" ("module_id", "name", "spec") values ($1, $2, $3)
			on conflict ("module_id", "name") do update set "spec" = excluded."spec", "updated_at" = now()
			`,
			moduleID, s.Name, buf,
		); err != nil {
			return pgerr.Classify(err, "process_spec", s.Name)
		}
		names = append(names, s.Name)
	}
	if _, err := tx.Exec(
		ctx,
		`delete from "process_spec" where "module_id" = $1 and not ("name" = any($2))`,
		moduleID, names,
	); err != nil {
		return pgerr.Classify(err, "process_spec", moduleID)
	}
	return nil
}

func (a *applicationPG) ListDeployHooks(ctx context.Context, moduleID string) ([]domain.DeployHook, error) {
	rows, err := a.dbs.Main.Query(
		ctx,
		`
		select "type", "enabled", "command", "args", "proc_command"
		from "deploy_hook" where "module_id" = $1 order by "type"
		`,
		moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "deploy_hook", moduleID)
	}
	defer rows.Close()

	hooks := []domain.DeployHook{}
	for rows.Next() {
		h := domain.DeployHook{ModuleID: moduleID}
		var typ string
		var command, args []byte
		if err := rows.Scan(&typ, &h.Enabled, &command, &args, &h.ProcCommand); err != nil {
			return nil, xe.Wrap(err)
		}
		h.Type = domain.HookType(typ)
		if err := errors.Join(json.Unmarshal(command, &h.Command), json.Unmarshal(args, &h.Args)); err != nil {
			return nil, xe.Wrap(err)
		}
		hooks = append(hooks, h)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "deploy_hook", moduleID)
	}
	return hooks, nil
}

func (a *applicationPG) UpsertDeployHook(ctx context.Context, hook domain.DeployHook) error {
	return upsertDeployHook(ctx, a.dbs.Main, hook)
}

func upsertDeployHook(ctx context.Context, q kpool.Queryer, hook domain.DeployHook) error {
	command, err := json.Marshal(nonNil(hook.Command))
	if err != nil {
		return xe.Wrap(err)
	}
	args, err := json.Marshal(nonNil(hook.Args))
	if err != nil {
		return xe.Wrap(err)
	}
	if _, err := q.Exec(
		ctx,
		`
		insert into "deploy_hook" ("module_id", "type", "enabled", "command", "args", "proc_command")
		values ($1, $2, $3, $4, $5, $6)
		on conflict ("module_id", "type") do update set
			"enabled" = excluded."enabled",
			"command" = excluded."command",
			"args" = excluded."args",
			"proc_command" = excluded."proc_command"
		`,
		hook.ModuleID, string(hook.Type), hook.Enabled, command, args, hook.ProcCommand,
	); err != nil {
		return pgerr.Classify(err, "deploy_hook", string(hook.Type))
	}
	return nil
}

func (a *applicationPG) DeleteDeployHook(ctx context.Context, moduleID string, hookType domain.HookType) error {
	if _, err := a.dbs.Main.Exec(
		ctx,
		`delete from "deploy_hook" where "module_id" = $1 and "type" = $2`,
		moduleID, string(hookType),
	); err != nil {
		return pgerr.Classify(err, "deploy_hook", string(hookType))
	}
	return nil
}

func (a *applicationPG) ListMounts(ctx context.Context, moduleID string) ([]domain.Mount, error) {
	rows, err := a.dbs.Main.Query(
		ctx,
		`
		select "name", "source_type", "source_config", "mount_path", "scope"
		from "mount" where "module_id" = $1 order by "scope", "mount_path"
		`,
		moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "mount", moduleID)
	}
	defer rows.Close()

	mounts := []domain.Mount{}
	for rows.Next() {
		m := domain.Mount{ModuleID: moduleID}
		var sourceType, scope string
		var config []byte
		if err := rows.Scan(&m.Name, &sourceType, &config, &m.MountPath, &scope); err != nil {
			return nil, xe.Wrap(err)
		}
		m.SourceType = domain.MountSourceType(sourceType)
		m.Scope = domain.EnvScope(scope)
		if err := json.Unmarshal(config, &m.SourceConfig); err != nil {
			return nil, xe.Wrap(err)
		}
		mounts = append(mounts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "mount", moduleID)
	}
	return mounts, nil
}

func (a *applicationPG) UpsertMount(ctx context.Context, mount domain.Mount) error {
	config, err := json.Marshal(mount.SourceConfig)
	if err != nil {
		return xe.Wrap(err)
	}
	if _, err := a.dbs.Main.Exec(
		ctx,
		`
		insert into "mount" ("module_id", "scope", "mount_path", "name", "source_type", "source_config")
		values ($1, $2, $3, $4, $5, $6)
		on conflict ("module_id", "scope", "mount_path") do update set
			"name" = excluded."name",
			"source_type" = excluded."source_type",
			"source_config" = excluded."source_config"
		`,
		mount.ModuleID, string(mount.Scope), mount.MountPath, mount.Name, string(mount.SourceType), config,
	); err != nil {
		return pgerr.Classify(err, "mount", mount.Name)
	}
	return nil
}

func (a *applicationPG) DeleteMount(ctx context.Context, moduleID string, scope domain.EnvScope, mountPath string) error {
	ctag, err := a.dbs.Main.Exec(
		ctx,
		`delete from "mount" where "module_id" = $1 and "scope" = $2 and "mount_path" = $3`,
		moduleID, string(scope), mountPath,
	)
	if err != nil {
		return pgerr.Classify(err, "mount", mountPath)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "mount", Identity: string(scope) + ":" + mountPath})
	}
	return nil
}

func (a *applicationPG) ListPresetEnvVars(ctx context.Context, moduleID string) ([]domain.PresetEnvVar, error) {
	rows, err := a.dbs.Main.Query(
		ctx,
		`
		select "key", "value", "scope", "description"
		from "preset_env_var" where "module_id" = $1 order by "scope", "key"
		`,
		moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "preset_env_var", moduleID)
	}
	defer rows.Close()

	vars := []domain.PresetEnvVar{}
	for rows.Next() {
		v := domain.PresetEnvVar{ModuleID: moduleID}
		var scope string
		if err := rows.Scan(&v.Key, &v.Value, &scope, &v.Description); err != nil {
			return nil, xe.Wrap(err)
		}
		v.Scope = domain.EnvScope(scope)
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "preset_env_var", moduleID)
	}
	return vars, nil
}

func (a *applicationPG) ReplacePresetEnvVars(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error {
	tx, err := a.dbs.Main.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `delete from "preset_env_var" where "module_id" = $1`, moduleID); err != nil {
		return pgerr.Classify(err, "preset_env_var", moduleID)
	}
	for _, v := range vars {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "preset_env_var" ("module_id", "scope", "key", "value", "description")
			values ($1, $2, $3, $4, $5)
			`,
			moduleID, string(v.Scope), v.Key, v.Value, v.Description,
		); err != nil {
			return pgerr.Classify(err, "preset_env_var", v.Key)
		}
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (a *applicationPG) GetSpecExtra(ctx context.Context, moduleID string) (kdb.ModuleSpecExtra, error) {
	var svcDisc, domainRes []byte
	if err := a.dbs.Main.QueryRow(
		ctx,
		`select "svc_discovery", "domain_resolution" from "module_spec_extra" where "module_id" = $1`,
		moduleID,
	).Scan(&svcDisc, &domainRes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kdb.ModuleSpecExtra{}, nil
		}
		return kdb.ModuleSpecExtra{}, pgerr.Classify(err, "module_spec_extra", moduleID)
	}

	extra := kdb.ModuleSpecExtra{}
	if len(svcDisc) != 0 {
		if err := json.Unmarshal(svcDisc, &extra.SvcDiscovery); err != nil {
			return kdb.ModuleSpecExtra{}, xe.Wrap(err)
		}
	}
	if len(domainRes) != 0 {
		if err := json.Unmarshal(domainRes, &extra.DomainResolution); err != nil {
			return kdb.ModuleSpecExtra{}, xe.Wrap(err)
		}
	}
	return extra, nil
}

func (a *applicationPG) SetSpecExtra(ctx context.Context, moduleID string, extra kdb.ModuleSpecExtra) error {
	svcDisc, err := json.Marshal(extra.SvcDiscovery)
	if err != nil {
		return xe.Wrap(err)
	}
	domainRes, err := json.Marshal(extra.DomainResolution)
	if err != nil {
		return xe.Wrap(err)
	}
	if _, err := a.dbs.Main.Exec(
		ctx,
		`
		insert into "module_spec_extra" ("module_id", "svc_discovery", "domain_resolution", "updated_at")
		values ($1, $2, $3, $4)
		on conflict ("module_id") do update set
			"svc_discovery" = excluded."svc_discovery",
			"domain_resolution" = excluded."domain_resolution",
			"updated_at" = excluded."updated_at"
		`,
		moduleID, svcDisc, domainRes, time.Now(),
	); err != nil {
		return pgerr.Classify(err, "module_spec_extra", moduleID)
	}
	return nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	ret := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
