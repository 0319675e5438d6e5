package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/configvar/db"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type configVarPG struct {
	pool kpool.Queryer
}

func New(pool kpool.Queryer) kdb.Interface {
	return &configVarPG{pool: pool}
}

const selectConfigVar = `
	select
		"id", "module_id", "scope", "environment_id", "key", "value",
		"description", "is_sensitive", "is_builtin", "updated_at"
	from "config_var"
`

func scanConfigVar(row pgx.Row) (domain.ConfigVar, error) {
	var v domain.ConfigVar
	var scope string
	var envID *string
	if err := row.Scan(
		&v.ID, &v.ModuleID, &scope, &envID, &v.Key, &v.Value,
		&v.Description, &v.IsSensitive, &v.IsBuiltin, &v.UpdatedAt,
	); err != nil {
		return domain.ConfigVar{}, err
	}
	v.Scope = domain.EnvScope(scope)
	if envID != nil {
		v.EnvironmentID = *envID
	}
	return v, nil
}

func (c *configVarPG) List(ctx context.Context, moduleID string) ([]domain.ConfigVar, error) {
	rows, err := c.pool.Query(
		ctx, selectConfigVar+` where "module_id" = $1 order by "key", "scope"`, moduleID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "config_var", moduleID)
	}
	defer rows.Close()

	vars := []domain.ConfigVar{}
	for rows.Next() {
		v, err := scanConfigVar(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return vars, nil
}

func (c *configVarPG) Get(ctx context.Context, id string) (domain.ConfigVar, error) {
	v, err := scanConfigVar(c.pool.QueryRow(ctx, selectConfigVar+` where "id" = $1`, id))
	if err != nil {
		return domain.ConfigVar{}, pgerr.Classify(err, "config_var", id)
	}
	return v, nil
}

func (c *configVarPG) Upsert(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, error) {
	var envID *string
	scopeKey := string(domain.EnvScopeGlobal)
	if v.Scope != domain.EnvScopeGlobal {
		envID = &v.EnvironmentID
		scopeKey = v.EnvironmentID
	}

	// "scope_key" is the environment id, or _global_. (module_id, key, scope_key) is unique.
	row := c.pool.QueryRow(
		ctx,
		`
		insert into "config_var"
			(
				"id", "module_id", "scope", "scope_key", "environment_id",
				"key", "value", "description", "is_sensitive", "is_builtin"
			)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict ("module_id", "key", "scope_key") do update
		set
			"value" = excluded."value",
			"description" = excluded."description",
			"is_sensitive" = excluded."is_sensitive",
			"is_builtin" = excluded."is_builtin",
			"updated_at" = now()
		returning
			"id", "module_id", "scope", "environment_id", "key", "value",
			"description", "is_sensitive", "is_builtin", "updated_at"
		`,
		uuid.NewString(), v.ModuleID, string(v.Scope), scopeKey, envID,
		v.Key, v.Value, v.Description, v.IsSensitive, v.IsBuiltin,
	)
	saved, err := scanConfigVar(row)
	if err != nil {
		return domain.ConfigVar{}, pgerr.Classify(err, "config_var", v.Key)
	}
	return saved, nil
}

func (c *configVarPG) Delete(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `delete from "config_var" where "id" = $1`, id); err != nil {
		return pgerr.Classify(err, "config_var", id)
	}
	return nil
}
