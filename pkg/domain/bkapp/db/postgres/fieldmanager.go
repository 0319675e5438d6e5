package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
)

type fieldManagerPG struct {
	pool kpool.Queryer
}

func New(pool kpool.Queryer) kdb.Interface {
	return &fieldManagerPG{pool: pool}
}

func (f *fieldManagerPG) GetFieldManager(ctx context.Context, moduleID string, field string) (string, error) {
	var manager string
	err := f.pool.QueryRow(
		ctx,
		`select "manager" from "field_manager" where "module_id" = $1 and "field" = $2`,
		moduleID, field,
	).Scan(&manager)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", pgerr.Classify(err, "field_manager", field)
	}
	return manager, nil
}

func (f *fieldManagerPG) CompareAndSetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
	// a row managed by others is not updated, and nothing is returned.
	var set bool
	err := f.pool.QueryRow(
		ctx,
		`
		insert into "field_manager" ("module_id", "field", "manager")
		values ($1, $2, $3)
		on conflict ("module_id", "field") do update
		set "updated_at" = now()
		where "field_manager"."manager" = excluded."manager"
		returning true
		`,
		moduleID, field, manager,
	).Scan(&set)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, pgerr.Classify(err, "field_manager", field)
	}
	return set, nil
}

func (f *fieldManagerPG) SetFieldManager(ctx context.Context, moduleID string, field string, manager string) error {
	if _, err := f.pool.Exec(
		ctx,
		`
		insert into "field_manager" ("module_id", "field", "manager")
		values ($1, $2, $3)
		on conflict ("module_id", "field") do update
		set "manager" = excluded."manager", "updated_at" = now()
		`,
		moduleID, field, manager,
	); err != nil {
		return pgerr.Classify(err, "field_manager", field)
	}
	return nil
}

func (f *fieldManagerPG) ResetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
	ctag, err := f.pool.Exec(
		ctx,
		`delete from "field_manager" where "module_id" = $1 and "field" = $2 and "manager" = $3`,
		moduleID, field, manager,
	)
	if err != nil {
		return false, pgerr.Classify(err, "field_manager", field)
	}
	return ctag.RowsAffected() != 0, nil
}
