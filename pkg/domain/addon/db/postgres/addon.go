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
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type addonPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &addonPG{pool: pool}
}

func (a *addonPG) plansOf(ctx context.Context, q kpool.Queryer, serviceIDs []string) (map[string][]domain.Plan, error) {
	rows, err := q.Query(
		ctx,
		`
		select "id", "service_id", "name", "is_eager", "is_active", "config"
		from "addon_plan" where "service_id" = any($1)
		order by "service_id", "name"
		`,
		serviceIDs,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_plan", "")
	}
	defer rows.Close()

	plans := map[string][]domain.Plan{}
	for rows.Next() {
		var p domain.Plan
		var config []byte
		if err := rows.Scan(&p.ID, &p.ServiceID, &p.Name, &p.IsEager, &p.IsActive, &config); err != nil {
			return nil, xe.Wrap(err)
		}
		if err := json.Unmarshal(config, &p.Config); err != nil {
			return nil, xe.Wrap(err)
		}
		plans[p.ServiceID] = append(plans[p.ServiceID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return plans, nil
}

const selectService = `
	select "id", "name", "display_name", "category", "provider", "protected_keys"
	from "addon_service"
`

func scanService(row pgx.Row) (domain.AddonService, error) {
	var s domain.AddonService
	err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Category, &s.Provider, &s.ProtectedKeys)
	return s, err
}

func (a *addonPG) ListServices(ctx context.Context) ([]domain.AddonService, error) {
	rows, err := a.pool.Query(ctx, selectService+` order by "name"`)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_service", "")
	}
	services := []domain.AddonService{}
	ids := []string{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			rows.Close()
			return nil, xe.Wrap(err)
		}
		services = append(services, s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}

	plans, err := a.plansOf(ctx, a.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range services {
		services[i].Plans = plans[services[i].ID]
	}
	return services, nil
}

func (a *addonPG) GetService(ctx context.Context, id string) (domain.AddonService, error) {
	s, err := scanService(a.pool.QueryRow(ctx, selectService+` where "id" = $1`, id))
	if err != nil {
		return domain.AddonService{}, pgerr.Classify(err, "addon_service", id)
	}
	plans, err := a.plansOf(ctx, a.pool, []string{id})
	if err != nil {
		return domain.AddonService{}, err
	}
	s.Plans = plans[id]
	return s, nil
}

func (a *addonPG) GetPolicy(ctx context.Context, serviceID string, tenantID string) (domain.BindingPolicy, error) {
	p := domain.BindingPolicy{ServiceID: serviceID, TenantID: tenantID}
	var typ string
	var envPlans, rules []byte
	if err := a.pool.QueryRow(
		ctx,
		`
		select "type", "plan_id", "env_plan_ids", "rules", "default_plan_id"
		from "binding_policy" where "service_id" = $1 and "tenant_id" = $2
		`,
		serviceID, tenantID,
	).Scan(&typ, &p.PlanID, &envPlans, &rules, &p.DefaultPlanID); err != nil {
		return domain.BindingPolicy{}, pgerr.Classify(err, "binding_policy", serviceID+"/"+tenantID)
	}
	t, err := domain.AsPolicyType(typ)
	if err != nil {
		return domain.BindingPolicy{}, xe.Wrap(err)
	}
	p.Type = t
	if err := errors.Join(json.Unmarshal(envPlans, &p.EnvPlanIDs), json.Unmarshal(rules, &p.Rules)); err != nil {
		return domain.BindingPolicy{}, xe.Wrap(err)
	}
	return p, nil
}

func (a *addonPG) NewBinding(ctx context.Context, binding domain.AddonBinding, environments []domain.Environment) (domain.AddonBinding, []domain.Attachment, error) {
	if binding.ID == "" {
		binding.ID = uuid.NewString()
	}
	plans, err := json.Marshal(binding.PlanIDs)
	if err != nil {
		return domain.AddonBinding{}, nil, xe.Wrap(err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return domain.AddonBinding{}, nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(
		ctx,
		`
		insert into "addon_binding" ("id", "module_id", "service_id", "plan_ids")
		values ($1, $2, $3, $4)
		returning "created_at"
		`,
		binding.ID, binding.ModuleID, binding.ServiceID, plans,
	).Scan(&binding.CreatedAt); err != nil {
		return domain.AddonBinding{}, nil, pgerr.Classify(err, "addon_binding", binding.ModuleID+"/"+binding.ServiceID)
	}

	attachments := make([]domain.Attachment, 0, len(environments))
	for _, env := range environments {
		att := domain.Attachment{
			ID:            uuid.NewString(),
			BindingID:     binding.ID,
			ModuleID:      binding.ModuleID,
			ServiceID:     binding.ServiceID,
			EnvironmentID: env.ID,
			Stage:         env.Stage,
			PlanID:        binding.PlanIDs[env.Stage],
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "addon_attachment"
				("id", "binding_id", "module_id", "service_id", "environment_id", "stage", "plan_id")
			values ($1, $2, $3, $4, $5, $6, $7)
			`,
			att.ID, att.BindingID, att.ModuleID, att.ServiceID, att.EnvironmentID, string(att.Stage), att.PlanID,
		); err != nil {
			return domain.AddonBinding{}, nil, pgerr.Classify(err, "addon_attachment", env.ID)
		}
		attachments = append(attachments, att)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AddonBinding{}, nil, xe.Wrap(err)
	}
	return binding, attachments, nil
}

const selectBinding = `
	select "id", "module_id", "service_id", "plan_ids", "created_at"
	from "addon_binding"
`

func scanBinding(row pgx.Row) (domain.AddonBinding, error) {
	var b domain.AddonBinding
	var plans []byte
	if err := row.Scan(&b.ID, &b.ModuleID, &b.ServiceID, &plans, &b.CreatedAt); err != nil {
		return domain.AddonBinding{}, err
	}
	if err := json.Unmarshal(plans, &b.PlanIDs); err != nil {
		return domain.AddonBinding{}, err
	}
	return b, nil
}

func (a *addonPG) GetBinding(ctx context.Context, moduleID string, serviceID string) (domain.AddonBinding, error) {
	b, err := scanBinding(a.pool.QueryRow(
		ctx, selectBinding+` where "module_id" = $1 and "service_id" = $2`, moduleID, serviceID,
	))
	if err != nil {
		return domain.AddonBinding{}, pgerr.Classify(err, "addon_binding", moduleID+"/"+serviceID)
	}
	return b, nil
}

func (a *addonPG) ListBindings(ctx context.Context, moduleID string) ([]domain.AddonBinding, error) {
	rows, err := a.pool.Query(ctx, selectBinding+` where "module_id" = $1 order by "created_at"`, moduleID)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_binding", moduleID)
	}
	defer rows.Close()

	bs := []domain.AddonBinding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		bs = append(bs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return bs, nil
}

const selectAttachment = `
	select
		"id", "binding_id", "module_id", "service_id", "environment_id", "stage", "plan_id",
		coalesce("instance_id", ''), "provisioned_at"
	from "addon_attachment"
`

func scanAttachment(row pgx.Row) (domain.Attachment, error) {
	var att domain.Attachment
	var stage string
	if err := row.Scan(
		&att.ID, &att.BindingID, &att.ModuleID, &att.ServiceID, &att.EnvironmentID, &stage, &att.PlanID,
		&att.InstanceID, &att.ProvisionedAt,
	); err != nil {
		return domain.Attachment{}, err
	}
	att.Stage = domain.Stage(stage)
	return att, nil
}

func (a *addonPG) listAttachments(ctx context.Context, q kpool.Queryer, where string, args ...any) ([]domain.Attachment, error) {
	rows, err := q.Query(ctx, selectAttachment+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	atts := []domain.Attachment{}
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

func (a *addonPG) ListAttachments(ctx context.Context, moduleID string, stage domain.Stage) ([]domain.Attachment, error) {
	atts, err := a.listAttachments(
		ctx, a.pool,
		` where "module_id" = $1 and "stage" = $2 order by "service_id"`,
		moduleID, string(stage),
	)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_attachment", moduleID)
	}
	return atts, nil
}

func (a *addonPG) ListAttachmentsOfBinding(ctx context.Context, bindingID string) ([]domain.Attachment, error) {
	atts, err := a.listAttachments(ctx, a.pool, ` where "binding_id" = $1 order by "stage"`, bindingID)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_attachment", bindingID)
	}
	return atts, nil
}

func (a *addonPG) SetInstance(ctx context.Context, attachmentID string, instance domain.ServiceInstance) (domain.Attachment, error) {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	config, err := json.Marshal(instance.Config)
	if err != nil {
		return domain.Attachment{}, xe.Wrap(err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return domain.Attachment{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`
		insert into "service_instance" ("id", "service_id", "plan_id", "credentials", "config")
		values ($1, $2, $3, $4, $5)
		`,
		instance.ID, instance.ServiceID, instance.PlanID, instance.Credentials, config,
	); err != nil {
		return domain.Attachment{}, pgerr.Classify(err, "service_instance", instance.ID)
	}

	att, err := scanAttachment(tx.QueryRow(
		ctx,
		`
		with "updated" as (
			update "addon_attachment"
			set "instance_id" = $2, "provisioned_at" = now()
			where "id" = $1 and "instance_id" is null
			returning *
		)
		select
			"id", "binding_id", "module_id", "service_id", "environment_id", "stage", "plan_id",
			coalesce("instance_id", ''), "provisioned_at"
		from "updated"
		`,
		attachmentID, instance.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attachment{}, xe.Wrap(domerr.Conflict{Table: "addon_attachment", Identity: attachmentID})
	}
	if err != nil {
		return domain.Attachment{}, pgerr.Classify(err, "addon_attachment", attachmentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Attachment{}, xe.Wrap(err)
	}
	return att, nil
}

func (a *addonPG) GetInstance(ctx context.Context, id string) (domain.ServiceInstance, error) {
	var inst domain.ServiceInstance
	var config []byte
	if err := a.pool.QueryRow(
		ctx,
		`
		select "id", "service_id", "plan_id", "credentials", "config", "created_at"
		from "service_instance" where "id" = $1
		`,
		id,
	).Scan(&inst.ID, &inst.ServiceID, &inst.PlanID, &inst.Credentials, &config, &inst.CreatedAt); err != nil {
		return domain.ServiceInstance{}, pgerr.Classify(err, "service_instance", id)
	}
	if err := json.Unmarshal(config, &inst.Config); err != nil {
		return domain.ServiceInstance{}, xe.Wrap(err)
	}
	return inst, nil
}

func (a *addonPG) ChangePlans(ctx context.Context, bindingID string, planIDs map[domain.Stage]string) error {
	plans, err := json.Marshal(planIDs)
	if err != nil {
		return xe.Wrap(err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	atts, err := a.listAttachments(ctx, tx, ` where "binding_id" = $1 for update`, bindingID)
	if err != nil {
		return pgerr.Classify(err, "addon_attachment", bindingID)
	}
	for _, att := range atts {
		if att.Provisioned() {
			return xe.Wrap(domerr.Precondition("attachment %s (%s) is already provisioned", att.ID, att.Stage))
		}
	}

	tag, err := tx.Exec(ctx, `update "addon_binding" set "plan_ids" = $2 where "id" = $1`, bindingID, plans)
	if err != nil {
		return pgerr.Classify(err, "addon_binding", bindingID)
	}
	if tag.RowsAffected() == 0 {
		return xe.Wrap(domerr.Missing{Table: "addon_binding", Identity: bindingID})
	}
	for stage, plan := range planIDs {
		if _, err := tx.Exec(
			ctx,
			`update "addon_attachment" set "plan_id" = $3 where "binding_id" = $1 and "stage" = $2`,
			bindingID, string(stage), plan,
		); err != nil {
			return pgerr.Classify(err, "addon_attachment", bindingID)
		}
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (a *addonPG) Unbind(ctx context.Context, bindingID string) ([]domain.UnboundAttachment, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	atts, err := a.listAttachments(ctx, tx, ` where "binding_id" = $1 order by "stage" for update`, bindingID)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_attachment", bindingID)
	}

	unbound := []domain.UnboundAttachment{}
	now := time.Now()
	for _, att := range atts {
		if !att.Provisioned() {
			continue
		}
		u := domain.UnboundAttachment{
			ID:            uuid.NewString(),
			ModuleID:      att.ModuleID,
			ServiceID:     att.ServiceID,
			EnvironmentID: att.EnvironmentID,
			InstanceID:    att.InstanceID,
			UnboundAt:     now,
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "unbound_attachment"
				("id", "module_id", "service_id", "environment_id", "instance_id", "unbound_at")
			values ($1, $2, $3, $4, $5, $6)
			`,
			u.ID, u.ModuleID, u.ServiceID, u.EnvironmentID, u.InstanceID, u.UnboundAt,
		); err != nil {
			return nil, pgerr.Classify(err, "unbound_attachment", att.ID)
		}
		unbound = append(unbound, u)
	}

	// attachments are deleted in cascade.
	tag, err := tx.Exec(ctx, `delete from "addon_binding" where "id" = $1`, bindingID)
	if err != nil {
		return nil, pgerr.Classify(err, "addon_binding", bindingID)
	}
	if tag.RowsAffected() == 0 {
		return nil, xe.Wrap(domerr.Missing{Table: "addon_binding", Identity: bindingID})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, xe.Wrap(err)
	}
	return unbound, nil
}

const selectUnbound = `
	select "id", "module_id", "service_id", "environment_id", "instance_id", "unbound_at"
	from "unbound_attachment"
`

func scanUnbound(row pgx.Row) (domain.UnboundAttachment, error) {
	var u domain.UnboundAttachment
	err := row.Scan(&u.ID, &u.ModuleID, &u.ServiceID, &u.EnvironmentID, &u.InstanceID, &u.UnboundAt)
	return u, err
}

func (a *addonPG) ListUnbound(ctx context.Context, moduleID string) ([]domain.UnboundAttachment, error) {
	rows, err := a.pool.Query(ctx, selectUnbound+` where "module_id" = $1 order by "unbound_at"`, moduleID)
	if err != nil {
		return nil, pgerr.Classify(err, "unbound_attachment", moduleID)
	}
	defer rows.Close()

	us := []domain.UnboundAttachment{}
	for rows.Next() {
		u, err := scanUnbound(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		us = append(us, u)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return us, nil
}

func (a *addonPG) GetUnbound(ctx context.Context, id string) (domain.UnboundAttachment, error) {
	u, err := scanUnbound(a.pool.QueryRow(ctx, selectUnbound+` where "id" = $1`, id))
	if err != nil {
		return domain.UnboundAttachment{}, pgerr.Classify(err, "unbound_attachment", id)
	}
	return u, nil
}

func (a *addonPG) NextUnbound(ctx context.Context, afterID string) (domain.UnboundAttachment, error) {
	u, err := scanUnbound(a.pool.QueryRow(ctx, selectUnbound+` where "id" > $1 order by "id" limit 1`, afterID))
	if err != nil {
		return domain.UnboundAttachment{}, pgerr.Classify(err, "unbound_attachment", "after "+afterID)
	}
	return u, nil
}

func (a *addonPG) DeleteUnbound(ctx context.Context, id string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var instanceID string
	if err := tx.QueryRow(
		ctx, `delete from "unbound_attachment" where "id" = $1 returning "instance_id"`, id,
	).Scan(&instanceID); err != nil {
		return pgerr.Classify(err, "unbound_attachment", id)
	}
	if _, err := tx.Exec(ctx, `delete from "service_instance" where "id" = $1`, instanceID); err != nil {
		return pgerr.Classify(err, "service_instance", instanceID)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (a *addonPG) NewShare(ctx context.Context, share domain.SharedAttachment) (domain.SharedAttachment, error) {
	if err := a.pool.QueryRow(
		ctx,
		`
		insert into "shared_attachment" ("module_id", "ref_module_id", "service_id")
		values ($1, $2, $3)
		returning "created_at"
		`,
		share.ModuleID, share.RefModuleID, share.ServiceID,
	).Scan(&share.CreatedAt); err != nil {
		return domain.SharedAttachment{}, pgerr.Classify(err, "shared_attachment", share.ModuleID+"/"+share.ServiceID)
	}
	return share, nil
}

func (a *addonPG) DeleteShare(ctx context.Context, moduleID string, serviceID string) error {
	if _, err := a.pool.Exec(
		ctx, `delete from "shared_attachment" where "module_id" = $1 and "service_id" = $2`, moduleID, serviceID,
	); err != nil {
		return pgerr.Classify(err, "shared_attachment", moduleID+"/"+serviceID)
	}
	return nil
}

func (a *addonPG) listShares(ctx context.Context, where string, args ...any) ([]domain.SharedAttachment, error) {
	rows, err := a.pool.Query(
		ctx,
		`select "module_id", "ref_module_id", "service_id", "created_at" from "shared_attachment"`+where,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []domain.SharedAttachment{}
	for rows.Next() {
		var s domain.SharedAttachment
		if err := rows.Scan(&s.ModuleID, &s.RefModuleID, &s.ServiceID, &s.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func (a *addonPG) ListShares(ctx context.Context, moduleID string) ([]domain.SharedAttachment, error) {
	shares, err := a.listShares(ctx, ` where "module_id" = $1 order by "service_id"`, moduleID)
	if err != nil {
		return nil, pgerr.Classify(err, "shared_attachment", moduleID)
	}
	return shares, nil
}

func (a *addonPG) ListSharedBy(ctx context.Context, refModuleID string, serviceID string) ([]domain.SharedAttachment, error) {
	shares, err := a.listShares(
		ctx, ` where "ref_module_id" = $1 and "service_id" = $2 order by "module_id"`, refModuleID, serviceID,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "shared_attachment", refModuleID)
	}
	return shares, nil
}

func (a *addonPG) AllocatePreCreated(ctx context.Context, planID string) (domain.PreCreatedInstance, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return domain.PreCreatedInstance{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var inst domain.PreCreatedInstance
	var config []byte
	if err := tx.QueryRow(
		ctx,
		`
		select "id", "plan_id", "credentials", "config"
		from "precreated_instance"
		where "plan_id" = $1 and not "is_allocated"
		order by "id"
		limit 1
		for update skip locked
		`,
		planID,
	).Scan(&inst.ID, &inst.PlanID, &inst.Credentials, &config); err != nil {
		return domain.PreCreatedInstance{}, pgerr.Classify(err, "precreated_instance", planID)
	}
	if err := json.Unmarshal(config, &inst.Config); err != nil {
		return domain.PreCreatedInstance{}, xe.Wrap(err)
	}

	if _, err := tx.Exec(
		ctx, `update "precreated_instance" set "is_allocated" = true where "id" = $1`, inst.ID,
	); err != nil {
		return domain.PreCreatedInstance{}, pgerr.Classify(err, "precreated_instance", inst.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PreCreatedInstance{}, xe.Wrap(err)
	}
	inst.IsAllocated = true
	return inst, nil
}
