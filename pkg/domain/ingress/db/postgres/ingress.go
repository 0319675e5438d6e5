package postgres

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	pgerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type ingressPG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &ingressPG{pool: pool}
}

func (i *ingressPG) ListAutoGenDomains(ctx context.Context, region string, wlApp string) ([]domain.AutoGenDomain, error) {
	rows, err := i.pool.Query(
		ctx,
		`
		select "region", "host", "wl_app", "https_enabled", "updated_at"
		from "autogen_domain" where "region" = $1 and "wl_app" = $2
		order by "host"
		`,
		region, wlApp,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "autogen_domain", wlApp)
	}
	defer rows.Close()

	ds := []domain.AutoGenDomain{}
	for rows.Next() {
		var d domain.AutoGenDomain
		if err := rows.Scan(&d.Region, &d.Host, &d.WorkloadApp, &d.HTTPSEnabled, &d.UpdatedAt); err != nil {
			return nil, xe.Wrap(err)
		}
		ds = append(ds, d)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return ds, nil
}

// lockOwners locks rows of keys and returns their owners.
func lockOwners(ctx context.Context, tx kpool.Tx, query string, region string, keys []string) ([]string, error) {
	rows, err := tx.Query(ctx, query, region, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func affected(owners []string, wlApp string) []string {
	owners = append(owners, wlApp)
	slices.Sort(owners)
	return slices.Compact(owners)
}

func (i *ingressPG) AssignAutoGenDomains(ctx context.Context, region string, wlApp string, domains []domain.AutoGenDomain) ([]string, error) {
	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	hosts := make([]string, 0, len(domains))
	for _, d := range domains {
		hosts = append(hosts, d.Host)
	}

	owners, err := lockOwners(
		ctx, tx,
		`select "wl_app" from "autogen_domain" where "region" = $1 and "host" = any($2) for update`,
		region, hosts,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "autogen_domain", wlApp)
	}

	for _, d := range domains {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "autogen_domain" ("region", "host", "wl_app", "https_enabled")
			values ($1, $2, $3, $4)
			on conflict ("region", "host") do update
			set "wl_app" = excluded."wl_app", "https_enabled" = excluded."https_enabled", "updated_at" = now()
			`,
			region, d.Host, wlApp, d.HTTPSEnabled,
		); err != nil {
			return nil, pgerr.Classify(err, "autogen_domain", d.Host)
		}
	}

	if _, err := tx.Exec(
		ctx,
		`delete from "autogen_domain" where "region" = $1 and "wl_app" = $2 and not ("host" = any($3))`,
		region, wlApp, hosts,
	); err != nil {
		return nil, pgerr.Classify(err, "autogen_domain", wlApp)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgerr.Classify(err, "autogen_domain", wlApp)
	}
	return affected(owners, wlApp), nil
}

func (i *ingressPG) ListSubpaths(ctx context.Context, region string, wlApp string) ([]domain.AppSubpath, error) {
	rows, err := i.pool.Query(
		ctx,
		`
		select "region", "subpath", "wl_app", "updated_at"
		from "app_subpath" where "region" = $1 and "wl_app" = $2
		order by "subpath"
		`,
		region, wlApp,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "app_subpath", wlApp)
	}
	defer rows.Close()

	ss := []domain.AppSubpath{}
	for rows.Next() {
		var s domain.AppSubpath
		if err := rows.Scan(&s.Region, &s.Subpath, &s.WorkloadApp, &s.UpdatedAt); err != nil {
			return nil, xe.Wrap(err)
		}
		ss = append(ss, s)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return ss, nil
}

func (i *ingressPG) AssignSubpaths(ctx context.Context, region string, wlApp string, subpaths []string) ([]string, error) {
	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	owners, err := lockOwners(
		ctx, tx,
		`select "wl_app" from "app_subpath" where "region" = $1 and "subpath" = any($2) for update`,
		region, subpaths,
	)
	if err != nil {
		return nil, pgerr.Classify(err, "app_subpath", wlApp)
	}

	for _, s := range subpaths {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "app_subpath" ("region", "subpath", "wl_app") values ($1, $2, $3)
			on conflict ("region", "subpath") do update
			set "wl_app" = excluded."wl_app", "updated_at" = now()
			`,
			region, s, wlApp,
		); err != nil {
			return nil, pgerr.Classify(err, "app_subpath", s)
		}
	}

	if _, err := tx.Exec(
		ctx,
		`delete from "app_subpath" where "region" = $1 and "wl_app" = $2 and not ("subpath" = any($3))`,
		region, wlApp, subpaths,
	); err != nil {
		return nil, pgerr.Classify(err, "app_subpath", wlApp)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgerr.Classify(err, "app_subpath", wlApp)
	}
	return affected(owners, wlApp), nil
}

const selectCustomDomain = `
	select
		"id", "region", "host", "path_prefix", "module_id", "environment_id",
		"wl_app", "https_enabled", coalesce("cert_id", '')
	from "custom_domain"
`

func scanCustomDomain(row pgx.Row) (domain.CustomDomain, error) {
	var d domain.CustomDomain
	err := row.Scan(
		&d.ID, &d.Region, &d.Host, &d.PathPrefix, &d.ModuleID, &d.EnvironmentID,
		&d.WorkloadApp, &d.HTTPSEnabled, &d.CertID,
	)
	return d, err
}

func (i *ingressPG) ListCustomDomains(ctx context.Context, wlApp string) ([]domain.CustomDomain, error) {
	rows, err := i.pool.Query(ctx, selectCustomDomain+` where "wl_app" = $1 order by "id"`, wlApp)
	if err != nil {
		return nil, pgerr.Classify(err, "custom_domain", wlApp)
	}
	defer rows.Close()

	ds := []domain.CustomDomain{}
	for rows.Next() {
		d, err := scanCustomDomain(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		ds = append(ds, d)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return ds, nil
}

func (i *ingressPG) GetCustomDomain(ctx context.Context, id int64) (domain.CustomDomain, error) {
	d, err := scanCustomDomain(i.pool.QueryRow(ctx, selectCustomDomain+` where "id" = $1`, id))
	if err != nil {
		return domain.CustomDomain{}, pgerr.Classify(err, "custom_domain", pgx.Identifier{"id"}.Sanitize())
	}
	return d, nil
}

func (i *ingressPG) NewCustomDomain(ctx context.Context, d domain.CustomDomain) (domain.CustomDomain, error) {
	if d.PathPrefix == "" {
		d.PathPrefix = domain.DefaultPathPrefix
	}
	var certID *string
	if d.CertID != "" {
		certID = &d.CertID
	}
	if err := i.pool.QueryRow(
		ctx,
		`
		insert into "custom_domain"
			("region", "host", "path_prefix", "module_id", "environment_id", "wl_app", "https_enabled", "cert_id")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning "id"
		`,
		d.Region, d.Host, d.PathPrefix, d.ModuleID, d.EnvironmentID, d.WorkloadApp, d.HTTPSEnabled, certID,
	).Scan(&d.ID); err != nil {
		return domain.CustomDomain{}, pgerr.Classify(err, "custom_domain", d.Host+d.PathPrefix)
	}
	return d, nil
}

func (i *ingressPG) DeleteCustomDomain(ctx context.Context, id int64) error {
	if _, err := i.pool.Exec(ctx, `delete from "custom_domain" where "id" = $1`, id); err != nil {
		return pgerr.Classify(err, "custom_domain", "")
	}
	return nil
}

const selectCert = `
	select "id", "region", "name", "cert_data", "key_data", "auto_match_hosts"
	from "tls_cert"
`

func scanCert(row pgx.Row) (domain.TLSCert, error) {
	var c domain.TLSCert
	err := row.Scan(&c.ID, &c.Region, &c.Name, &c.CertData, &c.KeyData, &c.AutoMatchHosts)
	return c, err
}

func (i *ingressPG) GetCert(ctx context.Context, id string) (domain.TLSCert, error) {
	c, err := scanCert(i.pool.QueryRow(ctx, selectCert+` where "id" = $1`, id))
	if err != nil {
		return domain.TLSCert{}, pgerr.Classify(err, "tls_cert", id)
	}
	return c, nil
}

func (i *ingressPG) ListSharedCerts(ctx context.Context, region string) ([]domain.TLSCert, error) {
	rows, err := i.pool.Query(ctx, selectCert+` where "region" = $1 and "is_shared" order by "name"`, region)
	if err != nil {
		return nil, pgerr.Classify(err, "tls_cert", region)
	}
	defer rows.Close()

	certs := []domain.TLSCert{}
	for rows.Next() {
		c, err := scanCert(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, xe.Wrap(err)
	}
	return certs, nil
}
