package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

type Interface interface {
	// ListAutoGenDomains returns auto-generated domains owned by the workload app, ordered by host.
	ListAutoGenDomains(ctx context.Context, region string, wlApp string) ([]domain.AutoGenDomain, error)

	// AssignAutoGenDomains makes wlApp own exactly domains.
	//
	// Hosts owned by other workload apps are taken over.
	// Rows are locked while ownership is transferred.
	//
	// # Returns
	//
	// - []string: workload apps whose domains are changed, including wlApp. Sorted.
	AssignAutoGenDomains(ctx context.Context, region string, wlApp string, domains []domain.AutoGenDomain) ([]string, error)

	// ListSubpaths returns subpaths owned by the workload app, ordered by subpath.
	ListSubpaths(ctx context.Context, region string, wlApp string) ([]domain.AppSubpath, error)

	// AssignSubpaths makes wlApp own exactly subpaths, like AssignAutoGenDomains.
	AssignSubpaths(ctx context.Context, region string, wlApp string, subpaths []string) ([]string, error)

	ListCustomDomains(ctx context.Context, wlApp string) ([]domain.CustomDomain, error)
	GetCustomDomain(ctx context.Context, id int64) (domain.CustomDomain, error)

	// NewCustomDomain records a custom domain. (region, host, path prefix) is unique.
	NewCustomDomain(ctx context.Context, d domain.CustomDomain) (domain.CustomDomain, error)
	DeleteCustomDomain(ctx context.Context, id int64) error

	GetCert(ctx context.Context, id string) (domain.TLSCert, error)

	// ListSharedCerts returns certificates which may serve any matching host of the region.
	ListSharedCerts(ctx context.Context, region string) ([]domain.TLSCert, error)
}
