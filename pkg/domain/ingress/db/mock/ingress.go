package mock

import (
	"context"
	"errors"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type AssignAutoGenDomainsArgs struct {
	Region      string
	WorkloadApp string
	Domains     []domain.AutoGenDomain
}

type AssignSubpathsArgs struct {
	Region      string
	WorkloadApp string
	Subpaths    []string
}

type ListArgs struct {
	Region      string
	WorkloadApp string
}

type IngressInterface struct {
	Impl struct {
		ListAutoGenDomains   func(ctx context.Context, region string, wlApp string) ([]domain.AutoGenDomain, error)
		AssignAutoGenDomains func(ctx context.Context, region string, wlApp string, domains []domain.AutoGenDomain) ([]string, error)
		ListSubpaths         func(ctx context.Context, region string, wlApp string) ([]domain.AppSubpath, error)
		AssignSubpaths       func(ctx context.Context, region string, wlApp string, subpaths []string) ([]string, error)
		ListCustomDomains    func(ctx context.Context, wlApp string) ([]domain.CustomDomain, error)
		GetCustomDomain      func(ctx context.Context, id int64) (domain.CustomDomain, error)
		NewCustomDomain      func(ctx context.Context, d domain.CustomDomain) (domain.CustomDomain, error)
		DeleteCustomDomain   func(ctx context.Context, id int64) error
		GetCert              func(ctx context.Context, id string) (domain.TLSCert, error)
		ListSharedCerts      func(ctx context.Context, region string) ([]domain.TLSCert, error)
	}
	Calls struct {
		ListAutoGenDomains   dbmock.CallLog[ListArgs]
		AssignAutoGenDomains dbmock.CallLog[AssignAutoGenDomainsArgs]
		ListSubpaths         dbmock.CallLog[ListArgs]
		AssignSubpaths       dbmock.CallLog[AssignSubpathsArgs]
		ListCustomDomains    dbmock.CallLog[string]
		GetCustomDomain      dbmock.CallLog[int64]
		NewCustomDomain      dbmock.CallLog[domain.CustomDomain]
		DeleteCustomDomain   dbmock.CallLog[int64]
		GetCert              dbmock.CallLog[string]
		ListSharedCerts      dbmock.CallLog[string]
	}
}

func NewIngressInterface() *IngressInterface {
	return &IngressInterface{}
}

var _ kdb.Interface = &IngressInterface{}

func (m *IngressInterface) ListAutoGenDomains(ctx context.Context, region string, wlApp string) ([]domain.AutoGenDomain, error) {
	m.Calls.ListAutoGenDomains = append(m.Calls.ListAutoGenDomains, ListArgs{Region: region, WorkloadApp: wlApp})
	if m.Impl.ListAutoGenDomains != nil {
		return m.Impl.ListAutoGenDomains(ctx, region, wlApp)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) AssignAutoGenDomains(ctx context.Context, region string, wlApp string, domains []domain.AutoGenDomain) ([]string, error) {
	m.Calls.AssignAutoGenDomains = append(
		m.Calls.AssignAutoGenDomains,
		AssignAutoGenDomainsArgs{Region: region, WorkloadApp: wlApp, Domains: domains},
	)
	if m.Impl.AssignAutoGenDomains != nil {
		return m.Impl.AssignAutoGenDomains(ctx, region, wlApp, domains)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) ListSubpaths(ctx context.Context, region string, wlApp string) ([]domain.AppSubpath, error) {
	m.Calls.ListSubpaths = append(m.Calls.ListSubpaths, ListArgs{Region: region, WorkloadApp: wlApp})
	if m.Impl.ListSubpaths != nil {
		return m.Impl.ListSubpaths(ctx, region, wlApp)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) AssignSubpaths(ctx context.Context, region string, wlApp string, subpaths []string) ([]string, error) {
	m.Calls.AssignSubpaths = append(
		m.Calls.AssignSubpaths,
		AssignSubpathsArgs{Region: region, WorkloadApp: wlApp, Subpaths: subpaths},
	)
	if m.Impl.AssignSubpaths != nil {
		return m.Impl.AssignSubpaths(ctx, region, wlApp, subpaths)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) ListCustomDomains(ctx context.Context, wlApp string) ([]domain.CustomDomain, error) {
	m.Calls.ListCustomDomains = append(m.Calls.ListCustomDomains, wlApp)
	if m.Impl.ListCustomDomains != nil {
		return m.Impl.ListCustomDomains(ctx, wlApp)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) GetCustomDomain(ctx context.Context, id int64) (domain.CustomDomain, error) {
	m.Calls.GetCustomDomain = append(m.Calls.GetCustomDomain, id)
	if m.Impl.GetCustomDomain != nil {
		return m.Impl.GetCustomDomain(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) NewCustomDomain(ctx context.Context, d domain.CustomDomain) (domain.CustomDomain, error) {
	m.Calls.NewCustomDomain = append(m.Calls.NewCustomDomain, d)
	if m.Impl.NewCustomDomain != nil {
		return m.Impl.NewCustomDomain(ctx, d)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) DeleteCustomDomain(ctx context.Context, id int64) error {
	m.Calls.DeleteCustomDomain = append(m.Calls.DeleteCustomDomain, id)
	if m.Impl.DeleteCustomDomain != nil {
		return m.Impl.DeleteCustomDomain(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) GetCert(ctx context.Context, id string) (domain.TLSCert, error) {
	m.Calls.GetCert = append(m.Calls.GetCert, id)
	if m.Impl.GetCert != nil {
		return m.Impl.GetCert(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *IngressInterface) ListSharedCerts(ctx context.Context, region string) ([]domain.TLSCert, error) {
	m.Calls.ListSharedCerts = append(m.Calls.ListSharedCerts, region)
	if m.Impl.ListSharedCerts != nil {
		return m.Impl.ListSharedCerts(ctx, region)
	}
	panic(errors.New("it should not be called"))
}
