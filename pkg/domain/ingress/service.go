package ingress

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db"
)

// Service assigns domains to workload apps and keeps their ingresses in sync.
type Service struct {
	domains         kdb.Interface
	syncer          *Syncer
	deleteWhenEmpty bool
	logger          *log.Logger
}

type Option func(*Service) *Service

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) *Service {
		s.logger = logger
		return s
	}
}

// WithDeleteWhenEmpty makes ingresses which route nothing deleted.
//
// Default: false (syncing such ingresses fails).
func WithDeleteWhenEmpty(b bool) Option {
	return func(s *Service) *Service {
		s.deleteWhenEmpty = b
		return s
	}
}

func NewService(domains kdb.Interface, syncer *Syncer, options ...Option) *Service {
	s := &Service{
		domains: domains,
		syncer:  syncer,
		logger:  log.New(log.Writer(), "[ingress] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

var hostPattern = regexp.MustCompile(`^(\*\.)?([a-z0-9]([-a-z0-9]*[a-z0-9])?\.)*[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateHost checks host is a (possibly wildcard) DNS name.
func ValidateHost(host string) error {
	if len(host) == 0 || len(host) > 253 || !hostPattern.MatchString(host) {
		return domerr.Invalid("host", "%q is not a valid host name", host)
	}
	return nil
}

// AssignCustomHosts makes wlApp the only owner of domains, taking them over from other apps.
//
// The subdomain ingress of every app whose domains are changed is synced again.
// The ingress of wlApp routes to defaultService. Ingresses of the others keep routing
// to the service they route to.
func (s *Service) AssignCustomHosts(ctx context.Context, region, wlApp string, domains []domain.AutoGenDomain, defaultService Backend) error {
	for _, d := range domains {
		if err := ValidateHost(d.Host); err != nil {
			return err
		}
	}
	affected, err := s.domains.AssignAutoGenDomains(ctx, region, wlApp, domains)
	if err != nil {
		return err
	}
	return s.resync(ctx, wlApp, affected, defaultService, SubdomainIngressName, func(app string, backend Backend) error {
		return s.syncer.SyncSubdomain(ctx, region, app, backend, s.deleteWhenEmpty)
	})
}

// AssignSubpaths makes wlApp the only owner of subpaths, like AssignCustomHosts.
func (s *Service) AssignSubpaths(ctx context.Context, region, wlApp string, subpaths []string, defaultService Backend) error {
	normalized := make([]string, 0, len(subpaths))
	for _, p := range subpaths {
		if strings.ContainsAny(p, " \t\n?#") {
			return domerr.Invalid("subpath", "%q is not a valid path", p)
		}
		normalized = append(normalized, normalizePrefix(p))
	}
	affected, err := s.domains.AssignSubpaths(ctx, region, wlApp, normalized)
	if err != nil {
		return err
	}
	return s.resync(ctx, wlApp, affected, defaultService, SubpathIngressName, func(app string, backend Backend) error {
		return s.syncer.SyncSubpath(ctx, region, app, backend, s.deleteWhenEmpty)
	})
}

// resync syncs apps one by one. Failures do not stop others from being synced.
func (s *Service) resync(
	ctx context.Context,
	wlApp string,
	apps []string,
	defaultService Backend,
	ingressName func(string) string,
	sync func(app string, backend Backend) error,
) error {
	var errs []error
	for _, app := range apps {
		backend := defaultService
		if app != wlApp {
			b, err := s.syncer.BackendOf(ctx, app, ingressName(app))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			backend = b
		}
		if err := sync(app, backend); err != nil {
			s.logger.Printf("failed to sync ingress of %s: %s", app, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BindCustomDomain records a custom domain and creates its ingress.
func (s *Service) BindCustomDomain(ctx context.Context, d domain.CustomDomain, backend Backend) (domain.CustomDomain, error) {
	if err := ValidateHost(d.Host); err != nil {
		return domain.CustomDomain{}, err
	}
	if strings.Contains(d.Host, "*") {
		return domain.CustomDomain{}, domerr.Invalid("host", "wildcard host %q can not be bound", d.Host)
	}
	if d.PathPrefix == "" {
		d.PathPrefix = domain.DefaultPathPrefix
	}
	d.PathPrefix = normalizePrefix(d.PathPrefix)

	created, err := s.domains.NewCustomDomain(ctx, d)
	if err != nil {
		return domain.CustomDomain{}, err
	}
	if err := s.syncer.SyncCustom(ctx, created, backend); err != nil {
		return created, err
	}
	return created, nil
}

// SyncCustomDomain writes the ingress of a recorded custom domain again.
func (s *Service) SyncCustomDomain(ctx context.Context, id int64, backend Backend) error {
	d, err := s.domains.GetCustomDomain(ctx, id)
	if err != nil {
		return err
	}
	return s.syncer.SyncCustom(ctx, d, backend)
}

// UnbindCustomDomain deletes the ingress of a custom domain, and then its record.
func (s *Service) UnbindCustomDomain(ctx context.Context, id int64) error {
	d, err := s.domains.GetCustomDomain(ctx, id)
	if err != nil {
		return err
	}
	if err := s.syncer.DeleteCustom(ctx, d); err != nil {
		return err
	}
	return s.domains.DeleteCustomDomain(ctx, id)
}

// SyncApp writes every managed ingress of the workload app.
func (s *Service) SyncApp(ctx context.Context, region, wlApp string, backend Backend) error {
	return s.syncer.SyncApp(ctx, region, wlApp, backend, s.deleteWhenEmpty)
}
