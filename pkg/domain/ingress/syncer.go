package ingress

import (
	"context"
	"fmt"
	"log"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// Ingresses reads and writes ProcessIngresses in a cluster.
//
// *k8s.Manager[ProcessIngress] implements this.
type Ingresses interface {
	Get(ctx context.Context, namespace, name string) (ProcessIngress, error)
	Upsert(ctx context.Context, e ProcessIngress, method k8s.UpdateMethod) (ProcessIngress, bool, error)
	DeleteByName(ctx context.Context, namespace, name string) error
}

var _ Ingresses = &k8s.Manager[ProcessIngress]{}

// ErrEmptyIngress is returned when a managed ingress would route nothing
// and it is not allowed to be deleted.
var ErrEmptyIngress error = domerr.PreconditionFailed{Reason: "ingress has no domains"}

// Syncer makes managed ingresses of workload apps reflect their domain records.
//
// Desired state is authoritative: every sync replaces the ingress.
type Syncer struct {
	ingresses Ingresses
	domains   kdb.Interface
	composer  *Composer
	certs     *CertResolver
	logger    *log.Logger
}

type SyncerOption func(*Syncer) *Syncer

func WithSyncerLogger(logger *log.Logger) SyncerOption {
	return func(s *Syncer) *Syncer {
		s.logger = logger
		return s
	}
}

func NewSyncer(ingresses Ingresses, domains kdb.Interface, composer *Composer, certs *CertResolver, options ...SyncerOption) *Syncer {
	s := &Syncer{
		ingresses: ingresses,
		domains:   domains,
		composer:  composer,
		certs:     certs,
		logger:    log.New(log.Writer(), "[ingress] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

// apply writes p into the cluster.
//
// An empty p deletes the existing ingress when deleteWhenEmpty is set.
// Otherwise an existing ingress causes ErrEmptyIngress.
// Missing empty ingresses are left missing.
func (s *Syncer) apply(ctx context.Context, p ProcessIngress, deleteWhenEmpty bool) error {
	if !p.Empty() {
		_, _, err := s.ingresses.Upsert(ctx, p, k8s.UpdateReplace)
		return err
	}

	if _, err := s.ingresses.Get(ctx, p.Namespace(), p.Name()); err != nil {
		if k8s.AsNotFound(err) {
			return nil
		}
		return err
	}
	if !deleteWhenEmpty {
		return xe.Wrap(fmt.Errorf("%w: %s/%s", ErrEmptyIngress, p.Namespace(), p.Name()))
	}
	if err := s.ingresses.DeleteByName(ctx, p.Namespace(), p.Name()); err != nil && !k8s.AsNotFound(err) {
		return err
	}
	s.logger.Printf("ingress %s/%s is deleted since it routes nothing", p.Namespace(), p.Name())
	return nil
}

// BackendOf returns the service which the existing ingress routes to.
//
// When the ingress is missing, the web process of the workload app is returned.
func (s *Syncer) BackendOf(ctx context.Context, wlApp, ingressName string) (Backend, error) {
	p, err := s.ingresses.Get(ctx, wlApp, ingressName)
	if err != nil {
		if k8s.AsNotFound(err) {
			return DefaultBackend(wlApp), nil
		}
		return Backend{}, err
	}
	if p.ServiceName == "" {
		return DefaultBackend(wlApp), nil
	}
	return Backend{ServiceName: p.ServiceName, ServicePort: p.ServicePort}, nil
}

func (s *Syncer) SyncLegacy(ctx context.Context, wlApp string, backend Backend) error {
	p, ok := s.composer.Legacy(wlApp, backend)
	if !ok {
		return nil
	}
	return s.apply(ctx, p, false)
}

func (s *Syncer) SyncSubdomain(ctx context.Context, region, wlApp string, backend Backend, deleteWhenEmpty bool) error {
	domains, err := s.domains.ListAutoGenDomains(ctx, region, wlApp)
	if err != nil {
		return err
	}
	secrets := TLSSecrets{}
	if s.composer.Config().HTTPSEnabled {
		for _, d := range domains {
			if !d.HTTPSEnabled {
				continue
			}
			secret, err := s.certs.Resolve(ctx, wlApp, CertQuery{Region: region, Host: d.Host}, false)
			if err != nil {
				return err
			}
			secrets[d.Host] = secret
		}
	}
	return s.apply(ctx, s.composer.Subdomain(wlApp, domains, backend, secrets), deleteWhenEmpty)
}

func (s *Syncer) SyncSubpath(ctx context.Context, region, wlApp string, backend Backend, deleteWhenEmpty bool) error {
	subpaths, err := s.domains.ListSubpaths(ctx, region, wlApp)
	if err != nil {
		return err
	}
	secrets := TLSSecrets{}
	if s.composer.Config().HTTPSEnabled && len(subpaths) != 0 {
		for _, host := range s.composer.Config().SubpathHosts {
			secret, err := s.certs.Resolve(ctx, wlApp, CertQuery{Region: region, Host: host}, false)
			if err != nil {
				return err
			}
			secrets[host] = secret
		}
	}
	return s.apply(ctx, s.composer.Subpath(wlApp, subpaths, backend, secrets), deleteWhenEmpty)
}

// SyncCustom writes the ingress of a custom domain.
func (s *Syncer) SyncCustom(ctx context.Context, d domain.CustomDomain, backend Backend) error {
	secret := ""
	if d.HTTPSEnabled {
		q := CertQuery{Region: d.Region, Host: d.Host, CertID: d.CertID}
		found, err := s.certs.Resolve(ctx, d.WorkloadApp, q, false)
		if err != nil {
			return err
		}
		secret = found
	}
	return s.apply(ctx, s.composer.Custom(d, backend, secret), false)
}

// DeleteCustom removes the ingress of a custom domain. Missing ingresses are not errors.
func (s *Syncer) DeleteCustom(ctx context.Context, d domain.CustomDomain) error {
	err := s.ingresses.DeleteByName(ctx, d.WorkloadApp, CustomIngressName(d))
	if err != nil && !k8s.AsNotFound(err) {
		return err
	}
	return nil
}

// SyncApp writes every managed ingress of the workload app.
func (s *Syncer) SyncApp(ctx context.Context, region, wlApp string, backend Backend, deleteWhenEmpty bool) error {
	if err := s.SyncLegacy(ctx, wlApp, backend); err != nil {
		return err
	}
	if err := s.SyncSubdomain(ctx, region, wlApp, backend, deleteWhenEmpty); err != nil {
		return err
	}
	if err := s.SyncSubpath(ctx, region, wlApp, backend, deleteWhenEmpty); err != nil {
		return err
	}
	customs, err := s.domains.ListCustomDomains(ctx, wlApp)
	if err != nil {
		return err
	}
	for _, d := range customs {
		if err := s.SyncCustom(ctx, d, backend); err != nil {
			return err
		}
	}
	return nil
}
