package ingress

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/ingress/db"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// ErrNoCert is returned when a https domain has no certificate and the caller requires one.
var ErrNoCert = errors.New("no certificate is found")

// CertQuery tells which host a certificate is looked up for.
type CertQuery struct {
	Region string
	Host   string

	// cert bound to the domain. empty means shared certs are searched.
	CertID string
}

// CertResolver finds certificates of hosts and materializes them as secrets
// in the namespace of the workload app.
type CertResolver struct {
	certs   kdb.Interface
	cluster k8s.Cluster
	logger  *log.Logger
}

type CertResolverOption func(*CertResolver) *CertResolver

func WithCertLogger(logger *log.Logger) CertResolverOption {
	return func(c *CertResolver) *CertResolver {
		c.logger = logger
		return c
	}
}

func NewCertResolver(certs kdb.Interface, cluster k8s.Cluster, options ...CertResolverOption) *CertResolver {
	c := &CertResolver{
		certs:   certs,
		cluster: cluster,
		logger:  log.New(log.Writer(), "[ingress] ", log.LstdFlags),
	}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

// Resolve returns the name of the secret holding the certificate of the host.
//
// Bound certificates are preferred to shared ones.
// When nothing is found, the secret name is empty (that is, https is disabled),
// or ErrNoCert is returned if raiseOnNoCert is set.
func (c *CertResolver) Resolve(ctx context.Context, wlApp string, q CertQuery, raiseOnNoCert bool) (string, error) {
	cert, shared, err := c.find(ctx, q)
	if err != nil {
		return "", err
	}
	if cert == nil {
		if raiseOnNoCert {
			return "", xe.Wrap(fmt.Errorf("%w: host %s", ErrNoCert, q.Host))
		}
		c.logger.Printf("no certificate for host %s (workload app %s). https is disabled.", q.Host, wlApp)
		return "", nil
	}

	name := SecretName(*cert, shared)
	secret := &kubecore.Secret{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Namespace: wlApp,
			Name:      name,
			Labels:    k8s.AppLabels(wlApp, nil),
		},
		Type: kubecore.SecretTypeTLS,
		Data: map[string][]byte{
			kubecore.TLSCertKey:       []byte(cert.CertData),
			kubecore.TLSPrivateKeyKey: []byte(cert.KeyData),
		},
	}
	if err := c.cluster.UpsertSecret(ctx, secret); err != nil {
		return "", err
	}
	return name, nil
}

func (c *CertResolver) find(ctx context.Context, q CertQuery) (*domain.TLSCert, bool, error) {
	if q.CertID != "" {
		cert, err := c.certs.GetCert(ctx, q.CertID)
		if err == nil {
			return &cert, false, nil
		}
		if !errors.Is(err, domerr.ErrNotFound) {
			return nil, false, err
		}
		c.logger.Printf("certificate %s bound to host %s is missing. looking for shared ones.", q.CertID, q.Host)
	}

	shared, err := c.certs.ListSharedCerts(ctx, q.Region)
	if err != nil {
		return nil, false, err
	}
	for i := range shared {
		if MatchHost(shared[i].AutoMatchHosts, q.Host) {
			return &shared[i], true, nil
		}
	}
	return nil, false, nil
}

// MatchHost reports whether host matches one of patterns.
//
// "*.example.com" matches "a.example.com", but not "example.com" nor "a.b.example.com".
func MatchHost(patterns []string, host string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == host {
			return true
		}
		suffix, ok := strings.CutPrefix(p, "*.")
		if !ok {
			continue
		}
		label, rest, found := strings.Cut(host, ".")
		if found && label != "" && rest == suffix {
			return true
		}
	}
	return false
}

var nonDNSChar = regexp.MustCompile(`[^a-z0-9-]+`)

// SecretName is the name of the secret of a certificate. It is stable for the certificate.
func SecretName(cert domain.TLSCert, shared bool) string {
	kind := "normal"
	if shared {
		kind = "shared"
	}
	name := strings.Trim(nonDNSChar.ReplaceAllString(strings.ToLower(cert.Name), "-"), "-")
	return fmt.Sprintf("eng-%s-%s", kind, name)
}
