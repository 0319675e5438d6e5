package ingress

import (
	"fmt"
	"maps"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

// Config tells how managed ingresses are composed.
type Config struct {
	RegexRewrite bool

	// "%s" is replaced with the workload app name. Empty disables legacy ingresses.
	LegacyDomainTemplate string

	SubpathHosts []string

	// auto-generated domains and subpaths are served with https when a certificate is found.
	HTTPSEnabled bool

	IngressClass     string
	ExtraAnnotations map[string]string

	DeleteWhenEmpty bool
}

func ConfigFrom(c *platform.IngressConfig) Config {
	return Config{
		RegexRewrite:         c.RegexRewrite(),
		LegacyDomainTemplate: c.LegacyDomainTemplate(),
		SubpathHosts:         c.SubpathHosts(),
		HTTPSEnabled:         c.HTTPSEnabled(),
		IngressClass:         c.IngressClass(),
		ExtraAnnotations:     c.ExtraAnnotations(),
		DeleteWhenEmpty:      c.DeleteWhenEmpty(),
	}
}

// Backend is the service which ingresses route to.
type Backend struct {
	ServiceName string
	ServicePort intstr.IntOrString
}

// ServiceName is the name of the Service of a process.
func ServiceName(wlApp, process string) string {
	return fmt.Sprintf("%s--%s", wlApp, process)
}

// DefaultBackend routes to the web process of the workload app.
func DefaultBackend(wlApp string) Backend {
	return Backend{ServiceName: ServiceName(wlApp, "web"), ServicePort: intstr.FromString("http")}
}

// TLSSecrets maps hosts to names of secrets holding their certificates.
type TLSSecrets map[string]string

// Composer builds managed ingresses of workload apps from domain records.
//
// Ingresses live in the namespace named after the workload app.
type Composer struct {
	config Config
}

func NewComposer(config Config) *Composer {
	return &Composer{config: config}
}

func (c *Composer) Config() Config {
	return c.config
}

func LegacyIngressName(wlApp string) string {
	return wlApp
}

func SubdomainIngressName(wlApp string) string {
	return wlApp + "-subdomain"
}

func SubpathIngressName(wlApp string) string {
	return wlApp + "-subpaths"
}

// CustomIngressName names the ingress of a custom domain.
//
// Domains with non-default path prefixes get the id suffix,
// since one host may be bound on more than one prefix.
func CustomIngressName(d domain.CustomDomain) string {
	host := strings.ReplaceAll(d.Host, "*", "wildcard")
	if d.HasDefaultPathPrefix() {
		return "custom-" + host
	}
	return fmt.Sprintf("custom-%s-%d", host, d.ID)
}

func (c *Composer) base(wlApp, name, category string, backend Backend) ProcessIngress {
	p := New(wlApp, name)
	p.App = wlApp
	p.Category = category
	p.ServiceName = backend.ServiceName
	p.ServicePort = backend.ServicePort
	p.IngressClass = c.config.IngressClass
	if len(c.config.ExtraAnnotations) != 0 {
		p.Annotations = maps.Clone(c.config.ExtraAnnotations)
	}
	return p
}

// Legacy composes the ingress of the legacy default domain.
//
// X-Script-Name is not set, since the fronting proxy injects it.
// ok is false when legacy ingresses are disabled.
func (c *Composer) Legacy(wlApp string, backend Backend) (ProcessIngress, bool) {
	if c.config.LegacyDomainTemplate == "" {
		return ProcessIngress{}, false
	}
	p := c.base(wlApp, LegacyIngressName(wlApp), CategoryLegacy, backend)
	p.Domains = []Domain{{
		Host:         fmt.Sprintf(c.config.LegacyDomainTemplate, wlApp),
		PathPrefixes: []string{domain.DefaultPathPrefix},
	}}
	return p, true
}

func (c *Composer) tls(host string, httpsEnabled bool, secrets TLSSecrets) (bool, string) {
	if !httpsEnabled {
		return false, ""
	}
	secret, ok := secrets[host]
	if !ok || secret == "" {
		return false, ""
	}
	return true, secret
}

// Subdomain composes the ingress of auto-generated domains of the workload app.
func (c *Composer) Subdomain(wlApp string, domains []domain.AutoGenDomain, backend Backend, secrets TLSSecrets) ProcessIngress {
	p := c.base(wlApp, SubdomainIngressName(wlApp), CategorySubdomain, backend)
	for _, d := range domains {
		enabled, secret := c.tls(d.Host, d.HTTPSEnabled && c.config.HTTPSEnabled, secrets)
		p.Domains = append(p.Domains, Domain{
			Host:          d.Host,
			PathPrefixes:  []string{domain.DefaultPathPrefix},
			TLSEnabled:    enabled,
			TLSSecretName: secret,
		})
	}
	return p
}

// Subpath composes the ingress of platform subpaths on every shared host.
//
// Subpaths are stripped before upstreaming, and passed as X-Script-Name.
func (c *Composer) Subpath(wlApp string, subpaths []domain.AppSubpath, backend Backend, secrets TLSSecrets) ProcessIngress {
	p := c.base(wlApp, SubpathIngressName(wlApp), CategorySubpath, backend)
	p.RewriteToRoot = true

	prefixes := make([]string, 0, len(subpaths))
	for _, s := range subpaths {
		prefixes = append(prefixes, normalizePrefix(s.Subpath))
	}
	if len(prefixes) == 0 {
		return p
	}
	if name := scriptName(prefixes); name != "" {
		p.SetHeaders = map[string]string{"X-Script-Name": name}
	}
	for _, host := range c.config.SubpathHosts {
		enabled, secret := c.tls(host, c.config.HTTPSEnabled, secrets)
		p.Domains = append(p.Domains, Domain{
			Host:          host,
			PathPrefixes:  append([]string{}, prefixes...),
			TLSEnabled:    enabled,
			TLSSecretName: secret,
		})
	}
	return p
}

// Custom composes the ingress of a custom domain.
//
// secret is the name of the certificate secret. Empty disables https.
func (c *Composer) Custom(d domain.CustomDomain, backend Backend, secret string) ProcessIngress {
	p := c.base(d.WorkloadApp, CustomIngressName(d), CategoryCustom, backend)
	prefix := normalizePrefix(d.PathPrefix)
	if !d.HasDefaultPathPrefix() {
		p.RewriteToRoot = true
		p.SetHeaders = map[string]string{"X-Script-Name": strings.TrimSuffix(prefix, "/")}
	}
	enabled, secret := c.tls(d.Host, d.HTTPSEnabled, TLSSecrets{d.Host: secret})
	p.Domains = []Domain{{
		Host:          d.Host,
		PathPrefixes:  []string{prefix},
		TLSEnabled:    enabled,
		TLSSecretName: secret,
	}}
	return p
}

// scriptName is the prefix shared by all subpaths, without the trailing slash.
//
// One ingress has one configuration snippet, so no header is set when subpaths differ.
func scriptName(prefixes []string) string {
	first := prefixes[0]
	for _, p := range prefixes[1:] {
		if p != first {
			return ""
		}
	}
	return strings.TrimSuffix(first, "/")
}
