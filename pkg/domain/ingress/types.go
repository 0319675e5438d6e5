package ingress

import (
	"k8s.io/apimachinery/pkg/util/intstr"
)

// annotations of ingress-nginx which are written only by the platform.
const (
	AnnotationServerSnippet        = "nginx.ingress.kubernetes.io/server-snippet"
	AnnotationConfigurationSnippet = "nginx.ingress.kubernetes.io/configuration-snippet"
	AnnotationRewriteTarget        = "nginx.ingress.kubernetes.io/rewrite-target"
	AnnotationSSLRedirect          = "nginx.ingress.kubernetes.io/ssl-redirect"

	AnnotationIngressClass = "kubernetes.io/ingress.class"
)

// ReservedAnnotations returns annotations which users can not override.
func ReservedAnnotations() []string {
	return []string{
		AnnotationServerSnippet, AnnotationConfigurationSnippet, AnnotationRewriteTarget, AnnotationSSLRedirect,
	}
}

// category label values of managed ingresses.
const (
	CategoryLegacy    = "legacy"
	CategorySubdomain = "subdomain"
	CategorySubpath   = "subpath"
	CategoryCustom    = "custom"
)

// Domain is a host with path prefixes routed to the service.
type Domain struct {
	Host string

	// path prefixes like "/" or "/foo/".
	PathPrefixes []string

	TLSEnabled bool

	// secret holding the certificate. empty when TLS is disabled.
	TLSSecretName string
}

// ProcessIngress is an Ingress routing domains to a process service of a workload app.
type ProcessIngress struct {
	namespace string
	name      string

	// workload app which owns this ingress.
	App string

	// one of Category* constants.
	Category string

	Domains []Domain

	ServiceName string
	ServicePort intstr.IntOrString

	// strip path prefixes before upstreaming.
	RewriteToRoot bool

	// headers set to requests, like X-Script-Name.
	SetHeaders map[string]string

	ServerSnippet string

	// user supplied annotations. reserved keys in them are ignored.
	Annotations map[string]string

	IngressClass string
}

func New(namespace, name string) ProcessIngress {
	return ProcessIngress{namespace: namespace, name: name}
}

func (p ProcessIngress) Namespace() string {
	return p.namespace
}

func (p ProcessIngress) Name() string {
	return p.name
}

// Empty reports whether the ingress routes nothing.
func (p ProcessIngress) Empty() bool {
	for _, d := range p.Domains {
		if len(d.PathPrefixes) != 0 {
			return false
		}
	}
	return true
}
