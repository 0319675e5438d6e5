package ingress

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	kubenet "k8s.io/api/networking/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

const Kind = "Ingress"

// apiVersions of Ingress, in the order of preference.
const (
	APIVersionV1                = "networking.k8s.io/v1"
	APIVersionNetworkingV1beta1 = "networking.k8s.io/v1beta1"
	APIVersionExtensionsV1beta1 = "extensions/v1beta1"
)

// Transformers returns deserializers and serializers of ProcessIngress.
//
// regex tells which rewrite semantics the installed ingress-nginx has.
func Transformers(regex bool) ([]k8s.Deserializer[ProcessIngress], []k8s.Serializer[ProcessIngress]) {
	t := transformer{regex: regex}
	ds := []k8s.Deserializer[ProcessIngress]{
		k8s.DeserializerFunc[ProcessIngress]{Version: APIVersionV1, Func: t.fromV1},
		k8s.DeserializerFunc[ProcessIngress]{Version: APIVersionNetworkingV1beta1, Func: t.fromV1beta1},
		k8s.DeserializerFunc[ProcessIngress]{Version: APIVersionExtensionsV1beta1, Func: t.fromV1beta1},
	}
	ss := []k8s.Serializer[ProcessIngress]{
		k8s.SerializerFunc[ProcessIngress]{Version: APIVersionV1, Func: t.toV1},
		k8s.SerializerFunc[ProcessIngress]{Version: APIVersionNetworkingV1beta1, Func: t.toV1beta1},
		k8s.SerializerFunc[ProcessIngress]{Version: APIVersionExtensionsV1beta1, Func: t.toV1beta1},
	}
	return ds, ss
}

type transformer struct {
	regex bool
}

func (t transformer) metadata(p ProcessIngress) kubeapimeta.ObjectMeta {
	return kubeapimeta.ObjectMeta{
		Namespace:   p.namespace,
		Name:        p.name,
		Labels:      k8s.AppLabels(p.App, map[string]string{k8s.LabelCategory: p.Category}),
		Annotations: annotationsOf(p, t.regex),
	}
}

func tlsOf(p ProcessIngress) []kubenet.IngressTLS {
	// hosts sharing a secret are listed in one entry, in the order of appearance.
	var tls []kubenet.IngressTLS
	index := map[string]int{}
	for _, d := range p.Domains {
		if !d.TLSEnabled || d.TLSSecretName == "" {
			continue
		}
		i, ok := index[d.TLSSecretName]
		if !ok {
			i = len(tls)
			index[d.TLSSecretName] = i
			tls = append(tls, kubenet.IngressTLS{SecretName: d.TLSSecretName})
		}
		tls[i].Hosts = append(tls[i].Hosts, d.Host)
	}
	return tls
}

func (t transformer) toV1(p ProcessIngress, apiVersion string) (*unstructured.Unstructured, error) {
	port := kubenet.ServiceBackendPort{}
	if p.ServicePort.Type == intstr.String {
		port.Name = p.ServicePort.StrVal
	} else {
		port.Number = p.ServicePort.IntVal
	}
	backend := kubenet.IngressBackend{Service: &kubenet.IngressServiceBackend{Name: p.ServiceName, Port: port}}

	ing := kubenet.Ingress{
		TypeMeta:   kubeapimeta.TypeMeta{APIVersion: apiVersion, Kind: Kind},
		ObjectMeta: t.metadata(p),
		Spec:       kubenet.IngressSpec{TLS: tlsOf(p)},
	}
	for _, d := range p.Domains {
		rules := rulesOf(p, d, t.regex)
		if len(rules) == 0 {
			continue
		}
		paths := make([]kubenet.HTTPIngressPath, 0, len(rules))
		for _, r := range rules {
			pathType := r.PathType
			paths = append(paths, kubenet.HTTPIngressPath{Path: r.Path, PathType: &pathType, Backend: backend})
		}
		ing.Spec.Rules = append(ing.Spec.Rules, kubenet.IngressRule{
			Host:             d.Host,
			IngressRuleValue: kubenet.IngressRuleValue{HTTP: &kubenet.HTTPIngressRuleValue{Paths: paths}},
		})
	}

	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&ing)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	delete(obj, "status")
	if meta, ok := obj["metadata"].(map[string]any); ok {
		delete(meta, "creationTimestamp")
	}
	return &unstructured.Unstructured{Object: obj}, nil
}

func (t transformer) toV1beta1(p ProcessIngress, apiVersion string) (*unstructured.Unstructured, error) {
	var port any = int64(p.ServicePort.IntVal)
	if p.ServicePort.Type == intstr.String {
		port = p.ServicePort.StrVal
	}
	backend := map[string]any{"serviceName": p.ServiceName, "servicePort": port}

	rules := []any{}
	for _, d := range p.Domains {
		rs := rulesOf(p, d, t.regex)
		if len(rs) == 0 {
			continue
		}
		paths := make([]any, 0, len(rs))
		for _, r := range rs {
			paths = append(paths, map[string]any{"path": r.Path, "backend": maps.Clone(backend)})
		}
		rules = append(rules, map[string]any{"host": d.Host, "http": map[string]any{"paths": paths}})
	}
	spec := map[string]any{"rules": rules}
	if tls := tlsOf(p); len(tls) != 0 {
		entries := make([]any, 0, len(tls))
		for _, e := range tls {
			hosts := make([]any, 0, len(e.Hosts))
			for _, h := range e.Hosts {
				hosts = append(hosts, h)
			}
			entries = append(entries, map[string]any{"hosts": hosts, "secretName": e.SecretName})
		}
		spec["tls"] = entries
	}

	meta := t.metadata(p)
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": apiVersion,
		"kind":       Kind,
		"spec":       spec,
	}}
	obj.SetNamespace(meta.Namespace)
	obj.SetName(meta.Name)
	obj.SetLabels(meta.Labels)
	obj.SetAnnotations(meta.Annotations)
	return obj, nil
}

// route is a (host, path, backend) found in an Ingress.
type route struct {
	host    string
	path    string
	service string
	port    intstr.IntOrString
}

func (t transformer) fromV1(obj *unstructured.Unstructured) (ProcessIngress, error) {
	ing := kubenet.Ingress{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ing); err != nil {
		return ProcessIngress{}, xe.Wrap(err)
	}
	routes := []route{}
	for _, r := range ing.Spec.Rules {
		if r.HTTP == nil {
			continue
		}
		for _, p := range r.HTTP.Paths {
			rt := route{host: r.Host, path: p.Path}
			if s := p.Backend.Service; s != nil {
				rt.service = s.Name
				if s.Port.Name != "" {
					rt.port = intstr.FromString(s.Port.Name)
				} else {
					rt.port = intstr.FromInt32(s.Port.Number)
				}
			}
			routes = append(routes, rt)
		}
	}
	return t.compose(obj, routes, ing.Spec.TLS)
}

func (t transformer) fromV1beta1(obj *unstructured.Unstructured) (ProcessIngress, error) {
	rules, _, err := unstructured.NestedSlice(obj.Object, "spec", "rules")
	if err != nil {
		return ProcessIngress{}, xe.Wrap(err)
	}
	routes := []route{}
	for _, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			continue
		}
		host, _, _ := unstructured.NestedString(rule, "host")
		paths, _, _ := unstructured.NestedSlice(rule, "http", "paths")
		for _, p := range paths {
			path, ok := p.(map[string]any)
			if !ok {
				continue
			}
			rt := route{host: host}
			rt.path, _, _ = unstructured.NestedString(path, "path")
			rt.service, _, _ = unstructured.NestedString(path, "backend", "serviceName")
			servicePort, _, _ := unstructured.NestedFieldNoCopy(path, "backend", "servicePort")
			switch port := servicePort.(type) {
			case string:
				rt.port = intstr.FromString(port)
			case int64:
				rt.port = intstr.FromInt32(int32(port))
			case float64:
				rt.port = intstr.FromInt32(int32(port))
			}
			routes = append(routes, rt)
		}
	}

	var tls []kubenet.IngressTLS
	entries, _, _ := unstructured.NestedSlice(obj.Object, "spec", "tls")
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		hosts, _, _ := unstructured.NestedStringSlice(entry, "hosts")
		secret, _, _ := unstructured.NestedString(entry, "secretName")
		tls = append(tls, kubenet.IngressTLS{Hosts: hosts, SecretName: secret})
	}
	return t.compose(obj, routes, tls)
}

var (
	regexRule = regexp.MustCompile(`^(.*?)(?:\(/\|\$\)|\(\))\(\.\*\)$`)
	setHeader = regexp.MustCompile(`^\s*proxy_set_header\s+(\S+)\s+(.+?);\s*$`)
)

// pathPrefixOf recovers the path prefix from a rule path.
func pathPrefixOf(path string, rewrite bool) string {
	if m := regexRule.FindStringSubmatch(path); m != nil {
		return normalizePrefix(m[1])
	}
	if rewrite || path != "" {
		return normalizePrefix(path)
	}
	return "/"
}

func (t transformer) compose(obj *unstructured.Unstructured, routes []route, tls []kubenet.IngressTLS) (ProcessIngress, error) {
	annotations := obj.GetAnnotations()
	labels := obj.GetLabels()

	p := New(obj.GetNamespace(), obj.GetName())
	p.App = labels[k8s.LabelWorkloadApp]
	p.Category = labels[k8s.LabelCategory]
	_, p.RewriteToRoot = annotations[AnnotationRewriteTarget]
	p.ServerSnippet = annotations[AnnotationServerSnippet]
	p.IngressClass = annotations[AnnotationIngressClass]

	if snippet := annotations[AnnotationConfigurationSnippet]; snippet != "" {
		p.SetHeaders = map[string]string{}
		for _, line := range strings.Split(snippet, "\n") {
			if m := setHeader.FindStringSubmatch(line); m != nil {
				p.SetHeaders[m[1]] = m[2]
			}
		}
	}

	reserved := append(ReservedAnnotations(), AnnotationIngressClass)
	for k, v := range annotations {
		if slices.Contains(reserved, k) {
			continue
		}
		if p.Annotations == nil {
			p.Annotations = map[string]string{}
		}
		p.Annotations[k] = v
	}

	secrets := map[string]string{}
	for _, e := range tls {
		for _, h := range e.Hosts {
			secrets[h] = e.SecretName
		}
	}

	index := map[string]int{}
	for _, r := range routes {
		if p.ServiceName == "" {
			p.ServiceName = r.service
			p.ServicePort = r.port
		} else if p.ServiceName != r.service {
			return ProcessIngress{}, xe.Wrap(fmt.Errorf(
				"ingress %s/%s routes to more than one service (%s, %s)",
				p.namespace, p.name, p.ServiceName, r.service,
			))
		}
		i, ok := index[r.host]
		if !ok {
			i = len(p.Domains)
			index[r.host] = i
			secret, tlsEnabled := secrets[r.host]
			p.Domains = append(p.Domains, Domain{Host: r.host, TLSEnabled: tlsEnabled, TLSSecretName: secret})
		}
		p.Domains[i].PathPrefixes = append(p.Domains[i].PathPrefixes, pathPrefixOf(r.path, p.RewriteToRoot))
	}
	return p, nil
}
