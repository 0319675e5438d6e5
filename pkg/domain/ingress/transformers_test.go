package ingress_test

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/ingress"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

func domainEq(a, b ingress.Domain) bool {
	return a.Host == b.Host &&
		cmp.SliceEq(a.PathPrefixes, b.PathPrefixes) &&
		a.TLSEnabled == b.TLSEnabled &&
		a.TLSSecretName == b.TLSSecretName
}

func ingressEq(a, b ingress.ProcessIngress) bool {
	return a.Namespace() == b.Namespace() &&
		a.Name() == b.Name() &&
		a.App == b.App &&
		a.Category == b.Category &&
		cmp.SliceEqWith(a.Domains, b.Domains, domainEq) &&
		a.ServiceName == b.ServiceName &&
		a.ServicePort == b.ServicePort &&
		a.RewriteToRoot == b.RewriteToRoot &&
		cmp.MapEq(a.SetHeaders, b.SetHeaders) &&
		a.ServerSnippet == b.ServerSnippet &&
		cmp.MapEq(a.Annotations, b.Annotations) &&
		a.IngressClass == b.IngressClass
}

func TestComposer_Subpath_RegexRewrite(t *testing.T) {
	composer := ingress.NewComposer(ingress.Config{
		RegexRewrite: true,
		SubpathHosts: []string{"apps.example.com"},
	})
	p := composer.Subpath(
		"bkapp-hello-stag",
		[]domain.AppSubpath{{Region: "default", Subpath: "/app/", WorkloadApp: "bkapp-hello-stag"}},
		ingress.DefaultBackend("bkapp-hello-stag"),
		nil,
	)

	_, ss := ingress.Transformers(true)
	obj, err := ss[0].Serialize(p, ingress.APIVersionV1)
	if err != nil {
		t.Fatal(err)
	}

	if obj.GetName() != "bkapp-hello-stag-subpaths" || obj.GetNamespace() != "bkapp-hello-stag" {
		t.Errorf("name: actual=%s/%s", obj.GetNamespace(), obj.GetName())
	}

	annotations := obj.GetAnnotations()
	if actual := annotations[ingress.AnnotationRewriteTarget]; actual != "/$2" {
		t.Errorf("rewrite-target: actual=%s, expect=%s", actual, "/$2")
	}
	if actual := annotations[ingress.AnnotationSSLRedirect]; actual != "false" {
		t.Errorf("ssl-redirect: actual=%s, expect=%s", actual, "false")
	}
	if actual := annotations[ingress.AnnotationConfigurationSnippet]; actual != "proxy_set_header X-Script-Name /app;" {
		t.Errorf("configuration-snippet: actual=%s", actual)
	}

	rules, _, err := unstructured.NestedSlice(obj.Object, "spec", "rules")
	if err != nil || len(rules) != 1 {
		t.Fatalf("rules: actual=%+v (err=%v)", rules, err)
	}
	rule := rules[0].(map[string]any)
	if host, _, _ := unstructured.NestedString(rule, "host"); host != "apps.example.com" {
		t.Errorf("host: actual=%s", host)
	}
	paths, _, _ := unstructured.NestedSlice(rule, "http", "paths")
	if len(paths) != 1 {
		t.Fatalf("paths: actual=%+v", paths)
	}
	path := paths[0].(map[string]any)
	if actual, _, _ := unstructured.NestedString(path, "path"); actual != "/app(/|$)(.*)" {
		t.Errorf("path: actual=%s, expect=%s", actual, "/app(/|$)(.*)")
	}
	if actual, _, _ := unstructured.NestedString(path, "pathType"); actual != "ImplementationSpecific" {
		t.Errorf("pathType: actual=%s, expect=%s", actual, "ImplementationSpecific")
	}
	if actual, _, _ := unstructured.NestedString(path, "backend", "service", "name"); actual != "bkapp-hello-stag--web" {
		t.Errorf("service: actual=%s", actual)
	}
	if actual, _, _ := unstructured.NestedString(path, "backend", "service", "port", "name"); actual != "http" {
		t.Errorf("service port: actual=%s", actual)
	}

	labels := obj.GetLabels()
	if labels[k8s.LabelWorkloadApp] != "bkapp-hello-stag" || labels[k8s.LabelCategory] != ingress.CategorySubpath {
		t.Errorf("labels: actual=%+v", labels)
	}
}

func TestComposer_Subpath_DifferentPrefixesHaveNoScriptName(t *testing.T) {
	composer := ingress.NewComposer(ingress.Config{RegexRewrite: true, SubpathHosts: []string{"apps.example.com"}})
	p := composer.Subpath(
		"bkapp-hello-stag",
		[]domain.AppSubpath{{Subpath: "/app/"}, {Subpath: "/hello/"}},
		ingress.DefaultBackend("bkapp-hello-stag"),
		nil,
	)
	if len(p.SetHeaders) != 0 {
		t.Errorf("headers: actual=%+v", p.SetHeaders)
	}
	if len(p.Domains) != 1 || !cmp.SliceEq(p.Domains[0].PathPrefixes, []string{"/app/", "/hello/"}) {
		t.Errorf("domains: actual=%+v", p.Domains)
	}
}

func TestComposer_Legacy(t *testing.T) {
	{
		composer := ingress.NewComposer(ingress.Config{})
		if _, ok := composer.Legacy("bkapp-hello-stag", ingress.DefaultBackend("bkapp-hello-stag")); ok {
			t.Errorf("legacy ingress should be disabled without the template")
		}
	}
	{
		composer := ingress.NewComposer(ingress.Config{LegacyDomainTemplate: "%s.apps.example.com"})
		p, ok := composer.Legacy("bkapp-hello-stag", ingress.DefaultBackend("bkapp-hello-stag"))
		if !ok {
			t.Fatal("legacy ingress should be composed")
		}
		if p.RewriteToRoot || len(p.SetHeaders) != 0 {
			t.Errorf("legacy ingress should not rewrite nor set headers: %+v", p)
		}
		if len(p.Domains) != 1 || p.Domains[0].Host != "bkapp-hello-stag.apps.example.com" {
			t.Errorf("domains: actual=%+v", p.Domains)
		}
	}
}

func TestTransformers_RoundTrip(t *testing.T) {
	backend := ingress.Backend{ServiceName: "bkapp-hello-stag--api", ServicePort: intstr.FromInt32(8080)}
	inputs := map[string]func(*ingress.Composer) ingress.ProcessIngress{
		"subdomain with tls": func(c *ingress.Composer) ingress.ProcessIngress {
			return c.Subdomain(
				"bkapp-hello-stag",
				[]domain.AutoGenDomain{
					{Host: "hello.example.com", HTTPSEnabled: true},
					{Host: "hello.example.org"},
				},
				backend,
				ingress.TLSSecrets{"hello.example.com": "eng-shared-example"},
			)
		},
		"subpath": func(c *ingress.Composer) ingress.ProcessIngress {
			return c.Subpath(
				"bkapp-hello-stag",
				[]domain.AppSubpath{{Subpath: "/hello/"}},
				ingress.DefaultBackend("bkapp-hello-stag"),
				nil,
			)
		},
		"custom domain with prefix": func(c *ingress.Composer) ingress.ProcessIngress {
			return c.Custom(
				domain.CustomDomain{ID: 3, Host: "www.example.com", PathPrefix: "/foo/", WorkloadApp: "bkapp-hello-stag"},
				backend,
				"",
			)
		},
		"custom domain on root": func(c *ingress.Composer) ingress.ProcessIngress {
			return c.Custom(
				domain.CustomDomain{ID: 4, Host: "www.example.com", WorkloadApp: "bkapp-hello-stag", HTTPSEnabled: true},
				backend,
				"eng-normal-www",
			)
		},
	}

	for _, regex := range []bool{true, false} {
		composer := ingress.NewComposer(ingress.Config{
			RegexRewrite:     regex,
			SubpathHosts:     []string{"apps.example.com", "apps.example.org"},
			HTTPSEnabled:     true,
			IngressClass:     "nginx",
			ExtraAnnotations: map[string]string{"example.com/team": "blue"},
		})
		ds, ss := ingress.Transformers(regex)
		for name, input := range inputs {
			for i := range ss {
				apiVersion := ss[i].APIVersion()
				t.Run(name+" "+apiVersion, func(t *testing.T) {
					original := input(composer)
					obj, err := ss[i].Serialize(original, apiVersion)
					if err != nil {
						t.Fatal(err)
					}
					actual, err := ds[i].Deserialize(obj)
					if err != nil {
						t.Fatal(err)
					}
					if !ingressEq(actual, original) {
						t.Errorf("round trip (regex=%v): actual=%+v, expect=%+v", regex, actual, original)
					}
				})
			}
		}
	}
}
