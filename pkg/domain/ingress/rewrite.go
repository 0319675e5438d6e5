package ingress

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	kubenet "k8s.io/api/networking/v1"
)

// Rule is a path rule of an ingress.
type Rule struct {
	Path     string
	PathType kubenet.PathType
}

// ApplyRewrite turns a path prefix into a rule and the rewrite-target which strips it.
//
// With regex (ingress-nginx 0.22 or later), "/foo/" becomes "/foo(/|$)(.*)" rewritten to "/$2".
// Otherwise "/foo/" becomes "/foo" rewritten to "/".
func ApplyRewrite(pathPrefix string, regex bool) (Rule, string) {
	trimmed := strings.TrimSuffix(normalizePrefix(pathPrefix), "/")
	if regex {
		if trimmed == "" {
			return Rule{Path: "/()(.*)", PathType: kubenet.PathTypeImplementationSpecific}, "/$2"
		}
		return Rule{Path: trimmed + "(/|$)(.*)", PathType: kubenet.PathTypeImplementationSpecific}, "/$2"
	}
	if trimmed == "" {
		trimmed = "/"
	}
	return Rule{Path: trimmed, PathType: kubenet.PathTypeImplementationSpecific}, "/"
}

// PlainRule is the rule of a path prefix without rewrite.
func PlainRule(pathPrefix string) Rule {
	return Rule{Path: normalizePrefix(pathPrefix), PathType: kubenet.PathTypePrefix}
}

// "foo" and "/foo" are "/foo/". empty is "/".
func normalizePrefix(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// MergeAnnotations merges user annotations under system ones.
//
// Reserved keys in user annotations are dropped, even when system does not set them.
func MergeAnnotations(system map[string]string, user map[string]string) map[string]string {
	reserved := ReservedAnnotations()
	merged := map[string]string{}
	for k, v := range user {
		if slices.Contains(reserved, k) {
			continue
		}
		merged[k] = v
	}
	maps.Copy(merged, system)
	return merged
}

// configurationSnippet renders headers into proxy_set_header directives, sorted by name.
func configurationSnippet(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	names := slices.Sorted(maps.Keys(headers))
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("proxy_set_header %s %s;", n, headers[n]))
	}
	return strings.Join(lines, "\n")
}

// annotationsOf computes annotations of the ingress from its features.
func annotationsOf(p ProcessIngress, regex bool) map[string]string {
	system := map[string]string{AnnotationSSLRedirect: "false"}
	if p.RewriteToRoot {
		// every rule of an ingress shares one rewrite-target.
		_, target := ApplyRewrite("/", regex)
		system[AnnotationRewriteTarget] = target
	}
	if s := configurationSnippet(p.SetHeaders); s != "" {
		system[AnnotationConfigurationSnippet] = s
	}
	if p.ServerSnippet != "" {
		system[AnnotationServerSnippet] = p.ServerSnippet
	}
	if p.IngressClass != "" {
		system[AnnotationIngressClass] = p.IngressClass
	}
	return MergeAnnotations(system, p.Annotations)
}

// rulesOf returns rules for path prefixes of a domain.
func rulesOf(p ProcessIngress, d Domain, regex bool) []Rule {
	rules := make([]Rule, 0, len(d.PathPrefixes))
	for _, prefix := range d.PathPrefixes {
		if p.RewriteToRoot {
			r, _ := ApplyRewrite(prefix, regex)
			rules = append(rules, r)
			continue
		}
		rules = append(rules, PlainRule(prefix))
	}
	return rules
}
