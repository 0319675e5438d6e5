package ingress

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
)

// SubdomainAllocator tells urls under the first subdomain root, before modules are deployed.
//
// Hosts are "<module>-dot-<app>.<root>" in prod, and "stag-dot-<module>-dot-<app>.<root>" in stag.
type SubdomainAllocator struct {
	Roots []string
	HTTPS bool
}

var _ configvar.URLAllocator = SubdomainAllocator{}

// Host returns the auto-generated host of the module in the stage. It is empty without roots.
func (s SubdomainAllocator) Host(appCode string, moduleName string, stage domain.Stage) string {
	if len(s.Roots) == 0 {
		return ""
	}
	host := moduleName + "-dot-" + appCode + "." + s.Roots[0]
	if stage != domain.StageProd {
		host = stage.String() + "-dot-" + host
	}
	return host
}

func (s SubdomainAllocator) PreallocatedURLs(_ context.Context, appCode string, moduleName string) (map[domain.Stage]string, error) {
	if len(s.Roots) == 0 {
		return nil, nil
	}
	scheme := "http"
	if s.HTTPS {
		scheme = "https"
	}
	urls := map[domain.Stage]string{}
	for _, stage := range domain.Stages() {
		urls[stage] = scheme + "://" + s.Host(appCode, moduleName, stage) + "/"
	}
	return urls, nil
}
