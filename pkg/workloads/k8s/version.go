package k8s

import (
	"context"
	"strings"
	"sync"

	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// ResourceLister is the subset of discovery.DiscoveryInterface which VersionIndex uses.
type ResourceLister interface {
	ServerGroupsAndResources() ([]*kubeapimeta.APIGroup, []*kubeapimeta.APIResourceList, error)
}

var _ ResourceLister = discovery.DiscoveryInterface(nil)

// VersionIndex answers which apiVersions the cluster advertises for a kind.
//
// Answers are cached per kind for the lifetime of the index.
type VersionIndex struct {
	lister ResourceLister

	mu    sync.Mutex
	cache map[string]APIResource
}

// APIResource describes how a kind is served by the cluster.
type APIResource struct {
	Kind string

	// plural resource name, like "ingresses"
	Resource string

	// apiVersions ("group/version", or "version" for the core group) in the order of discovery.
	APIVersions []string

	Namespaced bool
}

func NewVersionIndex(lister ResourceLister) *VersionIndex {
	return &VersionIndex{lister: lister, cache: map[string]APIResource{}}
}

// Lookup returns how kind is served by the cluster.
//
// When the cluster does not know the kind, it returns APIResource with empty APIVersions.
func (vi *VersionIndex) Lookup(ctx context.Context, kind string) (APIResource, error) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if r, ok := vi.cache[kind]; ok {
		return r, nil
	}

	select {
	case <-ctx.Done():
		return APIResource{}, ctx.Err()
	default:
	}

	_, lists, err := vi.lister.ServerGroupsAndResources()
	if err != nil && !discovery.IsGroupDiscoveryFailedError(err) {
		return APIResource{}, xe.Wrap(err)
	}

	found := APIResource{Kind: kind}
	for _, l := range lists {
		if l == nil {
			continue
		}
		for _, r := range l.APIResources {
			if r.Kind != kind || strings.Contains(r.Name, "/") {
				continue // skip subresources like "ingresses/status"
			}
			found.Resource = r.Name
			found.Namespaced = r.Namespaced
			found.APIVersions = append(found.APIVersions, l.GroupVersion)
		}
	}
	if len(found.APIVersions) != 0 {
		vi.cache[kind] = found
	}
	return found, nil
}

// AvailableAPIVersions returns apiVersions advertised for kind.
func (vi *VersionIndex) AvailableAPIVersions(ctx context.Context, kind string) ([]string, error) {
	r, err := vi.Lookup(ctx, kind)
	if err != nil {
		return nil, err
	}
	return r.APIVersions, nil
}

// Forget drops the cached answer for kind, or all answers when no kinds are given.
func (vi *VersionIndex) Forget(kinds ...string) {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if len(kinds) == 0 {
		vi.cache = map[string]APIResource{}
		return
	}
	for _, k := range kinds {
		delete(vi.cache, k)
	}
}
