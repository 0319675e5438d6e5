package bkapp

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

func fromUnstructured(obj *unstructured.Unstructured) (BkApp, error) {
	b := BkApp{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &b); err != nil {
		return BkApp{}, xe.Wrap(err)
	}
	return b, nil
}

// read v1alpha1, where processes carry cpu/memory instead of plans.
func fromLegacy(obj *unstructured.Unstructured) (BkApp, error) {
	b, err := fromUnstructured(obj)
	if err != nil {
		return BkApp{}, err
	}
	procs, _, err := unstructured.NestedSlice(obj.Object, "spec", "processes")
	if err != nil {
		return BkApp{}, xe.Wrap(err)
	}
	for i, p := range procs {
		proc, ok := p.(map[string]any)
		if !ok || i >= len(b.Spec.Processes) || b.Spec.Processes[i].ResQuotaPlan != "" {
			continue
		}
		mem, ok := proc["memory"].(string)
		if !ok {
			continue
		}
		q, err := resource.ParseQuantity(mem)
		if err != nil {
			continue
		}
		b.Spec.Processes[i].ResQuotaPlan = LegacyPlanToResQuota(fmt.Sprintf("1C%dM", q.Value()/(1024*1024)))
	}
	b.APIVersion = APIVersion
	return b, nil
}

func toUnstructured(b BkApp, apiVersion string) (*unstructured.Unstructured, error) {
	b.APIVersion = apiVersion
	b.Kind = Kind
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&b)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	// status is written by the operator.
	delete(m, "status")
	meta, _ := m["metadata"].(map[string]any)
	delete(meta, "creationTimestamp")
	return &unstructured.Unstructured{Object: m}, nil
}

// Deserializers of BkApp in the order of preference.
func Deserializers() []k8s.Deserializer[BkApp] {
	return []k8s.Deserializer[BkApp]{
		k8s.DeserializerFunc[BkApp]{Version: APIVersion, Func: fromUnstructured},
		k8s.DeserializerFunc[BkApp]{Version: LegacyAPIVersion, Func: fromLegacy},
	}
}

func Serializers() []k8s.Serializer[BkApp] {
	return []k8s.Serializer[BkApp]{
		k8s.SerializerFunc[BkApp]{Version: APIVersion, Func: toUnstructured},
	}
}

// Client reads and writes BkApps in a cluster.
type Client struct {
	m *k8s.Manager[BkApp]
}

func NewClient(dyn dynamic.Interface, index *k8s.VersionIndex) *Client {
	return &Client{
		m: k8s.NewManager(dyn, index, Kind, Deserializers(), k8s.WithSerializers(Serializers()...)),
	}
}

// Apply creates or replaces the BkApp.
func (c *Client) Apply(ctx context.Context, b BkApp) (BkApp, error) {
	applied, _, err := c.m.Upsert(ctx, b, k8s.UpdateReplace)
	return applied, err
}

func (c *Client) Get(ctx context.Context, namespace, name string) (BkApp, error) {
	return c.m.Get(ctx, namespace, name)
}

// Status returns the status reported by the operator.
//
// It is PhaseUnknown until the operator observes the latest generation.
func (c *Client) Status(ctx context.Context, namespace, name string) (Status, error) {
	b, err := c.m.Get(ctx, namespace, name)
	if err != nil {
		return Status{}, err
	}
	st := b.Status
	if st.Phase == "" || st.ObservedGeneration < b.Metadata.Generation {
		st.Phase = PhaseUnknown
	}
	return st, nil
}

// Delete deletes the BkApp and waits until it disappears.
func (c *Client) Delete(ctx context.Context, namespace, name string, timeout time.Duration) error {
	if err := c.m.DeleteByName(ctx, namespace, name); err != nil {
		if k8s.AsNotFound(err) {
			return nil
		}
		return err
	}
	return c.m.WaitDelete(ctx, namespace, name, timeout)
}
