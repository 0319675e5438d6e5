package k8s_test

import (
	"context"
	"errors"
	"testing"
	"time"

	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8stesting "k8s.io/client-go/testing"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// note is an entity stored as ConfigMap.
type note struct {
	namespace string
	name      string
	app       string
	body      string
}

func (n note) Namespace() string { return n.namespace }
func (n note) Name() string      { return n.name }

func readNote(obj *unstructured.Unstructured) (note, error) {
	data, _, err := unstructured.NestedStringMap(obj.Object, "data")
	if err != nil {
		return note{}, err
	}
	return note{
		namespace: obj.GetNamespace(),
		name:      obj.GetName(),
		app:       obj.GetLabels()[k8s.LabelWorkloadApp],
		body:      data["body"],
	}, nil
}

func writeNote(n note, apiVersion string) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": apiVersion,
		"kind":       "ConfigMap",
		"metadata": map[string]any{
			"namespace": n.namespace,
			"name":      n.name,
			"labels":    map[string]any{k8s.LabelWorkloadApp: n.app},
		},
		"data": map[string]any{"body": n.body},
	}}
	return obj, nil
}

type fakeLister struct {
	lists []*kubeapimeta.APIResourceList
	calls int
}

func (f *fakeLister) ServerGroupsAndResources() ([]*kubeapimeta.APIGroup, []*kubeapimeta.APIResourceList, error) {
	f.calls += 1
	return nil, f.lists, nil
}

func configMapLister() *fakeLister {
	return &fakeLister{lists: []*kubeapimeta.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []kubeapimeta.APIResource{
				{Name: "configmaps", Kind: "ConfigMap", Namespaced: true},
				{Name: "pods", Kind: "Pod", Namespaced: true},
				{Name: "pods/log", Kind: "Pod", Namespaced: true},
			},
		},
	}}
}

func newNoteManager(t *testing.T, objects ...runtime.Object) (*k8s.Manager[note], *dynamicfake.FakeDynamicClient) {
	t.Helper()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			{Version: "v1", Resource: "configmaps"}: "ConfigMapList",
		},
		objects...,
	)
	m := k8s.NewManager(
		client,
		k8s.NewVersionIndex(configMapLister()),
		"ConfigMap",
		[]k8s.Deserializer[note]{k8s.DeserializerFunc[note]{Version: "v1", Func: readNote}},
		k8s.WithSerializers[note](k8s.SerializerFunc[note]{Version: "v1", Func: writeNote}),
		k8s.WithPollInterval[note](5*time.Millisecond),
	)
	return m, client
}

func TestVersionIndex(t *testing.T) {
	t.Run("it finds apiVersions of a kind and caches them, skipping subresources", func(t *testing.T) {
		lister := configMapLister()
		lister.lists = append(lister.lists, &kubeapimeta.APIResourceList{
			GroupVersion: "networking.k8s.io/v1",
			APIResources: []kubeapimeta.APIResource{{Name: "ingresses", Kind: "Ingress", Namespaced: true}},
		}, &kubeapimeta.APIResourceList{
			GroupVersion: "extensions/v1beta1",
			APIResources: []kubeapimeta.APIResource{
				{Name: "ingresses", Kind: "Ingress", Namespaced: true},
				{Name: "ingresses/status", Kind: "Ingress", Namespaced: true},
			},
		})
		index := k8s.NewVersionIndex(lister)

		for range 2 {
			got, err := index.Lookup(context.Background(), "Ingress")
			if err != nil {
				t.Fatal(err)
			}
			expected := []string{"networking.k8s.io/v1", "extensions/v1beta1"}
			if len(got.APIVersions) != len(expected) || got.APIVersions[0] != expected[0] || got.APIVersions[1] != expected[1] {
				t.Errorf("apiVersions: actual=%v, expect=%v", got.APIVersions, expected)
			}
			if got.Resource != "ingresses" {
				t.Errorf("resource: actual=%s, expect=%s", got.Resource, "ingresses")
			}
		}
		if lister.calls != 1 {
			t.Errorf("discovery calls: actual=%d, expect=%d", lister.calls, 1)
		}
	})
}

func TestPickDeserializer(t *testing.T) {
	type When struct {
		available []string
		declared  []string
	}
	type Then struct {
		picked string
		err    error
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			candidates := []k8s.Deserializer[note]{}
			for _, v := range when.declared {
				candidates = append(candidates, k8s.DeserializerFunc[note]{Version: v, Func: readNote})
			}
			got, err := k8s.PickDeserializer(when.available, candidates)
			if then.err != nil {
				if !errors.Is(err, then.err) {
					t.Errorf("error: actual=%v, expect=%v", err, then.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.APIVersion() != then.picked {
				t.Errorf("picked: actual=%q, expect=%q", got.APIVersion(), then.picked)
			}
		}
	}

	t.Run("it follows the declared order, not the cluster's order", theory(
		When{
			available: []string{"networking.k8s.io/v1", "extensions/v1beta1"},
			declared:  []string{"extensions/v1beta1", "networking.k8s.io/v1"},
		},
		Then{picked: "extensions/v1beta1"},
	))
	t.Run("it skips versions the cluster does not serve", theory(
		When{
			available: []string{"networking.k8s.io/v1"},
			declared:  []string{"extensions/v1beta1", "networking.k8s.io/v1"},
		},
		Then{picked: "networking.k8s.io/v1"},
	))
	t.Run("it uses an empty version as a universal fallback", theory(
		When{
			available: []string{"networking.k8s.io/v2"},
			declared:  []string{"networking.k8s.io/v1", ""},
		},
		Then{picked: ""},
	))
	t.Run("it fails when nothing is compatible", theory(
		When{
			available: []string{"networking.k8s.io/v2"},
			declared:  []string{"networking.k8s.io/v1"},
		},
		Then{err: k8s.ErrNoTransformer},
	))
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("it creates, gets and lists entities by app", func(t *testing.T) {
		m, _ := newNoteManager(t)

		for _, n := range []note{
			{namespace: "ns", name: "a", app: "app-1", body: "hello"},
			{namespace: "ns", name: "b", app: "app-1", body: "world"},
			{namespace: "ns", name: "c", app: "app-2", body: "other"},
		} {
			if _, err := m.Create(ctx, n); err != nil {
				t.Fatal(err)
			}
		}

		got, err := m.Get(ctx, "ns", "a")
		if err != nil {
			t.Fatal(err)
		}
		if got.body != "hello" {
			t.Errorf("body: actual=%s, expect=%s", got.body, "hello")
		}

		list, err := m.ListByApp(ctx, "ns", "app-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 {
			t.Errorf("list: actual=%+v, expect 2 items", list)
		}
	})

	t.Run("it reports NotFound and Duplicate", func(t *testing.T) {
		m, _ := newNoteManager(t)

		if _, err := m.Get(ctx, "ns", "missing"); !k8s.AsNotFound(err) || !errors.Is(err, domerr.ErrNotFound) {
			t.Errorf("get missing: actual=%v, expect=NotFound", err)
		}

		n := note{namespace: "ns", name: "a", app: "app"}
		if _, err := m.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Create(ctx, n); !k8s.AsDuplicate(err) || !errors.Is(err, domerr.ErrConflict) {
			t.Errorf("create twice: actual=%v, expect=Duplicate", err)
		}
	})

	t.Run("it upserts with both update methods", func(t *testing.T) {
		for _, method := range []k8s.UpdateMethod{k8s.UpdateReplace, k8s.UpdatePatch} {
			m, _ := newNoteManager(t)
			n := note{namespace: "ns", name: "a", app: "app", body: "v1"}

			if _, created, err := m.Upsert(ctx, n, method); err != nil {
				t.Fatal(err)
			} else if !created {
				t.Errorf("%s: first upsert should create", method)
			}

			n.body = "v2"
			if _, created, err := m.Upsert(ctx, n, method); err != nil {
				t.Fatal(err)
			} else if created {
				t.Errorf("%s: second upsert should update", method)
			}

			got, err := m.Get(ctx, "ns", "a")
			if err != nil {
				t.Fatal(err)
			}
			if got.body != "v2" {
				t.Errorf("%s: body: actual=%s, expect=%s", method, got.body, "v2")
			}
		}
	})

	t.Run("it deletes, and WaitDelete returns once it is gone", func(t *testing.T) {
		m, _ := newNoteManager(t)
		n := note{namespace: "ns", name: "a", app: "app"}
		if _, err := m.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
		if err := m.Delete(ctx, n); err != nil {
			t.Fatal(err)
		}
		if err := m.WaitDelete(ctx, "ns", "a", time.Second); err != nil {
			t.Errorf("WaitDelete: actual=%v, expect=nil", err)
		}
		if err := m.DeleteByName(ctx, "ns", "a"); !k8s.AsNotFound(err) {
			t.Errorf("delete twice: actual=%v, expect=NotFound", err)
		}
	})

	t.Run("WaitDelete times out with DeleteTimeout", func(t *testing.T) {
		m, _ := newNoteManager(t)
		n := note{namespace: "ns", name: "stay", app: "app"}
		if _, err := m.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
		err := m.WaitDelete(ctx, "ns", "stay", 30*time.Millisecond)
		if !k8s.AsDeleteTimeout(err) {
			t.Errorf("WaitDelete: actual=%v, expect=DeleteTimeout", err)
		}
	})
}

func TestWatchByApp(t *testing.T) {
	t.Run("it yields events and ends with ResourceVersionExpired on 410", func(t *testing.T) {
		m, client := newNoteManager(t)

		fw := watch.NewFake()
		client.PrependWatchReactor("configmaps", func(k8stesting.Action) (bool, watch.Interface, error) {
			return true, fw, nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		events, err := m.WatchByApp(ctx, "ns", "app", "")
		if err != nil {
			t.Fatal(err)
		}

		go func() {
			obj, _ := writeNote(note{namespace: "ns", name: "a", app: "app", body: "x"}, "v1")
			fw.Add(obj)
			fw.Error(&kubeapimeta.Status{
				Status: kubeapimeta.StatusFailure,
				Code:   410,
				Reason: kubeapimeta.StatusReasonExpired,
			})
		}()

		first := <-events
		if first.Err != nil || first.Type != watch.Added || first.Res.body != "x" {
			t.Errorf("first event: actual=%+v, expect Added note", first)
		}
		last := <-events
		if !errors.Is(last.Err, k8s.ErrResourceVersionExpired) {
			t.Errorf("last event: actual=%v, expect=%v", last.Err, k8s.ErrResourceVersionExpired)
		}
		if _, ok := <-events; ok {
			t.Errorf("stream should be closed after error event")
		}
	})
}
