package k8s

import (
	"context"
	"errors"
	"fmt"
	"time"

	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/retry"
)

// Entity is a domain object which is stored as a kubernetes resource.
type Entity interface {
	Namespace() string
	Name() string
}

type UpdateMethod string

const (
	// send the whole object with PUT. resourceVersion is taken from the server.
	UpdateReplace UpdateMethod = "replace"

	// send the serialized object as JSON merge patch.
	UpdatePatch UpdateMethod = "patch"
)

// Manager provides read/write/watch operations of an entity kind.
//
// Each operation picks a deserializer (and a serializer for writes) which
// is compatible with the apiVersions the cluster advertises for the kind.
type Manager[E Entity] struct {
	client        dynamic.Interface
	index         *VersionIndex
	kind          string
	deserializers []Deserializer[E]
	serializers   []Serializer[E]
	appLabel      string
	fieldManager  string
	pollInterval  time.Duration
}

type ManagerOption[E Entity] func(*Manager[E]) *Manager[E]

// WithSerializers makes the manager writable.
func WithSerializers[E Entity](s ...Serializer[E]) ManagerOption[E] {
	return func(m *Manager[E]) *Manager[E] {
		m.serializers = append(m.serializers, s...)
		return m
	}
}

// WithAppLabel changes the label key to select entities by workload app.
//
// Default: LabelWorkloadApp
func WithAppLabel[E Entity](key string) ManagerOption[E] {
	return func(m *Manager[E]) *Manager[E] {
		m.appLabel = key
		return m
	}
}

// WithFieldManager sets the field manager name sent on writes.
func WithFieldManager[E Entity](name string) ManagerOption[E] {
	return func(m *Manager[E]) *Manager[E] {
		m.fieldManager = name
		return m
	}
}

// WithPollInterval sets the interval of polling in WaitDelete.
//
// Default: 1 second
func WithPollInterval[E Entity](d time.Duration) ManagerOption[E] {
	return func(m *Manager[E]) *Manager[E] {
		m.pollInterval = d
		return m
	}
}

func NewManager[E Entity](
	client dynamic.Interface,
	index *VersionIndex,
	kind string,
	deserializers []Deserializer[E],
	options ...ManagerOption[E],
) *Manager[E] {
	m := &Manager[E]{
		client:        client,
		index:         index,
		kind:          kind,
		deserializers: deserializers,
		appLabel:      LabelWorkloadApp,
		fieldManager:  FieldManager,
		pollInterval:  time.Second,
	}
	for _, opt := range options {
		m = opt(m)
	}
	return m
}

func (m *Manager[E]) Kind() string {
	return m.kind
}

func (m *Manager[E]) resource(ctx context.Context, pick func([]string) (string, error)) (dynamic.NamespaceableResourceInterface, string, error) {
	r, err := m.index.Lookup(ctx, m.kind)
	if err != nil {
		return nil, "", err
	}
	if len(r.APIVersions) == 0 {
		return nil, "", xe.Wrap(fmt.Errorf("%w: %s is not served by the cluster", ErrNoTransformer, m.kind))
	}
	apiVersion, err := pick(r.APIVersions)
	if err != nil {
		return nil, "", err
	}
	if apiVersion == "" {
		apiVersion = r.APIVersions[0]
	}
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return nil, "", xe.Wrap(err)
	}
	return m.client.Resource(gv.WithResource(r.Resource)), apiVersion, nil
}

func (m *Manager[E]) reader(ctx context.Context) (Deserializer[E], dynamic.NamespaceableResourceInterface, error) {
	var d Deserializer[E]
	res, _, err := m.resource(ctx, func(available []string) (string, error) {
		var err error
		d, err = PickDeserializer(available, m.deserializers)
		if err != nil {
			return "", err
		}
		return d.APIVersion(), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return d, res, nil
}

func (m *Manager[E]) writer(ctx context.Context) (func(E) (*unstructured.Unstructured, error), Deserializer[E], dynamic.NamespaceableResourceInterface, error) {
	if len(m.serializers) == 0 {
		return nil, nil, nil, xe.Wrap(fmt.Errorf("%w: %s is read only", ErrNoTransformer, m.kind))
	}
	var s Serializer[E]
	var d Deserializer[E]
	res, apiVersion, err := m.resource(ctx, func(available []string) (string, error) {
		var err error
		if s, err = PickSerializer(available, m.serializers); err != nil {
			return "", err
		}
		if d, err = PickDeserializer(available, m.deserializers); err != nil {
			return "", err
		}
		return s.APIVersion(), nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	serialize := func(e E) (*unstructured.Unstructured, error) {
		obj, err := s.Serialize(e, apiVersion)
		if err != nil {
			return nil, err
		}
		if obj.GetAPIVersion() == "" {
			obj.SetAPIVersion(apiVersion)
		}
		if obj.GetKind() == "" {
			obj.SetKind(m.kind)
		}
		return obj, nil
	}
	return serialize, d, res, nil
}

// Get an entity by name.
//
// When it is missing, the error is *NotFound.
func (m *Manager[E]) Get(ctx context.Context, namespace, name string) (E, error) {
	e, _, err := m.GetRaw(ctx, namespace, name)
	return e, err
}

// GetRaw is like Get, and also returns the object as the server returned.
func (m *Manager[E]) GetRaw(ctx context.Context, namespace, name string) (E, *unstructured.Unstructured, error) {
	zero := *new(E)
	d, res, err := m.reader(ctx)
	if err != nil {
		return zero, nil, err
	}
	obj, err := res.Namespace(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
	if err != nil {
		return zero, nil, classify(err, m.kind, namespace, name)
	}
	e, err := d.Deserialize(obj)
	if err != nil {
		return zero, obj, xe.Wrap(err)
	}
	return e, obj, nil
}

// ListByApp lists entities labelled with the workload app.
func (m *Manager[E]) ListByApp(ctx context.Context, namespace, app string) ([]E, error) {
	d, res, err := m.reader(ctx)
	if err != nil {
		return nil, err
	}
	list, err := res.Namespace(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{m.appLabel: app}).String(),
	})
	if err != nil {
		return nil, classify(err, m.kind, namespace, "")
	}
	ret := make([]E, 0, len(list.Items))
	for i := range list.Items {
		e, err := d.Deserialize(&list.Items[i])
		if err != nil {
			return nil, xe.Wrap(err)
		}
		ret = append(ret, e)
	}
	return ret, nil
}

// Create an entity. When it exists, the error is *Duplicate.
func (m *Manager[E]) Create(ctx context.Context, e E) (E, error) {
	zero := *new(E)
	serialize, d, res, err := m.writer(ctx)
	if err != nil {
		return zero, err
	}
	obj, err := serialize(e)
	if err != nil {
		return zero, xe.Wrap(err)
	}
	created, err := res.Namespace(e.Namespace()).Create(ctx, obj, kubeapimeta.CreateOptions{FieldManager: m.fieldManager})
	if err != nil {
		return zero, classify(err, m.kind, e.Namespace(), e.Name())
	}
	return d.Deserialize(created)
}

// Update an existing entity.
func (m *Manager[E]) Update(ctx context.Context, e E, method UpdateMethod) (E, error) {
	zero := *new(E)
	serialize, d, res, err := m.writer(ctx)
	if err != nil {
		return zero, err
	}
	obj, err := serialize(e)
	if err != nil {
		return zero, xe.Wrap(err)
	}
	ns := res.Namespace(e.Namespace())

	var updated *unstructured.Unstructured
	switch method {
	case UpdatePatch:
		data, err := obj.MarshalJSON()
		if err != nil {
			return zero, xe.Wrap(err)
		}
		updated, err = ns.Patch(
			ctx, e.Name(), types.MergePatchType, data,
			kubeapimeta.PatchOptions{FieldManager: m.fieldManager},
		)
		if err != nil {
			return zero, classify(err, m.kind, e.Namespace(), e.Name())
		}
	default:
		current, err := ns.Get(ctx, e.Name(), kubeapimeta.GetOptions{})
		if err != nil {
			return zero, classify(err, m.kind, e.Namespace(), e.Name())
		}
		obj.SetResourceVersion(current.GetResourceVersion())
		updated, err = ns.Update(ctx, obj, kubeapimeta.UpdateOptions{FieldManager: m.fieldManager})
		if err != nil {
			return zero, classify(err, m.kind, e.Namespace(), e.Name())
		}
	}
	return d.Deserialize(updated)
}

// Upsert creates the entity, or updates it when it exists.
//
// The second return value is true when the entity is created.
func (m *Manager[E]) Upsert(ctx context.Context, e E, method UpdateMethod) (E, bool, error) {
	updated, err := m.Update(ctx, e, method)
	if err == nil {
		return updated, false, nil
	}
	if !AsNotFound(err) {
		return updated, false, err
	}
	created, err := m.Create(ctx, e)
	if AsDuplicate(err) {
		// lost the race with another writer. take over with update.
		updated, err := m.Update(ctx, e, method)
		return updated, false, err
	}
	return created, err == nil, err
}

// Delete the entity.
func (m *Manager[E]) Delete(ctx context.Context, e E) error {
	return m.DeleteByName(ctx, e.Namespace(), e.Name())
}

// DeleteByName deletes an entity. When it is missing, the error is *NotFound.
func (m *Manager[E]) DeleteByName(ctx context.Context, namespace, name string) error {
	_, res, err := m.reader(ctx)
	if err != nil {
		return err
	}
	if err := res.Namespace(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{}); err != nil {
		return classify(err, m.kind, namespace, name)
	}
	return nil
}

// WaitDelete polls until the entity disappears.
//
// When it is still there after timeout, the error is *DeleteTimeout.
func (m *Manager[E]) WaitDelete(ctx context.Context, namespace, name string, timeout time.Duration) error {
	err := retry.Until(
		ctx, retry.StaticBackoff(m.pollInterval), timeout,
		func(ctx context.Context) (bool, error) {
			_, err := m.Get(ctx, namespace, name)
			if err == nil {
				return false, nil
			}
			if AsNotFound(err) {
				return true, nil
			}
			return false, err
		},
	)
	if errors.Is(err, retry.ErrTimeout) {
		return xe.Wrap(&DeleteTimeout{Kind: m.kind, Namespace: namespace, Name: name})
	}
	return err
}
