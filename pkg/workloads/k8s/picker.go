package k8s

import (
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Deserializer converts a kubernetes object into an entity.
type Deserializer[E any] interface {
	// apiVersion this deserializer is tested against.
	//
	// Empty means that it can read any apiVersion of the kind.
	APIVersion() string

	Deserialize(obj *unstructured.Unstructured) (E, error)
}

// Serializer converts an entity into a kubernetes object.
type Serializer[E any] interface {
	// apiVersion of the object which Serialize returns.
	//
	// Empty means that it writes an apiVersion decided by the caller (see Manager).
	APIVersion() string

	Serialize(entity E, apiVersion string) (*unstructured.Unstructured, error)
}

// PickDeserializer chooses the first deserializer, in the declared order,
// whose apiVersion is advertised by the cluster or empty.
func PickDeserializer[E any](available []string, candidates []Deserializer[E]) (Deserializer[E], error) {
	for _, c := range candidates {
		if v := c.APIVersion(); v == "" || slices.Contains(available, v) {
			return c, nil
		}
	}
	return nil, xe.Wrap(fmt.Errorf("%w: deserializer for %v", ErrNoTransformer, available))
}

// PickSerializer works like PickDeserializer, for serializers.
func PickSerializer[E any](available []string, candidates []Serializer[E]) (Serializer[E], error) {
	for _, c := range candidates {
		if v := c.APIVersion(); v == "" || slices.Contains(available, v) {
			return c, nil
		}
	}
	return nil, xe.Wrap(fmt.Errorf("%w: serializer for %v", ErrNoTransformer, available))
}

// DeserializerFunc adapts a function into Deserializer.
type DeserializerFunc[E any] struct {
	Version string
	Func    func(*unstructured.Unstructured) (E, error)
}

func (d DeserializerFunc[E]) APIVersion() string {
	return d.Version
}

func (d DeserializerFunc[E]) Deserialize(obj *unstructured.Unstructured) (E, error) {
	return d.Func(obj)
}

// SerializerFunc adapts a function into Serializer.
type SerializerFunc[E any] struct {
	Version string
	Func    func(E, string) (*unstructured.Unstructured, error)
}

func (s SerializerFunc[E]) APIVersion() string {
	return s.Version
}

func (s SerializerFunc[E]) Serialize(e E, apiVersion string) (*unstructured.Unstructured, error) {
	return s.Func(e, apiVersion)
}
