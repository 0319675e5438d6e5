package k8s

import (
	"errors"
	"fmt"

	kubeerr "k8s.io/apimachinery/pkg/api/errors"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// NotFound is returned when the requested resource does not exist.
type NotFound struct {
	Kind      string
	Namespace string
	Name      string
	Cause     error
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %s/%s is not found", e.Kind, e.Namespace, e.Name)
}

func (e *NotFound) Is(target error) bool {
	return target == domerr.ErrNotFound
}

func (e *NotFound) Unwrap() error {
	return e.Cause
}

// Duplicate is returned when creating a resource which already exists.
type Duplicate struct {
	Kind      string
	Namespace string
	Name      string
	Cause     error
}

func (e *Duplicate) Error() string {
	return fmt.Sprintf("%s %s/%s already exists", e.Kind, e.Namespace, e.Name)
}

func (e *Duplicate) Is(target error) bool {
	return target == domerr.ErrConflict
}

func (e *Duplicate) Unwrap() error {
	return e.Cause
}

// DeleteTimeout is returned by WaitDelete when the resource is still there after timeout.
type DeleteTimeout struct {
	Kind      string
	Namespace string
	Name      string
}

func (e *DeleteTimeout) Error() string {
	return fmt.Sprintf("timed out waiting %s %s/%s to be deleted", e.Kind, e.Namespace, e.Name)
}

func (e *DeleteTimeout) Is(target error) bool {
	return target == domerr.ErrUpstreamUnavailable
}

// ErrResourceVersionExpired is sent on watch streams when the server answers 410 Gone.
//
// Receivers should list resources again and restart watching from the fresh resourceVersion.
var ErrResourceVersionExpired = errors.New("resource version expired")

// ErrNoTransformer is returned when no transformer is compatible with the cluster.
var ErrNoTransformer = errors.New("no compatible transformer")

func AsNotFound(err error) bool {
	nf := new(NotFound)
	return errors.As(err, &nf)
}

func AsDuplicate(err error) bool {
	d := new(Duplicate)
	return errors.As(err, &d)
}

func AsDeleteTimeout(err error) bool {
	d := new(DeleteTimeout)
	return errors.As(err, &d)
}

// classify converts an error from kubernetes api into this package's typed errors.
func classify(err error, kind, namespace, name string) error {
	if err == nil {
		return nil
	}
	switch {
	case kubeerr.IsNotFound(err):
		return xe.WrapAsOuter(&NotFound{Kind: kind, Namespace: namespace, Name: name, Cause: err}, 1)
	case kubeerr.IsAlreadyExists(err):
		return xe.WrapAsOuter(&Duplicate{Kind: kind, Namespace: namespace, Name: name, Cause: err}, 1)
	case kubeerr.IsResourceExpired(err) || kubeerr.IsGone(err):
		return xe.WrapAsOuter(fmt.Errorf("%w: %w", ErrResourceVersionExpired, err), 1)
	case kubeerr.IsServerTimeout(err), kubeerr.IsTimeout(err),
		kubeerr.IsTooManyRequests(err), kubeerr.IsServiceUnavailable(err),
		kubeerr.IsInternalError(err):
		return xe.WrapAsOuter(&domerr.Upstream{Service: "kubernetes", Retryable: true, Cause: err}, 1)
	}
	return xe.WrapAsOuter(err, 1)
}
