package k8s

import (
	"context"
	"errors"
	"io"
	"maps"
	"time"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/TencentBlueKing/bkpaas/pkg/utils/retry"
)

// Cluster is a namespace-agnostic facade of typed kubernetes resources.
type Cluster interface {
	// NewPod creates a pod and waits until all requirements are satisfied.
	//
	// # Returns
	//
	// - retry.Promise[Pod]: resolves when requirements are satisfied.
	// The error is *Duplicate when the pod already exists,
	// and otherwise comes from requirements or context.
	NewPod(ctx context.Context, backoff retry.Backoff, pod *kubecore.Pod, requirements ...Requirement[*kubecore.Pod]) retry.Promise[Pod]

	// GetPod gets a pod and waits until all requirements are satisfied.
	//
	// The error is *NotFound when the pod does not exist.
	GetPod(ctx context.Context, backoff retry.Backoff, namespace, name string, requirements ...Requirement[*kubecore.Pod]) retry.Promise[Pod]

	// DeletePod deletes a pod immediately. Missing pods are not errors.
	DeletePod(ctx context.Context, namespace, name string) error

	FindPods(ctx context.Context, namespace string, selector map[string]string) ([]Pod, error)

	// EnsureNamespace creates the namespace when it is missing.
	EnsureNamespace(ctx context.Context, name string, labels map[string]string) error

	// GetSecret gets a secret. The error is *NotFound when it does not exist.
	GetSecret(ctx context.Context, namespace, name string) (*kubecore.Secret, error)

	// UpsertSecret creates or replaces data of the secret.
	UpsertSecret(ctx context.Context, secret *kubecore.Secret) error

	GetDeployment(ctx context.Context, namespace, name string) (*kubeapps.Deployment, error)
	ApplyDeployment(ctx context.Context, depl *kubeapps.Deployment) error
	ApplyService(ctx context.Context, svc *kubecore.Service) error

	// ApplyConfigMap applies the ConfigMap, with TypeMeta filled when it is missing.
	ApplyConfigMap(ctx context.Context, cm *kubecore.ConfigMap) error
}

// Requirement checks whether a resource is in the expected state.
//
// Return retry.ErrRetry to keep waiting, nil when satisfied,
// or other errors to give up.
type Requirement[T any] func(value T) error

// WithCheckpoint makes requirement fail with err when it is not satisfied until deadline.
func WithCheckpoint[T any](requirement Requirement[T], deadline time.Time, err error) Requirement[T] {
	return func(value T) error {
		e := requirement(value)
		if errors.Is(e, retry.ErrRetry) && time.Now().After(deadline) {
			return err
		}
		return e
	}
}

func satisfyAll[T any](value T, req []Requirement[T]) error {
	for _, r := range req {
		if err := r(value); err != nil {
			return err
		}
	}
	return nil
}

// pod is running, or have been finished.
var PodHasBeenRunning Requirement[*kubecore.Pod] = func(p *kubecore.Pod) error {
	switch p.Status.Phase {
	case kubecore.PodRunning, kubecore.PodFailed, kubecore.PodSucceeded:
		return nil
	default:
		return retry.ErrRetry
	}
}

// pod have been finished, successfully or not.
var PodHasBeenFinished Requirement[*kubecore.Pod] = func(p *kubecore.Pod) error {
	switch p.Status.Phase {
	case kubecore.PodFailed, kubecore.PodSucceeded:
		return nil
	default:
		return retry.ErrRetry
	}
}

// Pod is a snapshot of a kubernetes pod.
type Pod interface {
	Namespace() string
	Name() string
	Labels() map[string]string
	Phase() kubecore.PodPhase

	// time when the pod is started. Zero if not started yet.
	StartTime() time.Time

	// exit code and message of the first terminated container.
	//
	// ok is false when no containers have been terminated.
	Terminated() (code int32, message string, ok bool)

	// stream logs of container (or the first container if empty), following.
	Log(ctx context.Context, container string) (io.ReadCloser, error)

	// delete the pod immediately.
	Close() error
}

type pod struct {
	description kubecore.Pod
	client      K8sClient
}

func (p *pod) Namespace() string {
	return p.description.Namespace
}

func (p *pod) Name() string {
	return p.description.Name
}

func (p *pod) Labels() map[string]string {
	return maps.Clone(p.description.Labels)
}

func (p *pod) Phase() kubecore.PodPhase {
	return p.description.Status.Phase
}

func (p *pod) StartTime() time.Time {
	if st := p.description.Status.StartTime; st != nil {
		return st.Time
	}
	return time.Time{}
}

func (p *pod) Terminated() (int32, string, bool) {
	for _, cs := range p.description.Status.ContainerStatuses {
		if t := cs.State.Terminated; t != nil {
			msg := t.Message
			if msg == "" {
				msg = t.Reason
			}
			return t.ExitCode, msg, true
		}
	}
	return 0, "", false
}

func (p *pod) Log(ctx context.Context, container string) (io.ReadCloser, error) {
	if container == "" && len(p.description.Spec.Containers) != 0 {
		container = p.description.Spec.Containers[0].Name
	}
	r, err := p.client.Log(ctx, p.Namespace(), p.Name(), container)
	if err != nil {
		return nil, classify(err, "Pod", p.Namespace(), p.Name())
	}
	return r, nil
}

func (p *pod) Close() error {
	err := p.client.DeletePod(context.Background(), p.Namespace(), p.Name())
	if err := classify(err, "Pod", p.Namespace(), p.Name()); err != nil && !AsNotFound(err) {
		return err
	}
	return nil
}

type k8sCluster struct {
	client K8sClient
}

func AttachCluster(client K8sClient) Cluster {
	return &k8sCluster{client: client}
}

func (c *k8sCluster) NewPod(
	ctx context.Context, backoff retry.Backoff, p *kubecore.Pod,
	requirements ...Requirement[*kubecore.Pod],
) retry.Promise[Pod] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubecore.Pod]{PodHasBeenRunning}
	}
	select {
	case <-ctx.Done():
		return retry.Failed[Pod](ctx.Err())
	default:
	}

	created, err := c.client.CreatePod(ctx, p.Namespace, p)
	if err != nil {
		return retry.Failed[Pod](classify(err, "Pod", p.Namespace, p.Name))
	}
	if err := satisfyAll(created, requirements); err == nil {
		return retry.Ok[Pod](&pod{description: *created, client: c.client})
	} else if !errors.Is(err, retry.ErrRetry) {
		return retry.Failed[Pod](err)
	}

	return c.GetPod(ctx, backoff, created.Namespace, created.Name, requirements...)
}

func (c *k8sCluster) GetPod(
	ctx context.Context, backoff retry.Backoff, namespace, name string,
	requirements ...Requirement[*kubecore.Pod],
) retry.Promise[Pod] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubecore.Pod]{PodHasBeenRunning}
	}
	return retry.Go(ctx, backoff, func() (Pod, error) {
		got, err := c.client.GetPod(ctx, namespace, name)
		if err != nil {
			return nil, classify(err, "Pod", namespace, name)
		}
		ret := &pod{description: *got, client: c.client}
		return ret, satisfyAll(got, requirements)
	})
}

func (c *k8sCluster) DeletePod(ctx context.Context, namespace, name string) error {
	err := classify(c.client.DeletePod(ctx, namespace, name), "Pod", namespace, name)
	if err != nil && !AsNotFound(err) {
		return err
	}
	return nil
}

func (c *k8sCluster) FindPods(ctx context.Context, namespace string, selector map[string]string) ([]Pod, error) {
	pods, err := c.client.FindPods(ctx, namespace, selector)
	if err != nil {
		return nil, classify(err, "Pod", namespace, "")
	}
	ret := make([]Pod, 0, len(pods))
	for _, p := range pods {
		ret = append(ret, &pod{description: p, client: c.client})
	}
	return ret, nil
}

func (c *k8sCluster) EnsureNamespace(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.client.GetNamespace(ctx, name)
	if err == nil {
		return nil
	}
	if err := classify(err, "Namespace", "", name); !AsNotFound(err) {
		return err
	}
	_, err = c.client.CreateNamespace(ctx, &kubecore.Namespace{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Labels: labels},
	})
	if err := classify(err, "Namespace", "", name); err != nil && !AsDuplicate(err) {
		return err
	}
	return nil
}

func (c *k8sCluster) GetSecret(ctx context.Context, namespace, name string) (*kubecore.Secret, error) {
	s, err := c.client.GetSecret(ctx, namespace, name)
	if err != nil {
		return nil, classify(err, "Secret", namespace, name)
	}
	return s, nil
}

func (c *k8sCluster) UpsertSecret(ctx context.Context, secret *kubecore.Secret) error {
	current, err := c.client.GetSecret(ctx, secret.Namespace, secret.Name)
	if err != nil {
		if err := classify(err, "Secret", secret.Namespace, secret.Name); !AsNotFound(err) {
			return err
		}
		_, err := c.client.CreateSecret(ctx, secret.Namespace, secret)
		return classify(err, "Secret", secret.Namespace, secret.Name)
	}

	next := current.DeepCopy()
	next.Type = secret.Type
	next.Data = secret.Data
	next.StringData = secret.StringData
	if next.Labels == nil {
		next.Labels = map[string]string{}
	}
	maps.Copy(next.Labels, secret.Labels)
	_, err = c.client.UpdateSecret(ctx, secret.Namespace, next)
	return classify(err, "Secret", secret.Namespace, secret.Name)
}

func (c *k8sCluster) GetDeployment(ctx context.Context, namespace, name string) (*kubeapps.Deployment, error) {
	d, err := c.client.GetDeployment(ctx, namespace, name)
	if err != nil {
		return nil, classify(err, "Deployment", namespace, name)
	}
	return d, nil
}

func (c *k8sCluster) ApplyDeployment(ctx context.Context, depl *kubeapps.Deployment) error {
	_, err := c.client.ApplyDeployment(ctx, depl.Namespace, depl)
	return classify(err, "Deployment", depl.Namespace, depl.Name)
}

func (c *k8sCluster) ApplyService(ctx context.Context, svc *kubecore.Service) error {
	_, err := c.client.ApplyService(ctx, svc.Namespace, svc)
	return classify(err, "Service", svc.Namespace, svc.Name)
}

func (c *k8sCluster) ApplyConfigMap(ctx context.Context, cm *kubecore.ConfigMap) error {
	if cm.APIVersion == "" {
		cm = cm.DeepCopy()
		cm.APIVersion = "v1"
		cm.Kind = "ConfigMap"
	}
	_, err := c.client.ApplyConfigMap(ctx, cm.Namespace, cm)
	return classify(err, "ConfigMap", cm.Namespace, cm.Name)
}
