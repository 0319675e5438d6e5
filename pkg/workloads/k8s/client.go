package k8s

import (
	"context"
	"encoding/json"
	"io"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

// K8sClient is the subset of kubernetes.Interface used by this module.
//
// It avoids method chains so mocks stay small.
type K8sClient interface {
	CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
	GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)

	// delete pod immediately (grace period = 0)
	DeletePod(ctx context.Context, namespace string, name string) error
	FindPods(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error)

	// stream log of the container, following.
	Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error)

	GetNamespace(ctx context.Context, name string) (*kubecore.Namespace, error)
	CreateNamespace(ctx context.Context, ns *kubecore.Namespace) (*kubecore.Namespace, error)

	GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error)
	CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)
	UpdateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)

	GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)

	// server side apply of a Deployment, a Service or a ConfigMap.
	ApplyDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	ApplyService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error)
	ApplyConfigMap(ctx context.Context, namespace string, cm *kubecore.ConfigMap) (*kubecore.ConfigMap, error)
}

type k8sClient struct {
	client kubernetes.Interface
}

var _ K8sClient = &k8sClient{}

// WrapK8sClient wraps a clientset. Fake clientsets are accepted as well.
func WrapK8sClient(c kubernetes.Interface) K8sClient {
	return &k8sClient{client: c}
}

func (k *k8sClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Create(ctx, pod, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) DeletePod(ctx context.Context, namespace string, name string) error {
	return k.client.CoreV1().Pods(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container, Follow: true}).
		Stream(ctx)
}

func (k *k8sClient) GetNamespace(ctx context.Context, name string) (*kubecore.Namespace, error) {
	return k.client.CoreV1().Namespaces().Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateNamespace(ctx context.Context, ns *kubecore.Namespace) (*kubecore.Namespace, error) {
	return k.client.CoreV1().Namespaces().Create(ctx, ns, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error) {
	return k.client.CoreV1().Secrets(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	return k.client.CoreV1().Secrets(namespace).Create(ctx, secret, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) UpdateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	return k.client.CoreV1().Secrets(namespace).Update(ctx, secret, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) ApplyDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	data, err := json.Marshal(depl)
	if err != nil {
		return nil, err
	}
	force := true
	return k.client.AppsV1().Deployments(namespace).Patch(
		ctx, depl.Name, types.ApplyPatchType, data,
		kubeapimeta.PatchOptions{FieldManager: FieldManager, Force: &force},
	)
}

func (k *k8sClient) ApplyService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error) {
	data, err := json.Marshal(svc)
	if err != nil {
		return nil, err
	}
	force := true
	return k.client.CoreV1().Services(namespace).Patch(
		ctx, svc.Name, types.ApplyPatchType, data,
		kubeapimeta.PatchOptions{FieldManager: FieldManager, Force: &force},
	)
}

func (k *k8sClient) ApplyConfigMap(ctx context.Context, namespace string, cm *kubecore.ConfigMap) (*kubecore.ConfigMap, error) {
	data, err := json.Marshal(cm)
	if err != nil {
		return nil, err
	}
	force := true
	return k.client.CoreV1().ConfigMaps(namespace).Patch(
		ctx, cm.Name, types.ApplyPatchType, data,
		kubeapimeta.PatchOptions{FieldManager: FieldManager, Force: &force},
	)
}
