package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"

	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// NewCluster returns k8s.Cluster backed by a MockClient.
func NewCluster() (k8s.Cluster, *MockClient) {
	client := NewMockClient()
	return k8s.AttachCluster(client), client
}

var errNotImplemented = errors.New("[MOCK] not implemented")

type MockClient struct {
	Impl struct {
		CreatePod func(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
		GetPod    func(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
		DeletePod func(ctx context.Context, namespace string, name string) error
		FindPods  func(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error)
		Log       func(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error)

		GetNamespace    func(ctx context.Context, name string) (*kubecore.Namespace, error)
		CreateNamespace func(ctx context.Context, ns *kubecore.Namespace) (*kubecore.Namespace, error)

		GetSecret    func(ctx context.Context, namespace string, name string) (*kubecore.Secret, error)
		CreateSecret func(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)
		UpdateSecret func(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error)

		GetDeployment   func(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
		ApplyDeployment func(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
		ApplyService    func(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error)
		ApplyConfigMap  func(ctx context.Context, namespace string, cm *kubecore.ConfigMap) (*kubecore.ConfigMap, error)
	}

	mu     sync.Mutex
	Called struct {
		CreatePod uint64
		GetPod    uint64
		DeletePod uint64
		FindPods  uint64
		Log       uint64

		GetNamespace    uint64
		CreateNamespace uint64

		GetSecret    uint64
		CreateSecret uint64
		UpdateSecret uint64

		GetDeployment   uint64
		ApplyDeployment uint64
		ApplyService    uint64
		ApplyConfigMap  uint64
	}
}

var _ k8s.K8sClient = &MockClient{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) count(c *uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*c += 1
}

func (m *MockClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	m.count(&m.Called.CreatePod)
	if m.Impl.CreatePod == nil {
		return nil, errNotImplemented
	}
	return m.Impl.CreatePod(ctx, namespace, pod)
}

func (m *MockClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	m.count(&m.Called.GetPod)
	if m.Impl.GetPod == nil {
		return nil, errNotImplemented
	}
	return m.Impl.GetPod(ctx, namespace, name)
}

func (m *MockClient) DeletePod(ctx context.Context, namespace string, name string) error {
	m.count(&m.Called.DeletePod)
	if m.Impl.DeletePod == nil {
		return errNotImplemented
	}
	return m.Impl.DeletePod(ctx, namespace, name)
}

func (m *MockClient) FindPods(ctx context.Context, namespace string, selector map[string]string) ([]kubecore.Pod, error) {
	m.count(&m.Called.FindPods)
	if m.Impl.FindPods == nil {
		return nil, errNotImplemented
	}
	return m.Impl.FindPods(ctx, namespace, selector)
}

func (m *MockClient) Log(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error) {
	m.count(&m.Called.Log)
	if m.Impl.Log == nil {
		return nil, errNotImplemented
	}
	return m.Impl.Log(ctx, namespace, pod, container)
}

func (m *MockClient) GetNamespace(ctx context.Context, name string) (*kubecore.Namespace, error) {
	m.count(&m.Called.GetNamespace)
	if m.Impl.GetNamespace == nil {
		return nil, errNotImplemented
	}
	return m.Impl.GetNamespace(ctx, name)
}

func (m *MockClient) CreateNamespace(ctx context.Context, ns *kubecore.Namespace) (*kubecore.Namespace, error) {
	m.count(&m.Called.CreateNamespace)
	if m.Impl.CreateNamespace == nil {
		return nil, errNotImplemented
	}
	return m.Impl.CreateNamespace(ctx, ns)
}

func (m *MockClient) GetSecret(ctx context.Context, namespace string, name string) (*kubecore.Secret, error) {
	m.count(&m.Called.GetSecret)
	if m.Impl.GetSecret == nil {
		return nil, errNotImplemented
	}
	return m.Impl.GetSecret(ctx, namespace, name)
}

func (m *MockClient) CreateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	m.count(&m.Called.CreateSecret)
	if m.Impl.CreateSecret == nil {
		return nil, errNotImplemented
	}
	return m.Impl.CreateSecret(ctx, namespace, secret)
}

func (m *MockClient) UpdateSecret(ctx context.Context, namespace string, secret *kubecore.Secret) (*kubecore.Secret, error) {
	m.count(&m.Called.UpdateSecret)
	if m.Impl.UpdateSecret == nil {
		return nil, errNotImplemented
	}
	return m.Impl.UpdateSecret(ctx, namespace, secret)
}

func (m *MockClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	m.count(&m.Called.GetDeployment)
	if m.Impl.GetDeployment == nil {
		return nil, errNotImplemented
	}
	return m.Impl.GetDeployment(ctx, namespace, name)
}

func (m *MockClient) ApplyDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	m.count(&m.Called.ApplyDeployment)
	if m.Impl.ApplyDeployment == nil {
		return nil, errNotImplemented
	}
	return m.Impl.ApplyDeployment(ctx, namespace, depl)
}

func (m *MockClient) ApplyService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error) {
	m.count(&m.Called.ApplyService)
	if m.Impl.ApplyService == nil {
		return nil, errNotImplemented
	}
	return m.Impl.ApplyService(ctx, namespace, svc)
}

func (m *MockClient) ApplyConfigMap(ctx context.Context, namespace string, cm *kubecore.ConfigMap) (*kubecore.ConfigMap, error) {
	m.count(&m.Called.ApplyConfigMap)
	if m.Impl.ApplyConfigMap == nil {
		return nil, errNotImplemented
	}
	return m.Impl.ApplyConfigMap(ctx, namespace, cm)
}
