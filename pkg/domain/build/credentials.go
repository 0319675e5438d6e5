package build

import (
	"context"
	"fmt"
	"strings"

	kubecore "k8s.io/api/core/v1"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

type secretCredentials struct {
	cluster   k8s.Cluster
	namespace string
}

// SecretCredentials reads registry credentials from basic-auth secrets in namespace.
//
// The credential named N of the application A is kept in the secret CredentialSecretName(A, N).
func SecretCredentials(cluster k8s.Cluster, namespace string) RegistryCredentials {
	return &secretCredentials{cluster: cluster, namespace: namespace}
}

func CredentialSecretName(appID string, name string) string {
	return strings.ToLower(fmt.Sprintf("image-credential-%s-%s", appID, name))
}

func (s *secretCredentials) RegistryCredential(ctx context.Context, appID string, name string) (string, string, error) {
	secretName := CredentialSecretName(appID, name)
	secret, err := s.cluster.GetSecret(ctx, s.namespace, secretName)
	if err != nil {
		if k8s.AsNotFound(err) {
			return "", "", xe.Wrap(domerr.Missing{Table: "image_credential", Identity: name})
		}
		return "", "", err
	}
	username, password := secret.Data[kubecore.BasicAuthUsernameKey], secret.Data[kubecore.BasicAuthPasswordKey]
	if len(username) == 0 {
		return "", "", xe.Wrap(domerr.Invalid("image_credential", "secret %s has no username", secretName))
	}
	return string(username), string(password), nil
}
