package build_test

import (
	"context"
	"errors"
	"testing"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	k8smock "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s/mock"
)

func TestSecretCredentials(t *testing.T) {
	cluster, client := k8smock.NewCluster()
	client.Impl.GetSecret = func(_ context.Context, namespace string, name string) (*kubecore.Secret, error) {
		switch {
		case namespace != "bkpaas-system":
			return nil, errors.New("unexpected namespace " + namespace)
		case name == build.CredentialSecretName("app-1", "Harbor"):
			return &kubecore.Secret{Data: map[string][]byte{
				kubecore.BasicAuthUsernameKey: []byte("robot"),
				kubecore.BasicAuthPasswordKey: []byte("s3cr3t"),
			}}, nil
		case name == build.CredentialSecretName("app-1", "empty"):
			return &kubecore.Secret{}, nil
		}
		return nil, kubeerr.NewNotFound(schema.GroupResource{Resource: "secrets"}, name)
	}
	testee := build.SecretCredentials(cluster, "bkpaas-system")
	ctx := context.Background()

	t.Run("it reads username and password", func(t *testing.T) {
		username, password, err := testee.RegistryCredential(ctx, "app-1", "Harbor")
		if err != nil {
			t.Fatal(err)
		}
		if username != "robot" || password != "s3cr3t" {
			t.Errorf("credential: actual=(%s, %s), expect=(robot, s3cr3t)", username, password)
		}
	})

	t.Run("missing secrets are not found", func(t *testing.T) {
		if _, _, err := testee.RegistryCredential(ctx, "app-1", "unknown"); !errors.Is(err, domerr.ErrNotFound) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrNotFound)
		}
	})

	t.Run("secrets without username are invalid", func(t *testing.T) {
		if _, _, err := testee.RegistryCredential(ctx, "app-1", "empty"); !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrValidation)
		}
	})
}

func TestCredentialSecretName(t *testing.T) {
	if actual, expect := build.CredentialSecretName("App-1", "Harbor"), "image-credential-app-1-harbor"; actual != expect {
		t.Errorf("name: actual=%s, expect=%s", actual, expect)
	}
}
