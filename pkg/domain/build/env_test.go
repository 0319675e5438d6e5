package build_test

import (
	"context"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
)

func TestArtifactsOf(t *testing.T) {
	bp := domain.BuildProcess{ID: "bp-1", WorkloadApp: "bkapp-shop-stag"}

	slug := build.ArtifactsOf("default", "registry.example.com/bkapps/", bp)
	if expect := (build.Artifacts{SlugKey: "slugs/default/bkapp-shop-stag/bp-1.tar.gz"}); slug != expect {
		t.Errorf("slug build: actual=%+v, expect=%+v", slug, expect)
	}

	bp.Metadata.UseCNB = true
	image := build.ArtifactsOf("default", "registry.example.com/bkapps/", bp)
	if expect := (build.Artifacts{OutputImage: "registry.example.com/bkapps/bkapp-shop-stag:bp-1"}); image != expect {
		t.Errorf("image build: actual=%+v, expect=%+v", image, expect)
	}
}

func TestEnvDictionary(t *testing.T) {
	type When struct {
		process   domain.BuildProcess
		conf      domain.BuildConfig
		artifacts build.Artifacts
		vars      map[string]string
	}

	theory := func(when When, then map[string]string) func(*testing.T) {
		return func(t *testing.T) {
			vars := configvar.Env{}
			for k, v := range when.vars {
				vars.Set(configvar.Var{Key: k, Value: v})
			}
			actual, err := build.EnvDictionary(context.Background(), fakeStore{}, when.process, when.conf, when.artifacts, vars)
			if err != nil {
				t.Fatal(err)
			}
			if !cmp.MapEq(actual, then) {
				t.Errorf("env: actual=%+v, expect=%+v", actual, then)
			}
		}
	}

	t.Run("slug build", theory(
		When{
			process: domain.BuildProcess{
				SourceTarball: "app-source/default/shop-web/d-1.tar.gz",
				Buildpacks: []domain.Buildpack{
					{Name: "python", Version: "v2"},
					{Name: "nodejs", URL: "https://example.com/nodejs.tgz"},
				},
			},
			artifacts: build.Artifacts{SlugKey: "slugs/default/bkapp-shop-stag/bp-1.tar.gz"},
			vars:      map[string]string{"FOO": "bar"},
		},
		map[string]string{
			"FOO":            "bar",
			"SOURCE_GET_URL": "https://blob.example.com/app-source/default/shop-web/d-1.tar.gz?get",
			"SLUG_URL":       "s3://bucket/slugs/default/bkapp-shop-stag/bp-1.tar.gz",
			"SLUG_SET_URL":   "https://blob.example.com/slugs/default/bkapp-shop-stag/bp-1.tar.gz?put",
			"SLUG_GET_URL":   "https://blob.example.com/slugs/default/bkapp-shop-stag/bp-1.tar.gz?get",
			"BUILDPACKS":     "python v2;nodejs https://example.com/nodejs.tgz",
		},
	))

	t.Run("dockerfile build", theory(
		When{
			process: domain.BuildProcess{
				SourceTarball: "src.tar.gz",
				Metadata:      domain.BuildMetadata{UseDockerfile: true},
			},
			conf: domain.BuildConfig{
				DockerfilePath: "docker/Dockerfile",
				BuildArgs:      map[string]string{"B": "2", "A": "1"},
			},
			artifacts: build.Artifacts{OutputImage: "registry.example.com/bkapps/bkapp-shop-stag:bp-1"},
		},
		map[string]string{
			"SOURCE_GET_URL":  "https://blob.example.com/src.tar.gz?get",
			"OUTPUT_IMAGE":    "registry.example.com/bkapps/bkapp-shop-stag:bp-1",
			"DOCKERFILE_PATH": "docker/Dockerfile",
			"BUILD_ARG":       `{"A":"1","B":"2"}`,
		},
	))

	t.Run("builder toggles win against user variables", theory(
		When{
			process: domain.BuildProcess{
				SourceTarball: "src.tar.gz",
				Metadata:      domain.BuildMetadata{UseCNB: true},
			},
			artifacts: build.Artifacts{OutputImage: "registry.example.com/x:1"},
			vars:      map[string]string{"USE_CNB": "false", "OUTPUT_IMAGE": "evil"},
		},
		map[string]string{
			"SOURCE_GET_URL": "https://blob.example.com/src.tar.gz?get",
			"OUTPUT_IMAGE":   "registry.example.com/x:1",
			"USE_CNB":        "true",
		},
	))
}
