package build_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	buildmock "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db/mock"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

func TestReferenceOf(t *testing.T) {
	tagged, err := build.ReferenceOf("strm/helloworld-http", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if expect := "index.docker.io/strm/helloworld-http:v1"; tagged.Name() != expect {
		t.Errorf("tagged: actual=%s, expect=%s", tagged.Name(), expect)
	}

	digest := "sha256:" + strings.Repeat("a", 64)
	pinned, err := build.ReferenceOf("registry.example.com/app", digest)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pinned.(name.Digest); !ok {
		t.Errorf("reference with digest: actual=%T, expect name.Digest", pinned)
	}

	if _, err := build.ReferenceOf("Invalid Repository", "v1"); !errors.Is(err, domerr.ErrValidation) {
		t.Errorf("invalid reference: actual=%v, expect=%v", err, domerr.ErrValidation)
	}
}

func TestImageResolver(t *testing.T) {
	server := httptest.NewServer(registry.New())
	defer server.Close()
	host := strings.TrimPrefix(server.URL, "http://")

	img, err := random.Image(1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := name.ParseReference(host + "/shop/web:v1")
	if err != nil {
		t.Fatal(err)
	}
	if err := remote.Write(ref, img); err != nil {
		t.Fatal(err)
	}
	digest, err := img.Digest()
	if err != nil {
		t.Fatal(err)
	}

	module := web
	module.SourceOrigin = domain.SourceOriginImageRegistry
	module.BuildConfig = domain.BuildConfig{
		Method:          domain.BuildMethodCustomImage,
		ImageRepository: host + "/shop/web",
	}
	target := configvar.Target{App: app, Module: module, Env: stag}

	t.Run("existing tag is recorded as the latest build", func(t *testing.T) {
		db := buildmock.NewBuildInterface()
		db.Impl.NewBuild = func(_ context.Context, b domain.Build) (domain.Build, error) {
			b.ID = "build-1"
			return b, nil
		}
		testee := build.NewImageResolver(db)

		actual, err := testee.Resolve(context.Background(), target, "v1")
		if err != nil {
			t.Fatal(err)
		}
		expect := domain.Build{
			ID:           "build-1",
			ModuleID:     "mod-web",
			WorkloadApp:  "bkapp-shop-stag",
			ArtifactType: domain.ArtifactImage,
			Image:        host + "/shop/web:v1",
			Revision:     digest.String(),
			Branch:       "v1",
			Metadata:     domain.BuildMetadata{ImageDigest: digest.String()},
		}
		if actual.ID != expect.ID || actual.Image != expect.Image || actual.Revision != expect.Revision ||
			actual.ArtifactType != expect.ArtifactType || actual.Metadata.ImageDigest != expect.Metadata.ImageDigest ||
			actual.Branch != expect.Branch || actual.WorkloadApp != expect.WorkloadApp {
			t.Errorf("build: actual=%+v, expect=%+v", actual, expect)
		}
	})

	t.Run("missing tag", func(t *testing.T) {
		db := buildmock.NewBuildInterface()
		testee := build.NewImageResolver(db)

		_, err := testee.Resolve(context.Background(), target, "v404")
		if !errors.Is(err, domerr.ErrNotFound) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrNotFound)
		}
		if db.Calls.NewBuild.Times() != 0 {
			t.Errorf("build should not be recorded")
		}
	})

	t.Run("module not built from images", func(t *testing.T) {
		testee := build.NewImageResolver(buildmock.NewBuildInterface())
		_, err := testee.Resolve(context.Background(), configvar.Target{App: app, Module: web, Env: stag}, "v1")
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%v, expect=%v", err, domerr.ErrValidation)
		}
	})
}
