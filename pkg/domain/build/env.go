package build

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Artifacts tells where a build process puts what it produces.
type Artifacts struct {
	// key of the slug in the blob store. Empty for image builds.
	SlugKey string

	// image reference to be pushed. Empty for slug builds.
	OutputImage string
}

// ArtifactsOf decides where bp puts its products.
//
// outputRepository is a prefix of image references, like "registry.example.com/bkapps".
func ArtifactsOf(region string, outputRepository string, bp domain.BuildProcess) Artifacts {
	if domain.ArtifactTypeFor(bp.Metadata.UseDockerfile, bp.Metadata.UseCNB) == domain.ArtifactImage {
		repo := strings.TrimSuffix(outputRepository, "/")
		return Artifacts{OutputImage: repo + "/" + bp.WorkloadApp + ":" + bp.ID}
	}
	return Artifacts{SlugKey: blob.SlugKey(region, bp.WorkloadApp, bp.ID)}
}

// EnvDictionary builds environment variables passed to builders.
//
// vars are layered variables resolved at the build point. Builder toggles win on collision.
func EnvDictionary(
	ctx context.Context,
	store blob.Store,
	bp domain.BuildProcess,
	conf domain.BuildConfig,
	artifacts Artifacts,
	vars configvar.Env,
) (map[string]string, error) {
	env := vars.Map()

	sourceURL, err := store.PresignGet(ctx, bp.SourceTarball)
	if err != nil {
		return nil, err
	}
	env["SOURCE_GET_URL"] = sourceURL

	if artifacts.SlugKey != "" {
		setURL, err := store.PresignPut(ctx, artifacts.SlugKey)
		if err != nil {
			return nil, err
		}
		getURL, err := store.PresignGet(ctx, artifacts.SlugKey)
		if err != nil {
			return nil, err
		}
		env["SLUG_URL"] = store.URL(artifacts.SlugKey)
		env["SLUG_SET_URL"] = setURL
		env["SLUG_GET_URL"] = getURL
	}
	if artifacts.OutputImage != "" {
		env["OUTPUT_IMAGE"] = artifacts.OutputImage
	}

	if bp.Metadata.UseDockerfile {
		env["DOCKERFILE_PATH"] = conf.DockerfilePath
		args, err := encodeBuildArgs(conf.BuildArgs)
		if err != nil {
			return nil, err
		}
		env["BUILD_ARG"] = args
	}
	if bp.Metadata.UseCNB {
		env["USE_CNB"] = "true"
	}
	if len(bp.Buildpacks) != 0 {
		env["BUILDPACKS"] = encodeBuildpacks(bp.Buildpacks)
	}
	return env, nil
}

// build args are passed as a JSON object, sorted by key.
func encodeBuildArgs(args map[string]string) (string, error) {
	if args == nil {
		args = map[string]string{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return string(b), nil
}

// buildpacks are passed as "name version url" joined with ";", in order.
func encodeBuildpacks(bps []domain.Buildpack) string {
	items := make([]string, 0, len(bps))
	for _, bp := range bps {
		fields := []string{}
		for _, f := range []string{bp.Name, bp.Version, bp.URL} {
			if f != "" {
				fields = append(fields, f)
			}
		}
		items = append(items, strings.Join(fields, " "))
	}
	return strings.Join(items, ";")
}
