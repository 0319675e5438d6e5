package build_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
)

var quiet = log.New(io.Discard, "", 0)

// fakeStore presigns urls as "https://blob.example.com/<key>?<method>".
type fakeStore struct{}

func (fakeStore) Put(context.Context, string, io.ReadSeeker, int64) error {
	return errors.New("it should not be called")
}

func (fakeStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("it should not be called")
}

func (fakeStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://blob.example.com/" + key + "?get", nil
}

func (fakeStore) PresignPut(_ context.Context, key string) (string, error) {
	return "https://blob.example.com/" + key + "?put", nil
}

func (fakeStore) URL(key string) string {
	return "s3://bucket/" + key
}

type fakeResolver struct {
	vars map[string]string
}

func (f fakeResolver) Resolve(context.Context, configvar.Target, configvar.Point) (configvar.Env, error) {
	env := configvar.Env{}
	for k, v := range f.vars {
		env.Set(configvar.Var{Key: k, Value: v, Source: configvar.SourceUser})
	}
	return env, nil
}

// lines collects lines written to Output.
type lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *lines) WriteLine(_ context.Context, _ output.Stream, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	return nil
}

func (l *lines) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...)
}

func buildConfig(podWatchdog string) *platform.BuildConfig {
	return platform.TrySeal[*platform.BuildConfig](&platform.BuildConfigMarshall{
		SlugBuilderImage:   "bkpaas/slug-builder:v1",
		CNBBuilderImage:    "bkpaas/cnb-builder:v1",
		DockerBuilderImage: "bkpaas/kaniko:v1",
		PodWatchdogTimeout: podWatchdog,
		MaxSlugTimeout:     "15m",
		NodeSelector:       map[string]string{"role": "builder"},
		ImagePullSecrets:   []string{"registry-secret"},
		OutputRepository:   "registry.example.com/bkapps/",
	})
}

var (
	app = domain.Application{
		ID: "app-1", Code: "shop", TenantID: "default", Region: "default",
		Type: domain.AppTypeCloudNative, IsActive: true,
	}
	classicApp = domain.Application{
		ID: "app-2", Code: "legacy", TenantID: "default", Region: "default",
		Type: domain.AppTypeClassic, IsActive: true,
	}
	web = domain.Module{
		ID: "mod-web", ApplicationID: "app-1", Name: "web", IsDefault: true,
		SourceOrigin: domain.SourceOriginVCS,
		BuildConfig: domain.BuildConfig{
			Method:     domain.BuildMethodBuildpack,
			Buildpacks: []domain.Buildpack{{Name: "python", Version: "v2"}},
		},
	}
	stag = domain.Environment{
		ID: "env-stag", ModuleID: "mod-web", Stage: domain.StageStag,
		WorkloadApp: "bkapp-shop-stag", Cluster: "main",
	}
)
