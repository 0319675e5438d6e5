package application_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/cmp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db/mock"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

type fakeLive map[string]bool

func (f fakeLive) Alive(_ context.Context, wlApp string) (bool, error) {
	return f[wlApp], nil
}

func quiet() application.Option {
	return application.WithLogger(log.New(io.Discard, "", 0))
}

func TestService_CreateModule(t *testing.T) {
	app := domain.Application{
		ID: "app-1", Code: "hello", Region: "default", Type: domain.AppTypeCloudNative, IsActive: true,
	}

	t.Run("custom image module is created with both environments", func(t *testing.T) {
		ctx := context.Background()
		db := dbmock.NewApplicationInterface()
		db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
			return app, nil
		}
		db.Impl.ListModules = func(ctx context.Context, appID string) ([]domain.Module, error) {
			return []domain.Module{}, nil
		}
		db.Impl.NewModule = func(ctx context.Context, mi kdb.ModuleInit) (domain.Module, []domain.Environment, error) {
			m := mi.Module
			m.ID = "mod-1"
			envs := []domain.Environment{}
			for _, e := range mi.Environments {
				e.ModuleID = m.ID
				e.ID = "env-" + string(e.Stage)
				envs = append(envs, e)
			}
			return m, envs, nil
		}

		testee := application.New(db, fakeLive{}, "default", quiet())
		mod, envs, err := testee.CreateModule(ctx, application.NewModule{
			ApplicationCode: "hello",
			Name:            "default",
			SourceOrigin:    domain.SourceOriginImageRegistry,
			BuildConfig: domain.BuildConfig{
				Method:          domain.BuildMethodCustomImage,
				ImageRepository: "strm/helloworld-http",
			},
			Cluster: "main",
			Processes: []domain.ProcessSpec{
				{
					Name:       "web",
					Command:    []string{"bash", "/app/start_web.sh"},
					TargetPort: 30000,
					Overlays: map[domain.Stage]domain.ProcessSpecEnvOverlay{
						domain.StageStag: {TargetReplicas: ptr[int32](1)},
						domain.StageProd: {TargetReplicas: ptr[int32](2)},
					},
				},
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		if !mod.IsDefault {
			t.Errorf("first module should be default")
		}
		if mod.BuildConfig.ImageRepository != "strm/helloworld-http" {
			t.Errorf("image repository: actual=%s, expect=%s", mod.BuildConfig.ImageRepository, "strm/helloworld-http")
		}

		if db.Calls.NewModule.Times() != 1 {
			t.Fatalf("NewModule: called %d times", db.Calls.NewModule.Times())
		}
		mi := db.Calls.NewModule[0]
		if len(mi.ProcessSpecs) != 1 {
			t.Fatalf("process specs: %+v", mi.ProcessSpecs)
		}
		web := mi.ProcessSpecs[0]
		if !cmp.SliceEq(web.Command, []string{"bash", "/app/start_web.sh"}) {
			t.Errorf("command: actual=%v", web.Command)
		}
		if web.TargetPort != 30000 {
			t.Errorf("target port: actual=%d, expect=%d", web.TargetPort, 30000)
		}
		if r := web.Overlays[domain.StageStag].TargetReplicas; r == nil || *r != 1 {
			t.Errorf("stag replicas: actual=%v, expect=1", r)
		}
		if r := web.Overlays[domain.StageProd].TargetReplicas; r == nil || *r != 2 {
			t.Errorf("prod replicas: actual=%v, expect=2", r)
		}

		wlApps := []string{}
		for _, e := range envs {
			wlApps = append(wlApps, e.WorkloadApp)
		}
		if !cmp.SliceEq(wlApps, []string{"bkapp-hello-stag", "bkapp-hello-prod"}) {
			t.Errorf("workload apps: actual=%v", wlApps)
		}
	})

	t.Run("second module is not default and has module name in workload apps", func(t *testing.T) {
		ctx := context.Background()
		db := dbmock.NewApplicationInterface()
		db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
			return app, nil
		}
		db.Impl.ListModules = func(ctx context.Context, appID string) ([]domain.Module, error) {
			return []domain.Module{{ID: "mod-1", Name: "default", IsDefault: true}}, nil
		}
		db.Impl.NewModule = func(ctx context.Context, mi kdb.ModuleInit) (domain.Module, []domain.Environment, error) {
			return mi.Module, mi.Environments, nil
		}

		testee := application.New(db, fakeLive{}, "default", quiet())
		mod, envs, err := testee.CreateModule(ctx, application.NewModule{
			ApplicationCode: "hello",
			Name:            "api",
			SourceOrigin:    domain.SourceOriginImageOnly,
			BuildConfig:     domain.BuildConfig{Method: domain.BuildMethodCustomImage, ImageRepository: "nginx"},
			Cluster:         "main",
		})
		if err != nil {
			t.Fatal(err)
		}
		if mod.IsDefault {
			t.Errorf("second module should not be default")
		}
		if envs[0].WorkloadApp != "bkapp-hello-m-api-stag" {
			t.Errorf("workload app: actual=%s", envs[0].WorkloadApp)
		}
	})

	t.Run("duplicated module name is a conflict", func(t *testing.T) {
		ctx := context.Background()
		db := dbmock.NewApplicationInterface()
		db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
			return app, nil
		}
		db.Impl.ListModules = func(ctx context.Context, appID string) ([]domain.Module, error) {
			return []domain.Module{{ID: "mod-1", Name: "api"}}, nil
		}

		testee := application.New(db, fakeLive{}, "default", quiet())
		_, _, err := testee.CreateModule(ctx, application.NewModule{
			ApplicationCode: "hello",
			Name:            "api",
			SourceOrigin:    domain.SourceOriginImageOnly,
			BuildConfig:     domain.BuildConfig{Method: domain.BuildMethodCustomImage, ImageRepository: "nginx"},
			Cluster:         "main",
		})
		if !errors.Is(err, domerr.ErrConflict) {
			t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrConflict)
		}
		if db.Calls.NewModule.Times() != 0 {
			t.Errorf("NewModule should not be called")
		}
	})

	t.Run("invalid module is rejected before any write", func(t *testing.T) {
		ctx := context.Background()
		db := dbmock.NewApplicationInterface()
		db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
			return app, nil
		}

		testee := application.New(db, fakeLive{}, "default", quiet())
		_, _, err := testee.CreateModule(ctx, application.NewModule{
			ApplicationCode: "hello",
			Name:            "api",
			SourceOrigin:    domain.SourceOriginImageRegistry,
			BuildConfig:     domain.BuildConfig{Method: domain.BuildMethodDockerfile},
			Cluster:         "main",
		})
		if !errors.Is(err, domerr.ErrValidation) {
			t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrValidation)
		}
	})
}

func TestService_DeleteModule(t *testing.T) {
	app := domain.Application{ID: "app-1", Code: "hello", IsActive: true}

	setup := func(mod domain.Module) *dbmock.ApplicationInterface {
		db := dbmock.NewApplicationInterface()
		db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
			return app, nil
		}
		db.Impl.GetModule = func(ctx context.Context, appID, name string) (domain.Module, error) {
			return mod, nil
		}
		db.Impl.ListEnvironments = func(ctx context.Context, moduleID string) ([]domain.Environment, error) {
			return []domain.Environment{
				{ID: "e1", Stage: domain.StageStag, WorkloadApp: "bkapp-hello-m-api-stag"},
				{ID: "e2", Stage: domain.StageProd, WorkloadApp: "bkapp-hello-m-api-prod"},
			}, nil
		}
		db.Impl.DeleteModule = func(ctx context.Context, moduleID string) error {
			return nil
		}
		return db
	}

	t.Run("default module can not be deleted", func(t *testing.T) {
		db := setup(domain.Module{ID: "m", Name: "default", IsDefault: true})
		testee := application.New(db, fakeLive{}, "default", quiet())
		err := testee.DeleteModule(context.Background(), "hello", "default")
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrPreconditionFailed)
		}
		if db.Calls.DeleteModule.Times() != 0 {
			t.Errorf("DeleteModule should not be called")
		}
	})

	t.Run("module with live workloads can not be deleted", func(t *testing.T) {
		db := setup(domain.Module{ID: "m", Name: "api"})
		testee := application.New(db, fakeLive{"bkapp-hello-m-api-prod": true}, "default", quiet())
		err := testee.DeleteModule(context.Background(), "hello", "api")
		if !errors.Is(err, domerr.ErrPreconditionFailed) {
			t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrPreconditionFailed)
		}
	})

	t.Run("idle module is deleted", func(t *testing.T) {
		db := setup(domain.Module{ID: "m", Name: "api"})
		testee := application.New(db, fakeLive{}, "default", quiet())
		if err := testee.DeleteModule(context.Background(), "hello", "api"); err != nil {
			t.Fatal(err)
		}
		if !cmp.SliceEq(db.Calls.DeleteModule, []string{"m"}) {
			t.Errorf("DeleteModule: actual=%v", db.Calls.DeleteModule)
		}
	})
}

func TestService_MarkOffline(t *testing.T) {
	db := dbmock.NewApplicationInterface()
	db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
		return domain.Application{ID: "app-1", Code: code, IsActive: true}, nil
	}
	db.Impl.ListModules = func(ctx context.Context, appID string) ([]domain.Module, error) {
		return []domain.Module{{ID: "m1"}}, nil
	}
	db.Impl.ListEnvironments = func(ctx context.Context, moduleID string) ([]domain.Environment, error) {
		return []domain.Environment{{ID: "e1"}, {ID: "e2", IsOffline: true}}, nil
	}
	db.Impl.SetEnvironmentOffline = func(ctx context.Context, envID string, offline bool) error {
		return nil
	}
	db.Impl.SetApplicationActive = func(ctx context.Context, appID string, active bool) error {
		return nil
	}

	testee := application.New(db, fakeLive{}, "default", quiet())
	if err := testee.MarkOffline(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if db.Calls.SetEnvironmentOffline.Times() != 1 || db.Calls.SetEnvironmentOffline[0].EnvID != "e1" {
		t.Errorf("SetEnvironmentOffline: actual=%+v", db.Calls.SetEnvironmentOffline)
	}
	if db.Calls.SetApplicationActive.Times() != 1 || db.Calls.SetApplicationActive[0].Active {
		t.Errorf("SetApplicationActive: actual=%+v", db.Calls.SetApplicationActive)
	}
}

func TestService_DeleteApplication_LiveWorkloads(t *testing.T) {
	db := dbmock.NewApplicationInterface()
	db.Impl.GetApplication = func(ctx context.Context, code string) (domain.Application, error) {
		return domain.Application{ID: "app-1", Code: code}, nil
	}
	db.Impl.ListModules = func(ctx context.Context, appID string) ([]domain.Module, error) {
		return []domain.Module{{ID: "m1"}}, nil
	}
	db.Impl.ListEnvironments = func(ctx context.Context, moduleID string) ([]domain.Environment, error) {
		return []domain.Environment{{ID: "e1", WorkloadApp: "bkapp-hello-stag"}}, nil
	}

	testee := application.New(db, fakeLive{"bkapp-hello-stag": true}, "default", quiet())
	err := testee.DeleteApplication(context.Background(), "hello")
	if !errors.Is(err, domerr.ErrPreconditionFailed) {
		t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrPreconditionFailed)
	}
	if db.Calls.DeleteApplication.Times() != 0 {
		t.Errorf("DeleteApplication should not be called")
	}
}

func TestService_UpsertMount(t *testing.T) {
	cm := domain.MountSourceConfig{ConfigMap: map[string]string{"a": "b"}}
	db := dbmock.NewApplicationInterface()
	db.Impl.ListMounts = func(ctx context.Context, moduleID string) ([]domain.Mount, error) {
		return []domain.Mount{
			{ModuleID: moduleID, Name: "conf", SourceType: domain.MountSourceConfigMap, SourceConfig: cm, MountPath: "/etc/a", Scope: domain.EnvScopeGlobal},
		}, nil
	}
	db.Impl.UpsertMount = func(ctx context.Context, mount domain.Mount) error {
		return nil
	}
	testee := application.New(db, fakeLive{}, "default", quiet())

	t.Run("same name on another path is a conflict", func(t *testing.T) {
		err := testee.UpsertMount(context.Background(), domain.Mount{
			ModuleID: "m", Name: "conf", SourceType: domain.MountSourceConfigMap, SourceConfig: cm, MountPath: "/etc/b", Scope: domain.EnvScopeGlobal,
		})
		if !errors.Is(err, domerr.ErrConflict) {
			t.Errorf("error: actual=%+v, expect=%+v", err, domerr.ErrConflict)
		}
	})

	t.Run("same path is updated", func(t *testing.T) {
		err := testee.UpsertMount(context.Background(), domain.Mount{
			ModuleID: "m", Name: "conf", SourceType: domain.MountSourceConfigMap, SourceConfig: cm, MountPath: "/etc/a", Scope: domain.EnvScopeGlobal,
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}
