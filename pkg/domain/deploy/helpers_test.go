package deploy_test

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	appmock "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db/mock"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	deploymock "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db/mock"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	outmock "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db/mock"
)

var quiet = log.New(io.Discard, "", 0)

var (
	app = domain.Application{
		ID: "app-1", Code: "shop", TenantID: "default", Region: "default",
		Type: domain.AppTypeCloudNative, IsActive: true,
	}
	web = domain.Module{
		ID: "mod-web", ApplicationID: "app-1", Name: "web", IsDefault: true,
		SourceOrigin: domain.SourceOriginVCS,
		BuildConfig:  domain.BuildConfig{Method: domain.BuildMethodBuildpack},
	}
	stag = domain.Environment{
		ID: "env-stag", ModuleID: "mod-web", Stage: domain.StageStag,
		WorkloadApp: "bkapp-shop-stag", Cluster: "main",
	}
	target = configvar.Target{App: app, Module: web, Env: stag}
)

func customImage(m domain.Module) domain.Module {
	m.SourceOrigin = domain.SourceOriginImageRegistry
	m.BuildConfig = domain.BuildConfig{
		Method:          domain.BuildMethodCustomImage,
		ImageRepository: "registry.example.com/shop/web",
	}
	return m
}

func deployConfig(tips ...platform.TipMarshall) *platform.DeployConfig {
	return platform.TrySeal[*platform.DeployConfig](&platform.DeployConfigMarshall{
		PollInterval: "1s",
		PollingTimeout: &platform.PollingTimeoutMarshall{
			Preparation: "10m",
			Build:       "30m",
			Release:     "15m",
		},
		Tips: tips,
	})
}

// deployment returns a deployment of target whose phases before current have succeeded.
func deployment(current domain.PhaseType, startedAt time.Time) domain.Deployment {
	phases := domain.NewPhases(deploy.StepNames(deploy.StepsFor(web)))
	for i := range phases {
		p := &phases[i]
		if p.Type == current {
			p.StartTime = &startedAt
			break
		}
		p.Status = domain.Successful
	}
	return domain.Deployment{
		ID:             "deploy-1",
		ApplicationID:  app.ID,
		ModuleID:       web.ID,
		EnvironmentID:  stag.ID,
		WorkloadApp:    stag.WorkloadApp,
		Operator:       "alice",
		Source:         domain.SourceVersion{Type: "branch", Name: "main", Revision: "abc123"},
		Status:         domain.Pending,
		OutputStreamID: "stream-1",
		Phases:         phases,
	}
}

// appsOf returns an application repository knowing target.
func appsOf(t configvar.Target) *appmock.ApplicationInterface {
	apps := appmock.NewApplicationInterface()
	apps.Impl.GetApplicationByID = func(context.Context, string) (domain.Application, error) {
		return t.App, nil
	}
	apps.Impl.GetModuleByID = func(context.Context, string) (domain.Module, error) {
		return t.Module, nil
	}
	apps.Impl.GetEnvironment = func(context.Context, string) (domain.Environment, error) {
		return t.Env, nil
	}
	return apps
}

// acceptSteps makes db accept step updates and progress.
func acceptSteps(db *deploymock.DeployInterface) {
	db.Impl.UpdateSteps = func(context.Context, string, domain.PhaseType, []kdb.StepUpdate) error {
		return nil
	}
	db.Impl.Progress = func(context.Context, string, domain.PhaseType) error {
		return nil
	}
}

// writerOf returns a writer of stream-1, without listeners.
func writerOf(mem *outmock.Memory) *output.Writer {
	return output.New(mem).Writer("stream-1")
}

// run is a Run of target in the phase, whose output goes into mem.
func run(d domain.Deployment, phase domain.PhaseType, mem *outmock.Memory) deploy.Run {
	p, _ := d.Phase(phase)
	return deploy.Run{
		Deployment: d,
		Phase:      *p,
		Target:     target,
		Output:     writerOf(mem),
		Interrupted: func(context.Context) (bool, error) {
			return false, nil
		},
	}
}

var errNotCalled = errors.New("it should not be called")
