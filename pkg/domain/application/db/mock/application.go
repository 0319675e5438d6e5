package mock

import (
	"context"
	"errors"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type ApplicationInterface struct {
	Impl struct {
		NewApplication               func(ctx context.Context, app domain.Application) (domain.Application, error)
		GetApplication               func(ctx context.Context, code string) (domain.Application, error)
		GetApplicationByID           func(ctx context.Context, appID string) (domain.Application, error)
		SetApplicationActive         func(ctx context.Context, appID string, active bool) error
		DeleteApplication            func(ctx context.Context, appID string) error
		NewModule                    func(ctx context.Context, mi kdb.ModuleInit) (domain.Module, []domain.Environment, error)
		GetModule                    func(ctx context.Context, appID string, name string) (domain.Module, error)
		GetModuleByID                func(ctx context.Context, moduleID string) (domain.Module, error)
		ListModules                  func(ctx context.Context, appID string) ([]domain.Module, error)
		SetDefaultModule             func(ctx context.Context, appID string, moduleID string) error
		DeleteModule                 func(ctx context.Context, moduleID string) error
		UpdateBuildConfig            func(ctx context.Context, moduleID string, config domain.BuildConfig) error
		ListEnvironments             func(ctx context.Context, moduleID string) ([]domain.Environment, error)
		GetEnvironment               func(ctx context.Context, envID string) (domain.Environment, error)
		FindEnvironmentByWorkloadApp func(ctx context.Context, wlApp string) (domain.Environment, error)
		SetEnvironmentOffline        func(ctx context.Context, envID string, offline bool) error
		ListProcessSpecs             func(ctx context.Context, moduleID string) ([]domain.ProcessSpec, error)
		ReplaceProcessSpecs          func(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error
		ListDeployHooks              func(ctx context.Context, moduleID string) ([]domain.DeployHook, error)
		UpsertDeployHook             func(ctx context.Context, hook domain.DeployHook) error
		DeleteDeployHook             func(ctx context.Context, moduleID string, hookType domain.HookType) error
		ListMounts                   func(ctx context.Context, moduleID string) ([]domain.Mount, error)
		UpsertMount                  func(ctx context.Context, mount domain.Mount) error
		DeleteMount                  func(ctx context.Context, moduleID string, scope domain.EnvScope, mountPath string) error
		ListPresetEnvVars            func(ctx context.Context, moduleID string) ([]domain.PresetEnvVar, error)
		ReplacePresetEnvVars         func(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error
		GetSpecExtra                 func(ctx context.Context, moduleID string) (kdb.ModuleSpecExtra, error)
		SetSpecExtra                 func(ctx context.Context, moduleID string, extra kdb.ModuleSpecExtra) error
	}

	Calls struct {
		NewApplication       dbmock.CallLog[domain.Application]
		GetApplication       dbmock.CallLog[string]
		GetApplicationByID   dbmock.CallLog[string]
		SetApplicationActive dbmock.CallLog[struct {
			AppID  string
			Active bool
		}]
		DeleteApplication dbmock.CallLog[string]
		NewModule         dbmock.CallLog[kdb.ModuleInit]
		GetModule         dbmock.CallLog[struct {
			AppID string
			Name  string
		}]
		GetModuleByID    dbmock.CallLog[string]
		ListModules      dbmock.CallLog[string]
		SetDefaultModule dbmock.CallLog[struct {
			AppID    string
			ModuleID string
		}]
		DeleteModule      dbmock.CallLog[string]
		UpdateBuildConfig dbmock.CallLog[struct {
			ModuleID string
			Config   domain.BuildConfig
		}]
		ListEnvironments             dbmock.CallLog[string]
		GetEnvironment               dbmock.CallLog[string]
		FindEnvironmentByWorkloadApp dbmock.CallLog[string]
		SetEnvironmentOffline        dbmock.CallLog[struct {
			EnvID   string
			Offline bool
		}]
		ListProcessSpecs    dbmock.CallLog[string]
		ReplaceProcessSpecs dbmock.CallLog[struct {
			ModuleID string
			Specs    []domain.ProcessSpec
		}]
		ListDeployHooks  dbmock.CallLog[string]
		UpsertDeployHook dbmock.CallLog[domain.DeployHook]
		DeleteDeployHook dbmock.CallLog[struct {
			ModuleID string
			Type     domain.HookType
		}]
		ListMounts  dbmock.CallLog[string]
		UpsertMount dbmock.CallLog[domain.Mount]
		DeleteMount dbmock.CallLog[struct {
			ModuleID  string
			Scope     domain.EnvScope
			MountPath string
		}]
		ListPresetEnvVars    dbmock.CallLog[string]
		ReplacePresetEnvVars dbmock.CallLog[struct {
			ModuleID string
			Vars     []domain.PresetEnvVar
		}]
		GetSpecExtra dbmock.CallLog[string]
		SetSpecExtra dbmock.CallLog[struct {
			ModuleID string
			Extra    kdb.ModuleSpecExtra
		}]
	}
}

func NewApplicationInterface() *ApplicationInterface {
	return &ApplicationInterface{}
}

var _ kdb.Interface = &ApplicationInterface{}

func notCalled() error {
	return errors.New("it should not be called")
}

func (m *ApplicationInterface) NewApplication(ctx context.Context, app domain.Application) (domain.Application, error) {
	m.Calls.NewApplication = append(m.Calls.NewApplication, app)
	if m.Impl.NewApplication != nil {
		return m.Impl.NewApplication(ctx, app)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetApplication(ctx context.Context, code string) (domain.Application, error) {
	m.Calls.GetApplication = append(m.Calls.GetApplication, code)
	if m.Impl.GetApplication != nil {
		return m.Impl.GetApplication(ctx, code)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetApplicationByID(ctx context.Context, appID string) (domain.Application, error) {
	m.Calls.GetApplicationByID = append(m.Calls.GetApplicationByID, appID)
	if m.Impl.GetApplicationByID != nil {
		return m.Impl.GetApplicationByID(ctx, appID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) SetApplicationActive(ctx context.Context, appID string, active bool) error {
	m.Calls.SetApplicationActive = append(m.Calls.SetApplicationActive, struct {
		AppID  string
		Active bool
	}{AppID: appID, Active: active})
	if m.Impl.SetApplicationActive != nil {
		return m.Impl.SetApplicationActive(ctx, appID, active)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) DeleteApplication(ctx context.Context, appID string) error {
	m.Calls.DeleteApplication = append(m.Calls.DeleteApplication, appID)
	if m.Impl.DeleteApplication != nil {
		return m.Impl.DeleteApplication(ctx, appID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) NewModule(ctx context.Context, mi kdb.ModuleInit) (domain.Module, []domain.Environment, error) {
	m.Calls.NewModule = append(m.Calls.NewModule, mi)
	if m.Impl.NewModule != nil {
		return m.Impl.NewModule(ctx, mi)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetModule(ctx context.Context, appID string, name string) (domain.Module, error) {
	m.Calls.GetModule = append(m.Calls.GetModule, struct {
		AppID string
		Name  string
	}{AppID: appID, Name: name})
	if m.Impl.GetModule != nil {
		return m.Impl.GetModule(ctx, appID, name)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetModuleByID(ctx context.Context, moduleID string) (domain.Module, error) {
	m.Calls.GetModuleByID = append(m.Calls.GetModuleByID, moduleID)
	if m.Impl.GetModuleByID != nil {
		return m.Impl.GetModuleByID(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListModules(ctx context.Context, appID string) ([]domain.Module, error) {
	m.Calls.ListModules = append(m.Calls.ListModules, appID)
	if m.Impl.ListModules != nil {
		return m.Impl.ListModules(ctx, appID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) SetDefaultModule(ctx context.Context, appID string, moduleID string) error {
	m.Calls.SetDefaultModule = append(m.Calls.SetDefaultModule, struct {
		AppID    string
		ModuleID string
	}{AppID: appID, ModuleID: moduleID})
	if m.Impl.SetDefaultModule != nil {
		return m.Impl.SetDefaultModule(ctx, appID, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) DeleteModule(ctx context.Context, moduleID string) error {
	m.Calls.DeleteModule = append(m.Calls.DeleteModule, moduleID)
	if m.Impl.DeleteModule != nil {
		return m.Impl.DeleteModule(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) UpdateBuildConfig(ctx context.Context, moduleID string, config domain.BuildConfig) error {
	m.Calls.UpdateBuildConfig = append(m.Calls.UpdateBuildConfig, struct {
		ModuleID string
		Config   domain.BuildConfig
	}{ModuleID: moduleID, Config: config})
	if m.Impl.UpdateBuildConfig != nil {
		return m.Impl.UpdateBuildConfig(ctx, moduleID, config)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListEnvironments(ctx context.Context, moduleID string) ([]domain.Environment, error) {
	m.Calls.ListEnvironments = append(m.Calls.ListEnvironments, moduleID)
	if m.Impl.ListEnvironments != nil {
		return m.Impl.ListEnvironments(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetEnvironment(ctx context.Context, envID string) (domain.Environment, error) {
	m.Calls.GetEnvironment = append(m.Calls.GetEnvironment, envID)
	if m.Impl.GetEnvironment != nil {
		return m.Impl.GetEnvironment(ctx, envID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) FindEnvironmentByWorkloadApp(ctx context.Context, wlApp string) (domain.Environment, error) {
	m.Calls.FindEnvironmentByWorkloadApp = append(m.Calls.FindEnvironmentByWorkloadApp, wlApp)
	if m.Impl.FindEnvironmentByWorkloadApp != nil {
		return m.Impl.FindEnvironmentByWorkloadApp(ctx, wlApp)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) SetEnvironmentOffline(ctx context.Context, envID string, offline bool) error {
	m.Calls.SetEnvironmentOffline = append(m.Calls.SetEnvironmentOffline, struct {
		EnvID   string
		Offline bool
	}{EnvID: envID, Offline: offline})
	if m.Impl.SetEnvironmentOffline != nil {
		return m.Impl.SetEnvironmentOffline(ctx, envID, offline)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListProcessSpecs(ctx context.Context, moduleID string) ([]domain.ProcessSpec, error) {
	m.Calls.ListProcessSpecs = append(m.Calls.ListProcessSpecs, moduleID)
	if m.Impl.ListProcessSpecs != nil {
		return m.Impl.ListProcessSpecs(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ReplaceProcessSpecs(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error {
	m.Calls.ReplaceProcessSpecs = append(m.Calls.ReplaceProcessSpecs, struct {
		ModuleID string
		Specs    []domain.ProcessSpec
	}{ModuleID: moduleID, Specs: specs})
	if m.Impl.ReplaceProcessSpecs != nil {
		return m.Impl.ReplaceProcessSpecs(ctx, moduleID, specs)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListDeployHooks(ctx context.Context, moduleID string) ([]domain.DeployHook, error) {
	m.Calls.ListDeployHooks = append(m.Calls.ListDeployHooks, moduleID)
	if m.Impl.ListDeployHooks != nil {
		return m.Impl.ListDeployHooks(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) UpsertDeployHook(ctx context.Context, hook domain.DeployHook) error {
	m.Calls.UpsertDeployHook = append(m.Calls.UpsertDeployHook, hook)
	if m.Impl.UpsertDeployHook != nil {
		return m.Impl.UpsertDeployHook(ctx, hook)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) DeleteDeployHook(ctx context.Context, moduleID string, hookType domain.HookType) error {
	m.Calls.DeleteDeployHook = append(m.Calls.DeleteDeployHook, struct {
		ModuleID string
		Type     domain.HookType
	}{ModuleID: moduleID, Type: hookType})
	if m.Impl.DeleteDeployHook != nil {
		return m.Impl.DeleteDeployHook(ctx, moduleID, hookType)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListMounts(ctx context.Context, moduleID string) ([]domain.Mount, error) {
	m.Calls.ListMounts = append(m.Calls.ListMounts, moduleID)
	if m.Impl.ListMounts != nil {
		return m.Impl.ListMounts(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) UpsertMount(ctx context.Context, mount domain.Mount) error {
	m.Calls.UpsertMount = append(m.Calls.UpsertMount, mount)
	if m.Impl.UpsertMount != nil {
		return m.Impl.UpsertMount(ctx, mount)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) DeleteMount(ctx context.Context, moduleID string, scope domain.EnvScope, mountPath string) error {
	m.Calls.DeleteMount = append(m.Calls.DeleteMount, struct {
		ModuleID  string
		Scope     domain.EnvScope
		MountPath string
	}{ModuleID: moduleID, Scope: scope, MountPath: mountPath})
	if m.Impl.DeleteMount != nil {
		return m.Impl.DeleteMount(ctx, moduleID, scope, mountPath)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ListPresetEnvVars(ctx context.Context, moduleID string) ([]domain.PresetEnvVar, error) {
	m.Calls.ListPresetEnvVars = append(m.Calls.ListPresetEnvVars, moduleID)
	if m.Impl.ListPresetEnvVars != nil {
		return m.Impl.ListPresetEnvVars(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) ReplacePresetEnvVars(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error {
	m.Calls.ReplacePresetEnvVars = append(m.Calls.ReplacePresetEnvVars, struct {
		ModuleID string
		Vars     []domain.PresetEnvVar
	}{ModuleID: moduleID, Vars: vars})
	if m.Impl.ReplacePresetEnvVars != nil {
		return m.Impl.ReplacePresetEnvVars(ctx, moduleID, vars)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) GetSpecExtra(ctx context.Context, moduleID string) (kdb.ModuleSpecExtra, error) {
	m.Calls.GetSpecExtra = append(m.Calls.GetSpecExtra, moduleID)
	if m.Impl.GetSpecExtra != nil {
		return m.Impl.GetSpecExtra(ctx, moduleID)
	}
	panic(notCalled())
}

func (m *ApplicationInterface) SetSpecExtra(ctx context.Context, moduleID string, extra kdb.ModuleSpecExtra) error {
	m.Calls.SetSpecExtra = append(m.Calls.SetSpecExtra, struct {
		ModuleID string
		Extra    kdb.ModuleSpecExtra
	}{ModuleID: moduleID, Extra: extra})
	if m.Impl.SetSpecExtra != nil {
		return m.Impl.SetSpecExtra(ctx, moduleID, extra)
	}
	panic(notCalled())
}
