package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

// ModuleInit is everything created together with a module.
type ModuleInit struct {
	Module domain.Module

	// one per stage.
	Environments []domain.Environment

	ProcessSpecs []domain.ProcessSpec
	Hooks        []domain.DeployHook
}

// ModuleSpecExtra holds module-level fields projected into BkApp.
type ModuleSpecExtra struct {
	SvcDiscovery     []domain.SvcDiscovery
	DomainResolution *domain.DomainResolution
}

type Interface interface {
	// NewApplication creates an application.
	//
	// # Returns
	//
	// - domain.Application: created one, with ID and timestamps.
	//
	// - error: domerr.Conflict when the code is taken.
	NewApplication(ctx context.Context, app domain.Application) (domain.Application, error)

	// GetApplication returns the application with the code.
	//
	// domerr.Missing is returned when not found.
	GetApplication(ctx context.Context, code string) (domain.Application, error)

	GetApplicationByID(ctx context.Context, appID string) (domain.Application, error)

	SetApplicationActive(ctx context.Context, appID string, active bool) error

	// DeleteApplication deletes the application with its modules and their workload apps.
	DeleteApplication(ctx context.Context, appID string) error

	// NewModule creates a module, its environments and workload apps atomically.
	//
	// Workload apps live in the other database than the module.
	// Both are committed or neither.
	NewModule(ctx context.Context, init ModuleInit) (domain.Module, []domain.Environment, error)

	GetModule(ctx context.Context, appID string, name string) (domain.Module, error)
	GetModuleByID(ctx context.Context, moduleID string) (domain.Module, error)

	// ListModules returns modules of the application, the default module first.
	ListModules(ctx context.Context, appID string) ([]domain.Module, error)

	// SetDefaultModule marks the module as default, and others not.
	SetDefaultModule(ctx context.Context, appID string, moduleID string) error

	// DeleteModule deletes the module with its owned entities and workload apps.
	DeleteModule(ctx context.Context, moduleID string) error

	UpdateBuildConfig(ctx context.Context, moduleID string, config domain.BuildConfig) error

	// ListEnvironments returns environments of the module in the order of domain.Stages().
	ListEnvironments(ctx context.Context, moduleID string) ([]domain.Environment, error)
	GetEnvironment(ctx context.Context, envID string) (domain.Environment, error)

	// FindEnvironmentByWorkloadApp looks up the environment whose workload app is wlApp.
	FindEnvironmentByWorkloadApp(ctx context.Context, wlApp string) (domain.Environment, error)

	SetEnvironmentOffline(ctx context.Context, envID string, offline bool) error

	ListProcessSpecs(ctx context.Context, moduleID string) ([]domain.ProcessSpec, error)

	// ReplaceProcessSpecs makes process specs of the module be specs.
	//
	// Processes not in specs are deleted.
	ReplaceProcessSpecs(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error

	ListDeployHooks(ctx context.Context, moduleID string) ([]domain.DeployHook, error)
	UpsertDeployHook(ctx context.Context, hook domain.DeployHook) error
	DeleteDeployHook(ctx context.Context, moduleID string, hookType domain.HookType) error

	ListMounts(ctx context.Context, moduleID string) ([]domain.Mount, error)

	// UpsertMount creates or updates a mount keyed by (module, scope, mount path).
	UpsertMount(ctx context.Context, mount domain.Mount) error
	DeleteMount(ctx context.Context, moduleID string, scope domain.EnvScope, mountPath string) error

	ListPresetEnvVars(ctx context.Context, moduleID string) ([]domain.PresetEnvVar, error)
	ReplacePresetEnvVars(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error

	GetSpecExtra(ctx context.Context, moduleID string) (ModuleSpecExtra, error)
	SetSpecExtra(ctx context.Context, moduleID string, extra ModuleSpecExtra) error
}
