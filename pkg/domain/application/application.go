// Package application manages applications, modules and their environments.
package application

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// LiveWorkloads tells whether a workload app has running workloads.
type LiveWorkloads interface {
	Alive(ctx context.Context, wlApp string) (bool, error)
}

type clusterWorkloads struct {
	cluster k8s.Cluster
}

// WorkloadsOn checks pods of workload apps in the cluster.
//
// Each workload app has its own namespace, named after the workload app.
func WorkloadsOn(cluster k8s.Cluster) LiveWorkloads {
	return &clusterWorkloads{cluster: cluster}
}

func (c *clusterWorkloads) Alive(ctx context.Context, wlApp string) (bool, error) {
	pods, err := c.cluster.FindPods(ctx, wlApp, k8s.AppLabels(wlApp, nil))
	if err != nil {
		if k8s.AsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return len(pods) != 0, nil
}

type Service struct {
	db     kdb.Interface
	live   LiveWorkloads
	region string
	logger *log.Logger
}

type Option func(*Service) *Service

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) *Service {
		s.logger = logger
		return s
	}
}

func New(db kdb.Interface, live LiveWorkloads, region string, options ...Option) *Service {
	s := &Service{
		db:     db,
		live:   live,
		region: region,
		logger: log.New(log.Writer(), "[application] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

// Database returns the repository which this service works with.
func (s *Service) Database() kdb.Interface {
	return s.db
}

type NewApplication struct {
	Code     string
	TenantID string
	Name     string
	Type     domain.AppType
	Owner    string
}

func (s *Service) CreateApplication(ctx context.Context, req NewApplication) (domain.Application, error) {
	if err := ValidateAppCode(req.Code); err != nil {
		return domain.Application{}, err
	}
	if _, err := domain.AsAppType(string(req.Type)); err != nil {
		return domain.Application{}, domerr.Invalid("type", "%s", err)
	}
	if req.Owner == "" {
		return domain.Application{}, domerr.Invalid("owner", "required")
	}
	name := req.Name
	if name == "" {
		name = req.Code
	}
	return s.db.NewApplication(ctx, domain.Application{
		Code:     req.Code,
		TenantID: req.TenantID,
		Region:   s.region,
		Name:     name,
		Type:     req.Type,
		Owner:    req.Owner,
	})
}

func (s *Service) GetApplication(ctx context.Context, code string) (domain.Application, error) {
	return s.db.GetApplication(ctx, code)
}

// NewModule is a request to create a module.
type NewModule struct {
	ApplicationCode string
	Name            string
	SourceOrigin    domain.SourceOrigin
	Repository      *domain.SourceRepository
	BuildConfig     domain.BuildConfig

	// cluster where both environments run.
	Cluster string

	Processes []domain.ProcessSpec
	Hooks     []domain.DeployHook
}

// CreateModule creates a module with its environments (one per stage) and workload apps.
//
// The first module of an application becomes the default module.
func (s *Service) CreateModule(ctx context.Context, req NewModule) (domain.Module, []domain.Environment, error) {
	app, err := s.db.GetApplication(ctx, req.ApplicationCode)
	if err != nil {
		return domain.Module{}, nil, err
	}
	if !app.IsActive {
		return domain.Module{}, nil, xe.Wrap(domerr.Precondition("application %s is offline", app.Code))
	}

	mod := domain.Module{
		ApplicationID: app.ID,
		Name:          req.Name,
		SourceOrigin:  req.SourceOrigin,
		Repository:    req.Repository,
		BuildConfig:   req.BuildConfig,
	}
	if err := ValidateModule(mod); err != nil {
		return domain.Module{}, nil, err
	}
	if err := ValidateProcessSpecs(req.Processes); err != nil {
		return domain.Module{}, nil, err
	}
	if err := ValidateDeployHooks(req.Hooks); err != nil {
		return domain.Module{}, nil, err
	}
	if req.Cluster == "" {
		return domain.Module{}, nil, domerr.Invalid("cluster", "required")
	}

	existing, err := s.db.ListModules(ctx, app.ID)
	if err != nil {
		return domain.Module{}, nil, err
	}
	if slices.ContainsFunc(existing, func(m domain.Module) bool { return m.Name == req.Name }) {
		return domain.Module{}, nil, xe.Wrap(domerr.Conflict{Table: "module", Identity: req.Name})
	}
	mod.IsDefault = len(existing) == 0

	envs := make([]domain.Environment, 0, len(domain.Stages()))
	for _, stage := range domain.Stages() {
		envs = append(envs, domain.Environment{
			Stage:       stage,
			WorkloadApp: domain.WorkloadAppName(app.Code, mod.Name, mod.IsDefault, stage),
			Cluster:     req.Cluster,
		})
	}

	created, createdEnvs, err := s.db.NewModule(ctx, kdb.ModuleInit{
		Module:       mod,
		Environments: envs,
		ProcessSpecs: req.Processes,
		Hooks:        req.Hooks,
	})
	if err != nil {
		return domain.Module{}, nil, err
	}
	s.logger.Printf("module %s/%s is created (default: %t)", app.Code, created.Name, created.IsDefault)
	return created, createdEnvs, nil
}

func (s *Service) GetModule(ctx context.Context, appCode string, name string) (domain.Module, error) {
	app, err := s.db.GetApplication(ctx, appCode)
	if err != nil {
		return domain.Module{}, err
	}
	return s.db.GetModule(ctx, app.ID, name)
}

func (s *Service) ListModules(ctx context.Context, appCode string) ([]domain.Module, error) {
	app, err := s.db.GetApplication(ctx, appCode)
	if err != nil {
		return nil, err
	}
	return s.db.ListModules(ctx, app.ID)
}

func (s *Service) SetDefaultModule(ctx context.Context, appCode string, name string) error {
	mod, err := s.GetModule(ctx, appCode, name)
	if err != nil {
		return err
	}
	if mod.IsDefault {
		return nil
	}
	return s.db.SetDefaultModule(ctx, mod.ApplicationID, mod.ID)
}

// anyAlive reports the first workload app with live workloads.
func (s *Service) anyAlive(ctx context.Context, envs []domain.Environment) (string, error) {
	for _, env := range envs {
		alive, err := s.live.Alive(ctx, env.WorkloadApp)
		if err != nil {
			return "", err
		}
		if alive {
			return env.WorkloadApp, nil
		}
	}
	return "", nil
}

// DeleteModule deletes a module.
//
// The default module can not be deleted, and modules with live workloads neither.
func (s *Service) DeleteModule(ctx context.Context, appCode string, name string) error {
	mod, err := s.GetModule(ctx, appCode, name)
	if err != nil {
		return err
	}
	if mod.IsDefault {
		return xe.Wrap(domerr.Precondition("default module %s can not be deleted", name))
	}
	envs, err := s.db.ListEnvironments(ctx, mod.ID)
	if err != nil {
		return err
	}
	if wl, err := s.anyAlive(ctx, envs); err != nil {
		return err
	} else if wl != "" {
		return xe.Wrap(domerr.Precondition("module %s has live workloads in %s", name, wl))
	}
	return s.db.DeleteModule(ctx, mod.ID)
}

// MarkOffline soft-deletes an application.
//
// All environments are marked offline, then the application becomes inactive.
func (s *Service) MarkOffline(ctx context.Context, appCode string) error {
	app, err := s.db.GetApplication(ctx, appCode)
	if err != nil {
		return err
	}
	mods, err := s.db.ListModules(ctx, app.ID)
	if err != nil {
		return err
	}
	for _, m := range mods {
		envs, err := s.db.ListEnvironments(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, e := range envs {
			if e.IsOffline {
				continue
			}
			if err := s.db.SetEnvironmentOffline(ctx, e.ID, true); err != nil {
				return err
			}
		}
	}
	return s.db.SetApplicationActive(ctx, app.ID, false)
}

// DeleteApplication deletes an application permanently.
//
// It is forbidden while any environment has live workloads.
func (s *Service) DeleteApplication(ctx context.Context, appCode string) error {
	app, err := s.db.GetApplication(ctx, appCode)
	if err != nil {
		return err
	}
	mods, err := s.db.ListModules(ctx, app.ID)
	if err != nil {
		return err
	}
	for _, m := range mods {
		envs, err := s.db.ListEnvironments(ctx, m.ID)
		if err != nil {
			return err
		}
		if wl, err := s.anyAlive(ctx, envs); err != nil {
			return err
		} else if wl != "" {
			return xe.Wrap(domerr.Precondition("application %s has live workloads in %s", appCode, wl))
		}
	}
	return s.db.DeleteApplication(ctx, app.ID)
}

// SyncProcessSpecs replaces processes of the module.
func (s *Service) SyncProcessSpecs(ctx context.Context, moduleID string, specs []domain.ProcessSpec) error {
	if err := ValidateProcessSpecs(specs); err != nil {
		return err
	}
	return s.db.ReplaceProcessSpecs(ctx, moduleID, specs)
}

func (s *Service) UpdateBuildConfig(ctx context.Context, moduleID string, config domain.BuildConfig) error {
	mod, err := s.db.GetModuleByID(ctx, moduleID)
	if err != nil {
		return err
	}
	mod.BuildConfig = config
	if err := ValidateModule(mod); err != nil {
		return err
	}
	return s.db.UpdateBuildConfig(ctx, moduleID, config)
}

func (s *Service) UpsertDeployHook(ctx context.Context, hook domain.DeployHook) error {
	if err := ValidateDeployHooks([]domain.DeployHook{hook}); err != nil {
		return err
	}
	return s.db.UpsertDeployHook(ctx, hook)
}

// UpsertMount creates or updates a mount.
//
// Another mount with the same name in the same scope is a conflict.
func (s *Service) UpsertMount(ctx context.Context, mount domain.Mount) error {
	if err := ValidateMount(mount); err != nil {
		return err
	}
	current, err := s.db.ListMounts(ctx, mount.ModuleID)
	if err != nil {
		return err
	}
	others := slices.DeleteFunc(current, func(m domain.Mount) bool {
		return m.Scope == mount.Scope && m.MountPath == mount.MountPath
	})
	if slices.ContainsFunc(others, func(m domain.Mount) bool {
		return m.Scope == mount.Scope && m.Name == mount.Name
	}) {
		return xe.Wrap(domerr.Conflict{Table: "mount", Identity: mount.Name})
	}
	return s.db.UpsertMount(ctx, mount)
}

func (s *Service) DeleteMount(ctx context.Context, moduleID string, scope domain.EnvScope, mountPath string) error {
	return s.db.DeleteMount(ctx, moduleID, scope, mountPath)
}

// ReplacePresetEnvVars replaces env vars declared in the module definition.
func (s *Service) ReplacePresetEnvVars(ctx context.Context, moduleID string, vars []domain.PresetEnvVar) error {
	errs := domerr.ValidationErrors{}
	for i, v := range vars {
		if err := ValidateEnvVarKey(v.Key); err != nil {
			errs = append(errs, domerr.ValidationError{
				Field: fmt.Sprintf("env_variables[%d].key", i), Reason: err.Error(),
			})
		}
		if _, err := domain.AsEnvScope(string(v.Scope)); err != nil {
			errs = append(errs, domerr.ValidationError{
				Field: fmt.Sprintf("env_variables[%d].environment_name", i), Reason: err.Error(),
			})
		}
	}
	if err := errs.OrNil(); err != nil {
		return err
	}
	return s.db.ReplacePresetEnvVars(ctx, moduleID, vars)
}

func (s *Service) SetSpecExtra(ctx context.Context, moduleID string, extra kdb.ModuleSpecExtra) error {
	errs := domerr.ValidationErrors{}
	for i, sd := range extra.SvcDiscovery {
		if sd.BkAppCode == "" {
			errs = append(errs, domerr.ValidationError{
				Field: fmt.Sprintf("svc_discovery[%d].bk_app_code", i), Reason: "required",
			})
		}
	}
	if dr := extra.DomainResolution; dr != nil {
		for i, ha := range dr.HostAliases {
			if ha.IP == "" || len(ha.Hostnames) == 0 {
				errs = append(errs, domerr.ValidationError{
					Field: fmt.Sprintf("domain_resolution.host_aliases[%d]", i), Reason: "ip and hostnames are required",
				})
			}
		}
	}
	if err := errs.OrNil(); err != nil {
		return err
	}
	return s.db.SetSpecExtra(ctx, moduleID, extra)
}
