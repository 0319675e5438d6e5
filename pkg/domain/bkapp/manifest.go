package bkapp

import (
	"context"
	"errors"
	"log"
	"slices"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Manifest is a submission of module declarations.
//
// nil fields are absent from the submission.
type Manifest struct {
	Processes        []domain.ProcessSpec
	Hooks            []domain.DeployHook
	EnvVars          []domain.PresetEnvVar
	Mounts           []domain.Mount
	SvcDiscovery     []domain.SvcDiscovery
	DomainResolution *domain.DomainResolution
}

// Validate checks fields present in the manifest.
func (m Manifest) Validate() error {
	var errs []error
	if m.Processes != nil {
		errs = append(errs, application.ValidateProcessSpecs(m.Processes))
	}
	if m.Hooks != nil {
		errs = append(errs, application.ValidateDeployHooks(m.Hooks))
	}
	if m.Mounts != nil {
		errs = append(errs, application.ValidateMounts(m.Mounts))
	}
	for _, v := range m.EnvVars {
		errs = append(errs, application.ValidateEnvVarKey(v.Key))
	}
	if err := errors.Join(errs...); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// Applied tells what ApplyManifest did for each field.
type Applied struct {
	Written []Field

	// present in the manifest, but owned by another source.
	Skipped []Field

	// absent from the manifest, and cleared since the source owned it.
	Cleared []Field
}

// BoundAddons lists add-ons bound to the module.
type BoundAddons interface {
	AddonRefs(ctx context.Context, moduleID string) ([]AddonRef, error)
}

// Transactor runs f with repositories bound to a single transaction.
type Transactor interface {
	InTx(ctx context.Context, f func(apps appdb.Interface, fields kdb.Interface) error) error
}

type Service struct {
	apps             appdb.Interface
	fields           *FieldManager
	tx               Transactor
	resolver         *configvar.Resolver
	addons           BoundAddons
	runnerEntrypoint []string
	logger           *log.Logger
}

type Option func(*Service) *Service

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) *Service {
		s.logger = logger
		return s
	}
}

// WithTransactor makes ApplyManifest all or nothing.
func WithTransactor(tx Transactor) Option {
	return func(s *Service) *Service {
		s.tx = tx
		return s
	}
}

// WithAddons adds bound add-ons into manifests.
func WithAddons(addons BoundAddons) Option {
	return func(s *Service) *Service {
		s.addons = addons
		return s
	}
}

func NewService(
	apps appdb.Interface,
	fields kdb.Interface,
	resolver *configvar.Resolver,
	runnerEntrypoint []string,
	options ...Option,
) *Service {
	s := &Service{
		apps:             apps,
		fields:           NewFieldManager(fields),
		resolver:         resolver,
		runnerEntrypoint: runnerEntrypoint,
		logger:           log.New(log.Writer(), "[bkapp] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

func (s *Service) FieldManager() *FieldManager {
	return s.fields
}

type fieldWriter struct {
	field   Field
	present bool
	write   func(ctx context.Context) error
	clear   func(ctx context.Context) error
}

// ApplyManifest writes the manifest from source into the module.
//
// A field owned by another source is left as it is.
// A field absent from the manifest is cleared only when source owns it.
//
// With a Transactor, fields and their managers are written in one transaction.
func (s *Service) ApplyManifest(ctx context.Context, moduleID string, source Source, m Manifest) (Applied, error) {
	if err := m.Validate(); err != nil {
		return Applied{}, err
	}
	if s.tx == nil {
		return s.applyManifest(ctx, moduleID, source, m)
	}

	var applied Applied
	err := s.tx.InTx(ctx, func(apps appdb.Interface, fields kdb.Interface) error {
		bound := *s
		bound.apps = apps
		bound.fields = NewFieldManager(fields)
		a, err := bound.applyManifest(ctx, moduleID, source, m)
		if err != nil {
			return err
		}
		applied = a
		return nil
	})
	if err != nil {
		return Applied{}, err
	}
	return applied, nil
}

func (s *Service) applyManifest(ctx context.Context, moduleID string, source Source, m Manifest) (Applied, error) {
	writers := []fieldWriter{
		{
			field:   FieldProcesses,
			present: m.Processes != nil,
			write: func(ctx context.Context) error {
				return s.apps.ReplaceProcessSpecs(ctx, moduleID, m.Processes)
			},
			clear: func(ctx context.Context) error {
				return s.apps.ReplaceProcessSpecs(ctx, moduleID, []domain.ProcessSpec{})
			},
		},
		{
			field:   FieldHooks,
			present: m.Hooks != nil,
			write: func(ctx context.Context) error {
				return s.replaceHooks(ctx, moduleID, m.Hooks)
			},
			clear: func(ctx context.Context) error {
				return s.replaceHooks(ctx, moduleID, nil)
			},
		},
		{
			field:   FieldEnvVars,
			present: m.EnvVars != nil,
			write: func(ctx context.Context) error {
				return s.apps.ReplacePresetEnvVars(ctx, moduleID, m.EnvVars)
			},
			clear: func(ctx context.Context) error {
				return s.apps.ReplacePresetEnvVars(ctx, moduleID, []domain.PresetEnvVar{})
			},
		},
		{
			field:   FieldMounts,
			present: m.Mounts != nil,
			write: func(ctx context.Context) error {
				return s.replaceMounts(ctx, moduleID, m.Mounts)
			},
			clear: func(ctx context.Context) error {
				return s.replaceMounts(ctx, moduleID, nil)
			},
		},
		{
			field:   FieldSvcDiscovery,
			present: m.SvcDiscovery != nil,
			write: func(ctx context.Context) error {
				return s.updateSpecExtra(ctx, moduleID, func(e *appdb.ModuleSpecExtra) { e.SvcDiscovery = m.SvcDiscovery })
			},
			clear: func(ctx context.Context) error {
				return s.updateSpecExtra(ctx, moduleID, func(e *appdb.ModuleSpecExtra) { e.SvcDiscovery = nil })
			},
		},
		{
			field:   FieldDomainResolution,
			present: m.DomainResolution != nil,
			write: func(ctx context.Context) error {
				return s.updateSpecExtra(ctx, moduleID, func(e *appdb.ModuleSpecExtra) { e.DomainResolution = m.DomainResolution })
			},
			clear: func(ctx context.Context) error {
				return s.updateSpecExtra(ctx, moduleID, func(e *appdb.ModuleSpecExtra) { e.DomainResolution = nil })
			},
		},
	}

	applied := Applied{}
	for _, w := range writers {
		if !w.present {
			cleared, err := s.fields.Reset(ctx, moduleID, w.field, source)
			if err != nil {
				return applied, err
			}
			if !cleared {
				continue
			}
			if err := w.clear(ctx); err != nil {
				return applied, err
			}
			applied.Cleared = append(applied.Cleared, w.field)
			continue
		}

		ok, err := s.fields.Set(ctx, moduleID, w.field, source)
		if err != nil {
			return applied, err
		}
		if !ok {
			s.logger.Printf("module %s: %s is owned by another source. %s is skipped", moduleID, w.field, source)
			applied.Skipped = append(applied.Skipped, w.field)
			continue
		}
		if err := w.write(ctx); err != nil {
			return applied, err
		}
		applied.Written = append(applied.Written, w.field)
	}
	return applied, nil
}

func (s *Service) replaceHooks(ctx context.Context, moduleID string, hooks []domain.DeployHook) error {
	current, err := s.apps.ListDeployHooks(ctx, moduleID)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		h.ModuleID = moduleID
		if err := s.apps.UpsertDeployHook(ctx, h); err != nil {
			return err
		}
	}
	for _, c := range current {
		if slices.ContainsFunc(hooks, func(h domain.DeployHook) bool { return h.Type == c.Type }) {
			continue
		}
		if err := s.apps.DeleteDeployHook(ctx, moduleID, c.Type); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) replaceMounts(ctx context.Context, moduleID string, mounts []domain.Mount) error {
	current, err := s.apps.ListMounts(ctx, moduleID)
	if err != nil {
		return err
	}
	for _, c := range current {
		if slices.ContainsFunc(mounts, func(m domain.Mount) bool {
			return m.Scope == c.Scope && m.MountPath == c.MountPath
		}) {
			continue
		}
		if err := s.apps.DeleteMount(ctx, moduleID, c.Scope, c.MountPath); err != nil {
			return err
		}
	}
	for _, m := range mounts {
		m.ModuleID = moduleID
		if err := s.apps.UpsertMount(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) updateSpecExtra(ctx context.Context, moduleID string, update func(*appdb.ModuleSpecExtra)) error {
	extra, err := s.apps.GetSpecExtra(ctx, moduleID)
	if err != nil && !errors.Is(err, domerr.ErrNotFound) {
		return err
	}
	update(&extra)
	return s.apps.SetSpecExtra(ctx, moduleID, extra)
}

// Input collects declarations of the module.
func (s *Service) Input(ctx context.Context, app domain.Application, module domain.Module) (RenderInput, error) {
	in := RenderInput{App: app, Module: module, RunnerEntrypoint: s.runnerEntrypoint}

	var err error
	if in.Processes, err = s.apps.ListProcessSpecs(ctx, module.ID); err != nil {
		return RenderInput{}, err
	}
	if in.Hooks, err = s.apps.ListDeployHooks(ctx, module.ID); err != nil {
		return RenderInput{}, err
	}
	if in.Mounts, err = s.apps.ListMounts(ctx, module.ID); err != nil {
		return RenderInput{}, err
	}
	envs, err := s.apps.ListEnvironments(ctx, module.ID)
	if err != nil {
		return RenderInput{}, err
	}
	if in.Vars, err = s.resolver.Declared(ctx, module, envs); err != nil {
		return RenderInput{}, err
	}
	extra, err := s.apps.GetSpecExtra(ctx, module.ID)
	if err != nil && !errors.Is(err, domerr.ErrNotFound) {
		return RenderInput{}, err
	}
	in.SvcDiscovery = extra.SvcDiscovery
	in.DomainResolution = extra.DomainResolution

	if s.addons != nil {
		if in.Addons, err = s.addons.AddonRefs(ctx, module.ID); err != nil {
			return RenderInput{}, err
		}
	}
	return in, nil
}

// Manifest renders the module manifest.
func (s *Service) Manifest(ctx context.Context, app domain.Application, module domain.Module) (BkApp, error) {
	in, err := s.Input(ctx, app, module)
	if err != nil {
		return BkApp{}, err
	}
	return Render(in)
}

// ForDeploy renders a BkApp to be applied in the environment of the target.
//
// Injected variables are resolved here. Variables given in d.Injected win against them.
func (s *Service) ForDeploy(ctx context.Context, t configvar.Target, d DeployInput) (BkApp, error) {
	in, err := s.Input(ctx, t.App, t.Module)
	if err != nil {
		return BkApp{}, err
	}
	d.Env = t.Env
	injected, err := s.resolver.Injected(ctx, t, configvar.PointRuntime)
	if err != nil {
		return BkApp{}, err
	}
	injected.Merge(d.Injected)
	d.Injected = injected
	return RenderForDeploy(in, d)
}
