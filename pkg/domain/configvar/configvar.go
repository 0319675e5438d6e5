// Package configvar resolves environment variables of workload apps.
//
// Variables are layered in increasing precedence:
//
//  1. preset global (module definition)
//  2. preset per stage
//  3. user global
//  4. user per environment
//  5. exported by add-ons
//  6. platform builtins
package configvar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/configvar/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Point is the lifecycle point where variables are used.
type Point string

const (
	PointBuild   Point = "build"
	PointRuntime Point = "runtime"
)

// ValidateKey checks a key given by users.
func ValidateKey(key string) error {
	if err := application.ValidateEnvVarKey(key); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// Declarations are variables declared in the module definition.
//
// The application repository satisfies it.
type Declarations interface {
	ListPresetEnvVars(ctx context.Context, moduleID string) ([]domain.PresetEnvVar, error)
	GetSpecExtra(ctx context.Context, moduleID string) (appdb.ModuleSpecExtra, error)
}

// AddonExporter exports credentials of add-on instances attached to the environment.
type AddonExporter interface {
	ExportEnvVars(ctx context.Context, moduleID string, env domain.Environment) (map[string]string, error)
}

// Target is the environment to resolve variables for.
type Target struct {
	App    domain.Application
	Module domain.Module
	Env    domain.Environment
}

type Resolver struct {
	declarations Declarations
	vars         kdb.Interface
	addons       AddonExporter
	builtins     Builtins

	// true when user variables take precedence over add-on variables.
	userOverridesAddons bool
}

type ResolverOption func(*Resolver) *Resolver

// WithAddons adds variables exported by add-ons.
func WithAddons(addons AddonExporter) ResolverOption {
	return func(r *Resolver) *Resolver {
		r.addons = addons
		return r
	}
}

// WithUserOverridesAddons puts user variables above add-on variables.
func WithUserOverridesAddons() ResolverOption {
	return func(r *Resolver) *Resolver {
		r.userOverridesAddons = true
		return r
	}
}

func NewResolver(declarations Declarations, vars kdb.Interface, builtins Builtins, options ...ResolverOption) *Resolver {
	r := &Resolver{declarations: declarations, vars: vars, builtins: builtins}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

// Layers are variables declared by the module definition and users.
type Layers struct {
	// preset global overlaid with user global.
	Global Env

	// preset per stage overlaid with user per environment.
	//
	// Preset variables shadowed by a user global variable are left out,
	// so that the user global one takes effect in the stage.
	Stages map[domain.Stage]Env
}

// ForStage returns the Global overlaid with the stage.
func (l Layers) ForStage(stage domain.Stage) Env {
	env := Env{}
	env.Merge(l.Global)
	env.Merge(l.Stages[stage])
	return env
}

// Declared returns layers 1-4 for environments of the module.
func (r *Resolver) Declared(ctx context.Context, module domain.Module, envs []domain.Environment) (Layers, error) {
	presets, err := r.declarations.ListPresetEnvVars(ctx, module.ID)
	if err != nil {
		return Layers{}, err
	}
	userVars, err := r.vars.List(ctx, module.ID)
	if err != nil {
		return Layers{}, err
	}

	layers := Layers{Stages: map[domain.Stage]Env{}}

	userGlobal := Env{}
	for _, v := range userVars {
		if v.Scope == domain.EnvScopeGlobal {
			userGlobal.Set(Var{Key: v.Key, Value: v.Value, Sensitive: v.IsSensitive, Source: SourceUser})
		}
	}

	for _, p := range presets {
		if p.Scope != domain.EnvScopeGlobal {
			continue
		}
		layers.Global.Set(Var{Key: p.Key, Value: p.Value, Source: SourcePreset})
	}
	layers.Global.Merge(userGlobal)

	for _, env := range envs {
		e := Env{}
		for _, p := range presets {
			if p.Scope != domain.ScopeOf(env.Stage) || userGlobal.Has(p.Key) {
				continue
			}
			e.Set(Var{Key: p.Key, Value: p.Value, Source: SourcePreset})
		}
		for _, v := range userVars {
			if v.Scope != domain.EnvScopeGlobal && v.EnvironmentID == env.ID {
				e.Set(Var{Key: v.Key, Value: v.Value, Sensitive: v.IsSensitive, Source: SourceUser})
			}
		}
		layers.Stages[env.Stage] = e
	}
	return layers, nil
}

func (r *Resolver) addonVars(ctx context.Context, t Target) (Env, error) {
	env := Env{}
	if r.addons == nil {
		return env, nil
	}
	exported, err := r.addons.ExportEnvVars(ctx, t.Module.ID, t.Env)
	if err != nil {
		return Env{}, err
	}
	keys := make([]string, 0, len(exported))
	for k := range exported {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.Set(Var{Key: k, Value: exported[k], Sensitive: true, Source: SourceAddon})
	}
	return env, nil
}

// Builtin returns layer 6 for the target.
func (r *Resolver) Builtin(ctx context.Context, t Target, point Point) (Env, error) {
	var discovery []domain.SvcDiscovery
	if point == PointRuntime {
		extra, err := r.declarations.GetSpecExtra(ctx, t.Module.ID)
		if err != nil && !errors.Is(err, domerr.ErrNotFound) {
			return Env{}, err
		}
		discovery = extra.SvcDiscovery
	}
	env, err := r.builtins.platform(ctx, t, point, discovery)
	if err != nil {
		return Env{}, err
	}
	env.Merge(r.builtins.runtime(t))
	return env, nil
}

// Resolve computes the final variables of the environment at the point.
func (r *Resolver) Resolve(ctx context.Context, t Target, point Point) (Env, error) {
	layers, err := r.Declared(ctx, t.Module, []domain.Environment{t.Env})
	if err != nil {
		return Env{}, err
	}
	addons, err := r.addonVars(ctx, t)
	if err != nil {
		return Env{}, err
	}
	builtin, err := r.Builtin(ctx, t, point)
	if err != nil {
		return Env{}, err
	}

	env := Env{}
	if r.userOverridesAddons {
		env.Merge(addons)
		env.Merge(layers.ForStage(t.Env.Stage))
	} else {
		env.Merge(layers.ForStage(t.Env.Stage))
		env.Merge(addons)
	}
	env.Merge(builtin)
	return env, nil
}

// Injected returns layers 5 and 6, which are added on deploy to declared variables.
//
// When user variables take precedence over add-ons,
// add-on variables which collide with user variables are left out.
func (r *Resolver) Injected(ctx context.Context, t Target, point Point) (Env, error) {
	addons, err := r.addonVars(ctx, t)
	if err != nil {
		return Env{}, err
	}
	builtin, err := r.Builtin(ctx, t, point)
	if err != nil {
		return Env{}, err
	}

	env := Env{}
	if r.userOverridesAddons {
		layers, err := r.Declared(ctx, t.Module, []domain.Environment{t.Env})
		if err != nil {
			return Env{}, err
		}
		declared := layers.ForStage(t.Env.Stage)
		for _, v := range addons.Vars() {
			if !declared.Has(v.Key) {
				env.Set(v)
			}
		}
	} else {
		env.Merge(addons)
	}
	env.Merge(builtin)
	return env, nil
}

type ConflictedSource string

const (
	ConflictBuiltinPlatform ConflictedSource = "builtin_platform"
	ConflictBuiltinAddons   ConflictedSource = "builtin_addons"
	ConflictBuiltinRuntime  ConflictedSource = "builtin_runtime"
)

// Conflict is a user variable colliding with a builtin or add-on variable.
type Conflict struct {
	Key              string
	ConflictedSource ConflictedSource

	// true when the user value takes effect.
	OverrideConflicted bool
}

// Conflicts lists user variables of the environment which collide with other layers.
func (r *Resolver) Conflicts(ctx context.Context, t Target) ([]Conflict, error) {
	userVars, err := r.vars.List(ctx, t.Module.ID)
	if err != nil {
		return nil, err
	}
	addons, err := r.addonVars(ctx, t)
	if err != nil {
		return nil, err
	}
	builtin, err := r.Builtin(ctx, t, PointRuntime)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	conflicts := []Conflict{}
	for _, v := range userVars {
		if v.Scope != domain.EnvScopeGlobal && v.EnvironmentID != t.Env.ID {
			continue
		}
		if _, ok := seen[v.Key]; ok {
			continue
		}
		seen[v.Key] = struct{}{}

		if b, ok := builtin.Get(v.Key); ok {
			src := ConflictBuiltinPlatform
			if b.Source == SourceBuiltinRuntime {
				src = ConflictBuiltinRuntime
			}
			conflicts = append(conflicts, Conflict{Key: v.Key, ConflictedSource: src})
			continue
		}
		if addons.Has(v.Key) {
			conflicts = append(conflicts, Conflict{
				Key:                v.Key,
				ConflictedSource:   ConflictBuiltinAddons,
				OverrideConflicted: r.userOverridesAddons,
			})
		}
	}
	slices.SortFunc(conflicts, func(a, b Conflict) int { return strings.Compare(a.Key, b.Key) })
	return conflicts, nil
}

// Service manages user variables.
type Service struct {
	vars     kdb.Interface
	resolver *Resolver
	logger   *log.Logger
}

type Option func(*Service) *Service

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) *Service {
		s.logger = logger
		return s
	}
}

func NewService(vars kdb.Interface, resolver *Resolver, options ...Option) *Service {
	s := &Service{
		vars:     vars,
		resolver: resolver,
		logger:   log.New(log.Writer(), "[configvar] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

// builtinKeys are keys reserved by the platform regardless of the app.
var builtinKeys = []string{
	KeyAppID, KeyAppSecret, KeyLoginURL, KeyDocsURLPrefix, KeyPreallocatedURLs, KeyServiceAddresses,
	KeyEnvironment, KeyModuleName, KeyEngineRegion, KeyMajorVersion,
}

// IsBuiltinKey reports whether key is reserved by the platform.
func IsBuiltinKey(key string) bool {
	return slices.Contains(builtinKeys, key)
}

// Upsert saves a user variable.
//
// A key reserved by the platform is saved, but never takes effect.
// Such keys are reported as warnings.
func (s *Service) Upsert(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, []string, error) {
	if err := ValidateKey(v.Key); err != nil {
		return domain.ConfigVar{}, nil, err
	}
	if _, err := domain.AsEnvScope(string(v.Scope)); err != nil {
		return domain.ConfigVar{}, nil, xe.Wrap(domerr.Invalid("environment_name", "%s", err))
	}
	if v.Scope != domain.EnvScopeGlobal && v.EnvironmentID == "" {
		return domain.ConfigVar{}, nil, xe.Wrap(domerr.Invalid("environment_id", "required for scope %s", v.Scope))
	}
	if v.Scope == domain.EnvScopeGlobal {
		v.EnvironmentID = ""
	}
	v.IsBuiltin = false

	var warnings []string
	if IsBuiltinKey(v.Key) {
		warnings = append(warnings, fmt.Sprintf("conflicted key: %s is a builtin variable and will be overridden", v.Key))
		s.logger.Printf("module %s: user variable %s conflicts with a builtin", v.ModuleID, v.Key)
	}

	saved, err := s.vars.Upsert(ctx, v)
	if err != nil {
		return domain.ConfigVar{}, nil, err
	}
	return saved, warnings, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.vars.Delete(ctx, id)
}

// List returns user variables of the module.
//
// When redact is true, sensitive variables are excluded.
func (s *Service) List(ctx context.Context, moduleID string, redact bool) ([]domain.ConfigVar, error) {
	vars, err := s.vars.List(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if !redact {
		return vars, nil
	}
	return slices.DeleteFunc(vars, func(v domain.ConfigVar) bool { return v.IsSensitive }), nil
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

type exportedVar struct {
	Key             string `yaml:"key"`
	Value           string `yaml:"value"`
	EnvironmentName string `yaml:"environment_name"`
	Description     string `yaml:"description,omitempty"`
}

type exportFile struct {
	EnvVariables []exportedVar `yaml:"env_variables"`
}

// Export renders user variables as a YAML document.
//
// When redact is true, sensitive variables are excluded.
func Export(vars []domain.ConfigVar, redact bool) ([]byte, error) {
	f := exportFile{EnvVariables: []exportedVar{}}
	for _, v := range vars {
		if redact && v.IsSensitive {
			continue
		}
		f.EnvVariables = append(f.EnvVariables, exportedVar{
			Key:             v.Key,
			Value:           v.Value,
			EnvironmentName: string(v.Scope),
			Description:     v.Description,
		})
	}
	b, err := yaml.Marshal(f)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return b, nil
}
