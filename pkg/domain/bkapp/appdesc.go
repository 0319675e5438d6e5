package bkapp

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// AppDesc is the module definition file shipped in source packages.
type AppDesc struct {
	SpecVersion int
	AppCode     string
	AppVersion  string
	Modules     []ModuleDesc
}

// Module returns the module named so.
func (a AppDesc) Module(name string) (ModuleDesc, bool) {
	for _, m := range a.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleDesc{}, false
}

type ModuleDesc struct {
	Name      string
	IsDefault bool
	SourceDir string
	Language  string
	Manifest  Manifest
}

// ErrAppDescNotFound is returned when the source package has no module definition file.
var ErrAppDescNotFound = errors.New("app description is not found")

// file names of module definitions, in order of preference.
var appDescFiles = []string{"app_desc.yaml", "app_desc.yml", "app.yaml", "app.yml"}

// size limit of module definition files.
const maxAppDescSize = 1 << 20

// ReadAppDesc reads the module definition in the source directory of a tar.gz package.
func ReadAppDesc(r io.Reader, sourceDir string) (AppDesc, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return AppDesc{}, xe.Wrap(domerr.Invalid("source_package", "not gzipped: %s", err))
	}
	defer gz.Close()

	dir := path.Clean(strings.TrimPrefix(sourceDir, "/"))
	found := map[string][]byte{}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return AppDesc{}, xe.Wrap(domerr.Invalid("source_package", "broken tar: %s", err))
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if path.Dir(name) != dir {
			continue
		}
		base := path.Base(name)
		if !isAppDescFile(base) {
			continue
		}
		if hdr.Size > maxAppDescSize {
			return AppDesc{}, xe.Wrap(domerr.Invalid(base, "too large (%d bytes)", hdr.Size))
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxAppDescSize))
		if err != nil {
			return AppDesc{}, xe.Wrap(err)
		}
		found[base] = data
	}

	for _, f := range appDescFiles {
		if data, ok := found[f]; ok {
			return ParseAppDesc(data)
		}
	}
	return AppDesc{}, xe.Wrap(ErrAppDescNotFound)
}

func isAppDescFile(name string) bool {
	for _, f := range appDescFiles {
		if f == name {
			return true
		}
	}
	return false
}

// ParseAppDesc parses a module definition of spec version 2 or 3.
func ParseAppDesc(data []byte) (AppDesc, error) {
	var version struct {
		SpecVersion int `yaml:"specVersion"`
		Legacy      int `yaml:"spec_version"`
	}
	if err := yaml.Unmarshal(data, &version); err != nil {
		return AppDesc{}, xe.Wrap(domerr.Invalid("app_desc", "not yaml: %s", err))
	}
	switch {
	case version.SpecVersion == 3:
		return parseV3(data)
	case version.Legacy == 2:
		return parseV2(data)
	default:
		return AppDesc{}, xe.Wrap(domerr.Invalid("app_desc", "unsupported spec version"))
	}
}

type v3Doc struct {
	SpecVersion int    `yaml:"specVersion"`
	AppVersion  string `yaml:"appVersion"`
	App         struct {
		BkAppCode string `yaml:"bkAppCode"`
	} `yaml:"app"`
	Modules []v3Module `yaml:"modules"`

	// for single module apps.
	Module *v3Module `yaml:"module"`
}

type v3Module struct {
	Name      string `yaml:"name"`
	IsDefault bool   `yaml:"isDefault"`
	SourceDir string `yaml:"sourceDir"`
	Language  string `yaml:"language"`
	Spec      v3Spec `yaml:"spec"`
}

type v3Spec struct {
	Processes []v3Process `yaml:"processes"`
	Hooks     *struct {
		PreRelease *v3Hook `yaml:"preRelease"`
	} `yaml:"hooks"`
	Configuration *struct {
		Env []v3Env `yaml:"env"`
	} `yaml:"configuration"`
	EnvOverlay *struct {
		EnvVariables []v3EnvOverlay `yaml:"envVariables"`
		Replicas     []struct {
			EnvName string `yaml:"envName"`
			Process string `yaml:"process"`
			Count   int32  `yaml:"count"`
		} `yaml:"replicas"`
	} `yaml:"envOverlay"`
	SvcDiscovery *struct {
		BkSaaS []struct {
			BkAppCode  string `yaml:"bkAppCode"`
			ModuleName string `yaml:"moduleName"`
		} `yaml:"bkSaaS"`
	} `yaml:"svcDiscovery"`
	DomainResolution *struct {
		Nameservers []string `yaml:"nameservers"`
		HostAliases []struct {
			IP        string   `yaml:"ip"`
			Hostnames []string `yaml:"hostnames"`
		} `yaml:"hostAliases"`
	} `yaml:"domainResolution"`
}

type v3Process struct {
	Name         string         `yaml:"name"`
	Replicas     *int32         `yaml:"replicas"`
	ResQuotaPlan string         `yaml:"resQuotaPlan"`
	ProcCommand  string         `yaml:"procCommand"`
	Command      []string       `yaml:"command"`
	Args         []string       `yaml:"args"`
	TargetPort   int32          `yaml:"targetPort"`
	Probes       map[string]any `yaml:"probes"`
	Services     []struct {
		Name        string `yaml:"name"`
		TargetPort  int32  `yaml:"targetPort"`
		Protocol    string `yaml:"protocol"`
		Port        int32  `yaml:"port"`
		ExposedType *struct {
			Name string `yaml:"name"`
		} `yaml:"exposedType"`
	} `yaml:"services"`
	Autoscaling *struct {
		MinReplicas int32  `yaml:"minReplicas"`
		MaxReplicas int32  `yaml:"maxReplicas"`
		Policy      string `yaml:"policy"`
	} `yaml:"autoscaling"`
}

type v3Hook struct {
	ProcCommand string   `yaml:"procCommand"`
	Command     []string `yaml:"command"`
	Args        []string `yaml:"args"`
}

type v3Env struct {
	Name        string `yaml:"name"`
	Value       string `yaml:"value"`
	Description string `yaml:"description"`
}

type v3EnvOverlay struct {
	EnvName string `yaml:"envName"`
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
}

func parseV3(data []byte) (AppDesc, error) {
	doc := v3Doc{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return AppDesc{}, xe.Wrap(domerr.Invalid("app_desc", "%s", err))
	}
	modules := doc.Modules
	if doc.Module != nil {
		m := *doc.Module
		m.IsDefault = true
		if m.Name == "" {
			m.Name = "default"
		}
		modules = append(modules, m)
	}

	desc := AppDesc{SpecVersion: 3, AppCode: doc.App.BkAppCode, AppVersion: doc.AppVersion}
	for _, m := range modules {
		manifest, err := m.Spec.manifest()
		if err != nil {
			return AppDesc{}, err
		}
		desc.Modules = append(desc.Modules, ModuleDesc{
			Name:      m.Name,
			IsDefault: m.IsDefault,
			SourceDir: m.SourceDir,
			Language:  m.Language,
			Manifest:  manifest,
		})
	}
	return desc, nil
}

func (s v3Spec) manifest() (Manifest, error) {
	m := Manifest{}

	if s.Processes != nil {
		m.Processes = []domain.ProcessSpec{}
	}
	for _, p := range s.Processes {
		spec := domain.ProcessSpec{
			Name:           p.Name,
			Command:        p.Command,
			Args:           p.Args,
			ProcCommand:    p.ProcCommand,
			TargetPort:     p.TargetPort,
			ResQuotaPlan:   p.ResQuotaPlan,
			TargetReplicas: 1,
		}
		if p.Replicas != nil {
			spec.TargetReplicas = *p.Replicas
		}
		if p.Probes != nil {
			probes, err := probesOf(p.Probes)
			if err != nil {
				return Manifest{}, err
			}
			spec.Probes = probes
		}
		for _, svc := range p.Services {
			ps := domain.ProcService{Name: svc.Name, TargetPort: svc.TargetPort, Protocol: svc.Protocol, Port: svc.Port}
			if svc.ExposedType != nil {
				ps.ExposedType = &domain.ExposedType{Name: domain.ExposedTypeName(svc.ExposedType.Name)}
			}
			spec.Services = append(spec.Services, ps)
		}
		if a := p.Autoscaling; a != nil {
			spec.Autoscaling = &domain.Autoscaling{
				MinReplicas: a.MinReplicas, MaxReplicas: a.MaxReplicas, Policy: domain.ScalingPolicy(a.Policy),
			}
		}
		m.Processes = append(m.Processes, spec)
	}
	if s.EnvOverlay != nil {
		for _, r := range s.EnvOverlay.Replicas {
			stage, err := domain.AsStage(r.EnvName)
			if err != nil {
				return Manifest{}, xe.Wrap(domerr.Invalid("envOverlay.replicas.envName", "%s", err))
			}
			for i := range m.Processes {
				if m.Processes[i].Name != r.Process {
					continue
				}
				if m.Processes[i].Overlays == nil {
					m.Processes[i].Overlays = map[domain.Stage]domain.ProcessSpecEnvOverlay{}
				}
				ov := m.Processes[i].Overlays[stage]
				count := r.Count
				ov.TargetReplicas = &count
				m.Processes[i].Overlays[stage] = ov
			}
		}
	}

	if s.Hooks != nil {
		m.Hooks = []domain.DeployHook{}
		if h := s.Hooks.PreRelease; h != nil {
			m.Hooks = append(m.Hooks, domain.DeployHook{
				Type: domain.HookPreRelease, Enabled: true, Command: h.Command, Args: h.Args, ProcCommand: h.ProcCommand,
			})
		}
	}

	if s.Configuration != nil || (s.EnvOverlay != nil && s.EnvOverlay.EnvVariables != nil) {
		m.EnvVars = []domain.PresetEnvVar{}
	}
	if s.Configuration != nil {
		for _, e := range s.Configuration.Env {
			m.EnvVars = append(m.EnvVars, domain.PresetEnvVar{
				Key: e.Name, Value: e.Value, Description: e.Description, Scope: domain.EnvScopeGlobal,
			})
		}
	}
	if s.EnvOverlay != nil {
		for _, e := range s.EnvOverlay.EnvVariables {
			stage, err := domain.AsStage(e.EnvName)
			if err != nil {
				return Manifest{}, xe.Wrap(domerr.Invalid("envOverlay.envVariables.envName", "%s", err))
			}
			m.EnvVars = append(m.EnvVars, domain.PresetEnvVar{Key: e.Name, Value: e.Value, Scope: domain.ScopeOf(stage)})
		}
	}

	if s.SvcDiscovery != nil {
		m.SvcDiscovery = []domain.SvcDiscovery{}
		for _, d := range s.SvcDiscovery.BkSaaS {
			m.SvcDiscovery = append(m.SvcDiscovery, domain.SvcDiscovery{BkAppCode: d.BkAppCode, ModuleName: d.ModuleName})
		}
	}

	if dr := s.DomainResolution; dr != nil {
		res := &domain.DomainResolution{Nameservers: dr.Nameservers}
		for _, h := range dr.HostAliases {
			res.HostAliases = append(res.HostAliases, domain.HostAlias{IP: h.IP, Hostnames: h.Hostnames})
		}
		m.DomainResolution = res
	}
	return m, nil
}

// probes in yaml are decoded through json, where ports may be numbers or names.
func probesOf(raw map[string]any) (*domain.Probes, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, xe.Wrap(domerr.Invalid("probes", "%s", err))
	}
	probes := &domain.Probes{}
	if err := json.Unmarshal(b, probes); err != nil {
		return nil, xe.Wrap(domerr.Invalid("probes", "%s", err))
	}
	return probes, nil
}

type v2Doc struct {
	SpecVersion int    `yaml:"spec_version"`
	AppVersion  string `yaml:"app_version"`
	App         struct {
		BkAppCode string `yaml:"bk_app_code"`
	} `yaml:"app"`
	Modules map[string]v2Module `yaml:"modules"`

	// for single module apps.
	Module *v2Module `yaml:"module"`
}

type v2Module struct {
	IsDefault bool                 `yaml:"is_default"`
	SourceDir string               `yaml:"source_dir"`
	Language  string               `yaml:"language"`
	Processes map[string]v2Process `yaml:"processes"`
	Scripts   *struct {
		PreReleaseHook string `yaml:"pre_release_hook"`
	} `yaml:"scripts"`
	EnvVariables []struct {
		Key             string `yaml:"key"`
		Value           string `yaml:"value"`
		EnvironmentName string `yaml:"environment_name"`
		Description     string `yaml:"description"`
	} `yaml:"env_variables"`
	SvcDiscovery *struct {
		BkSaaS []struct {
			BkAppCode  string `yaml:"bk_app_code"`
			ModuleName string `yaml:"module_name"`
		} `yaml:"bk_saas"`
	} `yaml:"svc_discovery"`
}

type v2Process struct {
	Command  string `yaml:"command"`
	Replicas *int32 `yaml:"replicas"`
	Plan     string `yaml:"plan"`
}

func parseV2(data []byte) (AppDesc, error) {
	doc := v2Doc{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return AppDesc{}, xe.Wrap(domerr.Invalid("app_desc", "%s", err))
	}
	modules := doc.Modules
	if doc.Module != nil {
		m := *doc.Module
		m.IsDefault = true
		modules = map[string]v2Module{"default": m}
	}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := AppDesc{SpecVersion: 2, AppCode: doc.App.BkAppCode, AppVersion: doc.AppVersion}
	for _, name := range names {
		mod := modules[name]
		manifest, err := mod.manifest()
		if err != nil {
			return AppDesc{}, err
		}
		desc.Modules = append(desc.Modules, ModuleDesc{
			Name:      name,
			IsDefault: mod.IsDefault,
			SourceDir: mod.SourceDir,
			Language:  mod.Language,
			Manifest:  manifest,
		})
	}
	return desc, nil
}

func (mod v2Module) manifest() (Manifest, error) {
	m := Manifest{}

	if mod.Processes != nil {
		m.Processes = []domain.ProcessSpec{}
		names := make([]string, 0, len(mod.Processes))
		for name := range mod.Processes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := mod.Processes[name]
			spec := domain.ProcessSpec{Name: name, ProcCommand: p.Command, ResQuotaPlan: p.Plan, TargetReplicas: 1}
			if p.Replicas != nil {
				spec.TargetReplicas = *p.Replicas
			}
			m.Processes = append(m.Processes, spec)
		}
	}

	if mod.Scripts != nil {
		m.Hooks = []domain.DeployHook{}
		if mod.Scripts.PreReleaseHook != "" {
			m.Hooks = append(m.Hooks, domain.DeployHook{
				Type: domain.HookPreRelease, Enabled: true, ProcCommand: mod.Scripts.PreReleaseHook,
			})
		}
	}

	if mod.EnvVariables != nil {
		m.EnvVars = []domain.PresetEnvVar{}
		for _, e := range mod.EnvVariables {
			scope := domain.EnvScopeGlobal
			if e.EnvironmentName != "" {
				s, err := domain.AsEnvScope(e.EnvironmentName)
				if err != nil {
					return Manifest{}, xe.Wrap(domerr.Invalid("env_variables.environment_name", "%s", err))
				}
				scope = s
			}
			m.EnvVars = append(m.EnvVars, domain.PresetEnvVar{
				Key: e.Key, Value: e.Value, Description: e.Description, Scope: scope,
			})
		}
	}

	if mod.SvcDiscovery != nil {
		m.SvcDiscovery = []domain.SvcDiscovery{}
		for _, d := range mod.SvcDiscovery.BkSaaS {
			m.SvcDiscovery = append(m.SvcDiscovery, domain.SvcDiscovery{BkAppCode: d.BkAppCode, ModuleName: d.ModuleName})
		}
	}
	return m, nil
}
