package bkapp

import (
	"fmt"
	"strconv"
	"strings"

	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// AddonRef is an add-on bound to the module.
type AddonRef struct {
	Service string

	// module which owns the instance, when shared.
	SharedFromModule string
}

// RenderInput is everything declared for a module.
type RenderInput struct {
	App    domain.Application
	Module domain.Module

	Processes        []domain.ProcessSpec
	Hooks            []domain.DeployHook
	Mounts           []domain.Mount
	Vars             configvar.Layers
	Addons           []AddonRef
	SvcDiscovery     []domain.SvcDiscovery
	DomainResolution *domain.DomainResolution

	// command which starts processes of buildpack modules.
	RunnerEntrypoint []string
}

// DeployInput is what a deployment adds to the module manifest.
type DeployInput struct {
	Env      domain.Environment
	DeployID string

	Image            string
	ImagePullPolicy  string
	ImageCredentials string
	UseCNB           bool

	// add-on and builtin variables. They win against declared variables.
	Injected configvar.Env
}

type constructor func(in RenderInput, b *BkApp) error

type deployConstructor func(d DeployInput, b *BkApp) error

// order matters: a constructor may overwrite what earlier ones wrote.
var constructors = []constructor{
	applyAddons,
	applyEnvVars,
	applyProcesses,
	applyMounts,
	applyHooks,
	applySvcDiscovery,
	applyDomainResolution,
	applyBuiltinAnnotations,
}

var deployConstructors = []deployConstructor{
	applyBuiltinEnvVars,
	applyEnvAnnotations,
}

// ResourceName returns the name of BkApp of the module.
func ResourceName(appCode string, module domain.Module) string {
	name := appCode
	if !module.IsDefault {
		name = fmt.Sprintf("%s-m-%s", appCode, module.Name)
	}
	return strings.ReplaceAll(name, "_", "0us0")
}

// Render projects the module into a BkApp, without environment specific parts.
func Render(in RenderInput) (BkApp, error) {
	b := BkApp{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata: kubeapimeta.ObjectMeta{
			Name:        ResourceName(in.App.Code, in.Module),
			Annotations: map[string]string{},
		},
		Spec: Spec{
			Processes:     []Process{},
			Configuration: Configuration{Env: []EnvVar{}},
		},
	}
	for _, c := range constructors {
		if err := c(in, &b); err != nil {
			return BkApp{}, err
		}
	}
	if b.Spec.EnvOverlay != nil && b.Spec.EnvOverlay.empty() {
		b.Spec.EnvOverlay = nil
	}
	return b, nil
}

// RenderForDeploy projects the module into a BkApp to be applied in the environment.
func RenderForDeploy(in RenderInput, d DeployInput) (BkApp, error) {
	b, err := Render(in)
	if err != nil {
		return BkApp{}, err
	}
	b.Metadata.Namespace = d.Env.WorkloadApp
	b.Spec.Build = &BuildConfig{
		Image:                d.Image,
		ImagePullPolicy:      d.ImagePullPolicy,
		ImageCredentialsName: d.ImageCredentials,
	}
	for _, c := range deployConstructors {
		if err := c(d, &b); err != nil {
			return BkApp{}, err
		}
	}
	return b, nil
}

func overlay(b *BkApp) *EnvOverlay {
	if b.Spec.EnvOverlay == nil {
		b.Spec.EnvOverlay = &EnvOverlay{}
	}
	return b.Spec.EnvOverlay
}

func applyAddons(in RenderInput, b *BkApp) error {
	for _, a := range in.Addons {
		b.Spec.Addons = append(b.Spec.Addons, Addon{Name: a.Service, SharedFromModule: a.SharedFromModule})
	}
	return nil
}

func applyEnvVars(in RenderInput, b *BkApp) error {
	for _, v := range in.Vars.Global.Vars() {
		b.Spec.Configuration.Env = append(b.Spec.Configuration.Env, EnvVar{Name: v.Key, Value: v.Value})
	}
	for _, stage := range domain.Stages() {
		vars := in.Vars.Stages[stage]
		for _, v := range vars.Vars() {
			o := overlay(b)
			o.EnvVariables = append(o.EnvVariables, EnvVarOverlay{EnvName: string(stage), Name: v.Key, Value: v.Value})
		}
	}
	return nil
}

func applyProcesses(in RenderInput, b *BkApp) error {
	procs, err := ProjectProcesses(in.Module.BuildConfig.Method, in.RunnerEntrypoint, in.Processes)
	if err != nil {
		return err
	}
	b.Spec.Processes = procs

	for _, s := range in.Processes {
		for _, stage := range domain.Stages() {
			ov, ok := s.Overlays[stage]
			if !ok {
				continue
			}
			o := overlay(b)
			if ov.TargetReplicas != nil {
				o.Replicas = append(o.Replicas, ReplicasOverlay{EnvName: string(stage), Process: s.Name, Count: *ov.TargetReplicas})
			}
			if ov.PlanName != "" {
				o.ResQuotas = append(o.ResQuotas, ResQuotaOverlay{
					EnvName: string(stage), Process: s.Name, Plan: LegacyPlanToResQuota(ov.PlanName),
				})
			}
			if ov.ScalingEnabled != nil && *ov.ScalingEnabled && ov.Autoscaling != nil {
				o.Autoscaling = append(o.Autoscaling, AutoscalingOverlay{
					EnvName:     string(stage),
					Process:     s.Name,
					MinReplicas: ov.Autoscaling.MinReplicas,
					MaxReplicas: ov.Autoscaling.MaxReplicas,
					Policy:      string(ov.Autoscaling.Policy),
				})
			}
		}
	}
	return nil
}

// MountSourceName returns the name of the ConfigMap or claim which backs the mount.
func MountSourceName(m domain.Mount) string {
	if m.SourceType == domain.MountSourcePersistentStorage {
		return m.SourceConfig.PersistentStorage
	}
	return m.Name
}

func mountSource(m domain.Mount) MountSource {
	if m.SourceType == domain.MountSourcePersistentStorage {
		return MountSource{PersistentStorage: &PersistentStorageSource{Name: MountSourceName(m)}}
	}
	return MountSource{ConfigMap: &ConfigMapSource{Name: MountSourceName(m)}}
}

func applyMounts(in RenderInput, b *BkApp) error {
	for _, m := range in.Mounts {
		if m.Scope == domain.EnvScopeGlobal {
			b.Spec.Mounts = append(b.Spec.Mounts, Mount{Name: m.Name, MountPath: m.MountPath, Source: mountSource(m)})
			continue
		}
		o := overlay(b)
		o.Mounts = append(o.Mounts, MountOverlay{
			EnvName: string(m.Scope), Name: m.Name, MountPath: m.MountPath, Source: mountSource(m),
		})
	}
	return nil
}

func applyHooks(in RenderInput, b *BkApp) error {
	for _, h := range in.Hooks {
		if h.Type != domain.HookPreRelease || !h.Enabled {
			continue
		}
		command, args := h.Command, h.Args
		if h.ProcCommand != "" {
			var err error
			if command, args, err = SplitProcCommand(h.ProcCommand); err != nil {
				return err
			}
		}
		b.Spec.Hooks = &Hooks{PreRelease: &Hook{Command: command, Args: args}}
	}
	return nil
}

func applySvcDiscovery(in RenderInput, b *BkApp) error {
	if len(in.SvcDiscovery) == 0 {
		return nil
	}
	sd := &SvcDiscovery{BkSaaS: []BkSaaSItem{}}
	for _, d := range in.SvcDiscovery {
		sd.BkSaaS = append(sd.BkSaaS, BkSaaSItem{BkAppCode: d.BkAppCode, ModuleName: d.ModuleName})
	}
	b.Spec.SvcDiscovery = sd
	return nil
}

func applyDomainResolution(in RenderInput, b *BkApp) error {
	dr := in.DomainResolution
	if dr == nil || (len(dr.Nameservers) == 0 && len(dr.HostAliases) == 0) {
		return nil
	}
	res := &DomainResolution{Nameservers: dr.Nameservers}
	for _, h := range dr.HostAliases {
		res.HostAliases = append(res.HostAliases, HostAlias{IP: h.IP, Hostnames: h.Hostnames})
	}
	b.Spec.DomainResolution = res
	return nil
}

func applyBuiltinAnnotations(in RenderInput, b *BkApp) error {
	a := b.Metadata.Annotations
	a[AnnotationAppCode] = in.App.Code
	a[AnnotationAppName] = in.App.Name
	a[AnnotationModuleName] = in.Module.Name
	a[AnnotationRegion] = in.App.Region
	return nil
}

// builtin variables win against declared ones of the same name in the environment.
func applyBuiltinEnvVars(d DeployInput, b *BkApp) error {
	stage := string(d.Env.Stage)
	vars := d.Injected.Vars()
	if len(vars) == 0 {
		return nil
	}
	o := overlay(b)
	index := map[string]int{}
	for i, v := range o.EnvVariables {
		if v.EnvName == stage {
			index[v.Name] = i
		}
	}
	for _, v := range vars {
		if i, ok := index[v.Key]; ok {
			o.EnvVariables[i].Value = v.Value
			continue
		}
		index[v.Key] = len(o.EnvVariables)
		o.EnvVariables = append(o.EnvVariables, EnvVarOverlay{EnvName: stage, Name: v.Key, Value: v.Value})
	}
	return nil
}

func applyEnvAnnotations(d DeployInput, b *BkApp) error {
	b.Metadata.Labels = k8s.AppLabels(d.Env.WorkloadApp, nil)
	a := b.Metadata.Annotations
	a[AnnotationEnvironment] = string(d.Env.Stage)
	a[AnnotationWorkloadApp] = d.Env.WorkloadApp
	a[AnnotationUseCNB] = strconv.FormatBool(d.UseCNB)
	if d.DeployID != "" {
		a[AnnotationDeployID] = d.DeployID
	}
	if d.ImageCredentials != "" {
		a[AnnotationImageCredentials] = d.ImageCredentials
	}
	return nil
}
