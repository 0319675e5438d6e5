package application

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

var (
	appCodePattern     = regexp.MustCompile(`^[a-z][a-z0-9-]{2,31}$`)
	moduleNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9-]{1,15}$`)
	processNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]){0,11}$`)
	serviceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	envVarKeyPattern   = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	mountNamePattern   = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// ValidateAppCode checks the short code of an application.
func ValidateAppCode(code string) error {
	if !appCodePattern.MatchString(code) {
		return domerr.Invalid("code", "%q should match %s", code, appCodePattern)
	}
	return nil
}

// ValidateModuleName checks the name of a module.
func ValidateModuleName(name string) error {
	if !moduleNamePattern.MatchString(name) {
		return domerr.Invalid("name", "%q should match %s", name, moduleNamePattern)
	}
	return nil
}

// ValidateModule checks a module and its build config.
//
// The build method should be compatible with the source origin.
func ValidateModule(m domain.Module) error {
	errs := domerr.ValidationErrors{}
	if err := ValidateModuleName(m.Name); err != nil {
		errs = append(errs, err.(domerr.ValidationError))
	}
	if _, err := domain.AsSourceOrigin(string(m.SourceOrigin)); err != nil {
		errs = append(errs, domerr.ValidationError{Field: "source_origin", Reason: err.Error()})
		return errs
	}
	if !m.SourceOrigin.Compatible(m.BuildConfig.Method) {
		errs = append(errs, domerr.ValidationError{
			Field: "build_config.build_method",
			Reason: fmt.Sprintf(
				"%q can not build modules from %q", m.BuildConfig.Method, m.SourceOrigin,
			),
		})
	}
	if m.SourceOrigin == domain.SourceOriginVCS && m.Repository == nil {
		errs = append(errs, domerr.ValidationError{Field: "repository", Reason: "vcs modules need a repository"})
	}
	if err := ValidateBuildConfig(m.BuildConfig); err != nil {
		if verrs, ok := err.(domerr.ValidationErrors); ok {
			errs = append(errs, verrs...)
		}
	}
	return errs.OrNil()
}

// ValidateBuildConfig checks fields required by the build method.
//
// - custom_image needs image_repository.
//
// - buildpack needs at least one buildpack.
func ValidateBuildConfig(c domain.BuildConfig) error {
	errs := domerr.ValidationErrors{}
	switch c.Method {
	case domain.BuildMethodCustomImage:
		if strings.TrimSpace(c.ImageRepository) == "" {
			errs = append(errs, domerr.ValidationError{
				Field: "build_config.image_repository", Reason: "custom_image needs image repository",
			})
		}
	case domain.BuildMethodBuildpack:
		if len(c.Buildpacks) == 0 {
			errs = append(errs, domerr.ValidationError{
				Field: "build_config.buildpacks", Reason: "buildpack needs at least one buildpack",
			})
		}
		for i, bp := range c.Buildpacks {
			if bp.Name == "" {
				errs = append(errs, domerr.ValidationError{
					Field: fmt.Sprintf("build_config.buildpacks[%d].name", i), Reason: "required",
				})
			}
		}
	case domain.BuildMethodDockerfile:
		if p := c.DockerfilePath; p != "" && path.IsAbs(p) {
			errs = append(errs, domerr.ValidationError{
				Field: "build_config.dockerfile_path", Reason: "should be relative to the source directory",
			})
		}
	default:
		errs = append(errs, domerr.ValidationError{
			Field: "build_config.build_method", Reason: fmt.Sprintf("unknown build method %q", c.Method),
		})
	}
	return errs.OrNil()
}

// ValidateProcessSpecs checks processes of a module.
//
//   - process names are unique.
//   - in each process, names and target ports of proc-services are unique.
//   - in the module, at most one proc-service is exposed as bk/http.
func ValidateProcessSpecs(specs []domain.ProcessSpec) error {
	errs := domerr.ValidationErrors{}
	names := map[string]struct{}{}
	httpExposed := ""

	for i, spec := range specs {
		field := fmt.Sprintf("processes[%d]", i)
		if !processNamePattern.MatchString(spec.Name) {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".name", Reason: fmt.Sprintf("%q should match %s", spec.Name, processNamePattern),
			})
		}
		if _, ok := names[spec.Name]; ok {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".name", Reason: fmt.Sprintf("duplicated process %q", spec.Name),
			})
		}
		names[spec.Name] = struct{}{}

		if len(spec.Command) == 0 && spec.ProcCommand == "" && len(spec.Args) != 0 {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".command", Reason: "args without command",
			})
		}
		if spec.TargetPort < 0 || 65535 < spec.TargetPort {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".target_port", Reason: fmt.Sprintf("%d is out of range", spec.TargetPort),
			})
		}
		if spec.TargetReplicas < 0 {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".replicas", Reason: "should not be negative",
			})
		}
		if as := spec.Autoscaling; as != nil {
			errs = append(errs, validateAutoscaling(field+".autoscaling", *as)...)
		}
		for stage, ov := range spec.Overlays {
			ofield := fmt.Sprintf("%s.env_overlay.%s", field, stage)
			if _, err := domain.AsStage(string(stage)); err != nil {
				errs = append(errs, domerr.ValidationError{Field: ofield, Reason: err.Error()})
			}
			if ov.TargetReplicas != nil && *ov.TargetReplicas < 0 {
				errs = append(errs, domerr.ValidationError{Field: ofield + ".replicas", Reason: "should not be negative"})
			}
			if ov.Autoscaling != nil {
				errs = append(errs, validateAutoscaling(ofield+".autoscaling", *ov.Autoscaling)...)
			}
		}

		svcNames := map[string]struct{}{}
		ports := map[int32]struct{}{}
		for j, svc := range spec.Services {
			sfield := fmt.Sprintf("%s.services[%d]", field, j)
			if !serviceNamePattern.MatchString(svc.Name) {
				errs = append(errs, domerr.ValidationError{
					Field: sfield + ".name", Reason: fmt.Sprintf("%q should match %s", svc.Name, serviceNamePattern),
				})
			}
			if _, ok := svcNames[svc.Name]; ok {
				errs = append(errs, domerr.ValidationError{
					Field: sfield + ".name", Reason: fmt.Sprintf("duplicated service name %q", svc.Name),
				})
			}
			svcNames[svc.Name] = struct{}{}

			if _, ok := ports[svc.TargetPort]; ok {
				errs = append(errs, domerr.ValidationError{
					Field: sfield + ".target_port", Reason: fmt.Sprintf("duplicated target port %d", svc.TargetPort),
				})
			}
			ports[svc.TargetPort] = struct{}{}

			switch svc.Protocol {
			case "", "TCP", "UDP":
			default:
				errs = append(errs, domerr.ValidationError{
					Field: sfield + ".protocol", Reason: fmt.Sprintf("%q is not TCP nor UDP", svc.Protocol),
				})
			}

			if et := svc.ExposedType; et != nil {
				switch et.Name {
				case domain.ExposedTypeHTTP:
					if httpExposed != "" {
						errs = append(errs, domerr.ValidationError{
							Field: sfield + ".exposed_type",
							Reason: fmt.Sprintf(
								"%s is already exposed by %s", domain.ExposedTypeHTTP, httpExposed,
							),
						})
					} else {
						httpExposed = fmt.Sprintf("%s/%s", spec.Name, svc.Name)
					}
				case domain.ExposedTypeGRPC:
				default:
					errs = append(errs, domerr.ValidationError{
						Field: sfield + ".exposed_type.name", Reason: fmt.Sprintf("unknown exposed type %q", et.Name),
					})
				}
			}
		}
	}
	return errs.OrNil()
}

func validateAutoscaling(field string, as domain.Autoscaling) domerr.ValidationErrors {
	errs := domerr.ValidationErrors{}
	if as.MinReplicas < 1 {
		errs = append(errs, domerr.ValidationError{Field: field + ".min_replicas", Reason: "should be positive"})
	}
	if as.MaxReplicas < as.MinReplicas {
		errs = append(errs, domerr.ValidationError{
			Field: field + ".max_replicas", Reason: "should not be less than min_replicas",
		})
	}
	if as.Policy != "" && as.Policy != domain.ScalingPolicyDefault {
		errs = append(errs, domerr.ValidationError{
			Field: field + ".policy", Reason: fmt.Sprintf("unknown policy %q", as.Policy),
		})
	}
	return errs
}

// ValidateDeployHooks checks that each type appears once and enabled hooks have commands.
func ValidateDeployHooks(hooks []domain.DeployHook) error {
	errs := domerr.ValidationErrors{}
	seen := map[domain.HookType]struct{}{}
	for i, h := range hooks {
		field := fmt.Sprintf("hooks[%d]", i)
		if h.Type != domain.HookPreRelease {
			errs = append(errs, domerr.ValidationError{Field: field + ".type", Reason: fmt.Sprintf("unknown hook %q", h.Type)})
		}
		if _, ok := seen[h.Type]; ok {
			errs = append(errs, domerr.ValidationError{Field: field + ".type", Reason: fmt.Sprintf("duplicated hook %q", h.Type)})
		}
		seen[h.Type] = struct{}{}
		if h.Enabled && len(h.Command) == 0 && strings.TrimSpace(h.ProcCommand) == "" {
			errs = append(errs, domerr.ValidationError{Field: field + ".command", Reason: "enabled hook needs command"})
		}
	}
	return errs.OrNil()
}

// ValidateMounts checks mounts of a module.
//
// (scope, mount path) and (scope, name) are unique.
func ValidateMounts(mounts []domain.Mount) error {
	errs := domerr.ValidationErrors{}
	paths := map[string]struct{}{}
	names := map[string]struct{}{}
	for i, m := range mounts {
		field := fmt.Sprintf("mounts[%d]", i)
		if err := ValidateMount(m); err != nil {
			if verrs, ok := err.(domerr.ValidationErrors); ok {
				for _, v := range verrs {
					errs = append(errs, domerr.ValidationError{Field: field + "." + v.Field, Reason: v.Reason})
				}
			}
		}
		key := string(m.Scope) + ":" + path.Clean(m.MountPath)
		if _, ok := paths[key]; ok {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".mount_path", Reason: fmt.Sprintf("%s is mounted twice in %s", m.MountPath, m.Scope),
			})
		}
		paths[key] = struct{}{}
		nkey := string(m.Scope) + ":" + m.Name
		if _, ok := names[nkey]; ok {
			errs = append(errs, domerr.ValidationError{
				Field: field + ".name", Reason: fmt.Sprintf("duplicated mount %q in %s", m.Name, m.Scope),
			})
		}
		names[nkey] = struct{}{}
	}
	return errs.OrNil()
}

// ValidateMount checks a mount alone.
func ValidateMount(m domain.Mount) error {
	errs := domerr.ValidationErrors{}
	if !mountNamePattern.MatchString(m.Name) {
		errs = append(errs, domerr.ValidationError{Field: "name", Reason: fmt.Sprintf("%q should match %s", m.Name, mountNamePattern)})
	}
	if !path.IsAbs(m.MountPath) {
		errs = append(errs, domerr.ValidationError{Field: "mount_path", Reason: "should be an absolute path"})
	}
	if _, err := domain.AsEnvScope(string(m.Scope)); err != nil {
		errs = append(errs, domerr.ValidationError{Field: "environment_name", Reason: err.Error()})
	}
	switch m.SourceType {
	case domain.MountSourceConfigMap:
		if len(m.SourceConfig.ConfigMap) == 0 {
			errs = append(errs, domerr.ValidationError{Field: "source_config.config_map", Reason: "should have at least one file"})
		}
	case domain.MountSourcePersistentStorage:
		if m.SourceConfig.PersistentStorage == "" {
			errs = append(errs, domerr.ValidationError{Field: "source_config.persistent_storage", Reason: "required"})
		}
	default:
		errs = append(errs, domerr.ValidationError{Field: "source_type", Reason: fmt.Sprintf("unknown source type %q", m.SourceType)})
	}
	return errs.OrNil()
}

// ValidateEnvVarKey checks a key of environment variables.
//
// Keys consist of uppercase letters, digits and underscores, and do not start with a digit.
func ValidateEnvVarKey(key string) error {
	if !envVarKeyPattern.MatchString(key) {
		return domerr.Invalid("key", "%q should match %s", key, envVarKeyPattern)
	}
	return nil
}
