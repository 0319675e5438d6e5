package domain

import (
	"fmt"
	"slices"
	"time"

	"k8s.io/apimachinery/pkg/util/intstr"
)

type AppType string

const (
	// applications deployed with typed workloads (Deployment, Service).
	AppTypeClassic AppType = "classic"

	// applications deployed as a BkApp custom resource.
	AppTypeCloudNative AppType = "cloud_native"
)

func (t AppType) String() string {
	return string(t)
}

func AsAppType(s string) (AppType, error) {
	switch AppType(s) {
	case AppTypeClassic, AppTypeCloudNative:
		return AppType(s), nil
	default:
		return "", fmt.Errorf("'%s' is not an application type", s)
	}
}

type Application struct {
	ID       string
	Code     string
	TenantID string
	Region   string
	Name     string
	Type     AppType
	Owner    string

	// false once the application is marked offline.
	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type SourceOrigin string

const (
	SourceOriginVCS           SourceOrigin = "vcs"
	SourceOriginImageRegistry SourceOrigin = "image_registry"
	SourceOriginImageOnly     SourceOrigin = "image_only"
	SourceOriginBkLessCode    SourceOrigin = "bk_lesscode"
	SourceOriginSmartPackage  SourceOrigin = "smart_package"
)

func (o SourceOrigin) String() string {
	return string(o)
}

func AsSourceOrigin(s string) (SourceOrigin, error) {
	switch SourceOrigin(s) {
	case SourceOriginVCS, SourceOriginImageRegistry, SourceOriginImageOnly,
		SourceOriginBkLessCode, SourceOriginSmartPackage:
		return SourceOrigin(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a source origin", s)
	}
}

type BuildMethod string

const (
	BuildMethodBuildpack   BuildMethod = "buildpack"
	BuildMethodDockerfile  BuildMethod = "dockerfile"
	BuildMethodCustomImage BuildMethod = "custom_image"
)

func (m BuildMethod) String() string {
	return string(m)
}

func AsBuildMethod(s string) (BuildMethod, error) {
	switch BuildMethod(s) {
	case BuildMethodBuildpack, BuildMethodDockerfile, BuildMethodCustomImage:
		return BuildMethod(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a build method", s)
	}
}

// build methods allowed for each source origin.
var compatibleBuildMethods = map[SourceOrigin][]BuildMethod{
	SourceOriginVCS:           {BuildMethodBuildpack, BuildMethodDockerfile},
	SourceOriginImageRegistry: {BuildMethodCustomImage},
	SourceOriginImageOnly:     {BuildMethodCustomImage},
	SourceOriginBkLessCode:    {BuildMethodBuildpack},
	SourceOriginSmartPackage:  {BuildMethodBuildpack},
}

// Compatible reports whether a module from the origin can be built with method.
func (o SourceOrigin) Compatible(method BuildMethod) bool {
	return slices.Contains(compatibleBuildMethods[o], method)
}

type Module struct {
	ID            string
	ApplicationID string
	Name          string
	IsDefault     bool
	SourceOrigin  SourceOrigin

	// nil when the module has no repository binding.
	Repository *SourceRepository

	BuildConfig BuildConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

type SourceRepository struct {
	// "git", "svn", ...
	Type string
	URL  string

	// nil when the repository is public.
	Credentials *RepositoryCredentials
}

type RepositoryCredentials struct {
	Username string
	Password string
}

type Buildpack struct {
	Name    string
	Version string
	URL     string
}

type BuildConfig struct {
	Method BuildMethod

	// image repository of custom_image modules, or the output repository of image builds.
	ImageRepository string

	// name of registry credentials to pull/push ImageRepository.
	ImageCredentialName string

	// non-empty for buildpack modules.
	Buildpacks []Buildpack

	// builder (and runner) image of buildpack builds.
	BuilderImage string

	// path to Dockerfile, relative to the source directory.
	DockerfilePath string

	BuildArgs map[string]string
}

type Stage string

const (
	StageStag Stage = "stag"
	StageProd Stage = "prod"
)

// Stages returns all stages in the order of promotion.
func Stages() []Stage {
	return []Stage{StageStag, StageProd}
}

func (s Stage) String() string {
	return string(s)
}

func AsStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageStag, StageProd:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a stage", s)
	}
}

type Environment struct {
	ID       string
	ModuleID string
	Stage    Stage

	// name of the workload app, the kubernetes-facing twin of this environment.
	WorkloadApp string

	// name of the cluster where the workload app runs.
	Cluster string

	IsOffline bool
}

// WorkloadAppName returns the name of the workload app for (application, module, stage).
//
// Default modules omit the module name for compatibility with legacy apps.
func WorkloadAppName(appCode string, module string, defaultModule bool, stage Stage) string {
	if defaultModule {
		return fmt.Sprintf("bkapp-%s-%s", appCode, stage)
	}
	return fmt.Sprintf("bkapp-%s-m-%s-%s", appCode, module, stage)
}

type ProbeHandler struct {
	Exec      *ExecAction      `json:"exec,omitempty" yaml:"exec,omitempty"`
	HTTPGet   *HTTPGetAction   `json:"httpGet,omitempty" yaml:"httpGet,omitempty"`
	TCPSocket *TCPSocketAction `json:"tcpSocket,omitempty" yaml:"tcpSocket,omitempty"`
}

type ExecAction struct {
	Command []string `json:"command" yaml:"command"`
}

type HTTPHeader struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type HTTPGetAction struct {
	Port        intstr.IntOrString `json:"port" yaml:"port"`
	Path        string             `json:"path,omitempty" yaml:"path,omitempty"`
	Host        string             `json:"host,omitempty" yaml:"host,omitempty"`
	Scheme      string             `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	HTTPHeaders []HTTPHeader       `json:"httpHeaders,omitempty" yaml:"httpHeaders,omitempty"`
}

type TCPSocketAction struct {
	Port intstr.IntOrString `json:"port" yaml:"port"`
	Host string             `json:"host,omitempty" yaml:"host,omitempty"`
}

type Probe struct {
	ProbeHandler `json:",inline" yaml:",inline"`

	InitialDelaySeconds int32 `json:"initialDelaySeconds,omitempty" yaml:"initialDelaySeconds,omitempty"`
	TimeoutSeconds      int32 `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	PeriodSeconds       int32 `json:"periodSeconds,omitempty" yaml:"periodSeconds,omitempty"`
	SuccessThreshold    int32 `json:"successThreshold,omitempty" yaml:"successThreshold,omitempty"`
	FailureThreshold    int32 `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
}

type Probes struct {
	Liveness  *Probe `json:"liveness,omitempty" yaml:"liveness,omitempty"`
	Readiness *Probe `json:"readiness,omitempty" yaml:"readiness,omitempty"`
	Startup   *Probe `json:"startup,omitempty" yaml:"startup,omitempty"`
}

type ExposedTypeName string

const (
	ExposedTypeHTTP ExposedTypeName = "bk/http"
	ExposedTypeGRPC ExposedTypeName = "bk/grpc"
)

type ExposedType struct {
	Name ExposedTypeName `json:"name" yaml:"name"`
}

type ProcService struct {
	Name       string `json:"name" yaml:"name"`
	TargetPort int32  `json:"targetPort" yaml:"targetPort"`

	// "TCP" or "UDP". empty means "TCP".
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`

	// service port. zero means the same as TargetPort.
	Port int32 `json:"port,omitempty" yaml:"port,omitempty"`

	ExposedType *ExposedType `json:"exposedType,omitempty" yaml:"exposedType,omitempty"`
}

type ScalingPolicy string

const ScalingPolicyDefault ScalingPolicy = "default"

type Autoscaling struct {
	MinReplicas int32         `json:"minReplicas" yaml:"minReplicas"`
	MaxReplicas int32         `json:"maxReplicas" yaml:"maxReplicas"`
	Policy      ScalingPolicy `json:"policy" yaml:"policy"`
}

type ProcessSpec struct {
	ModuleID string
	Name     string

	Command []string
	Args    []string

	// legacy single-string command. When set, it wins against Command/Args.
	ProcCommand string

	// zero means "no port".
	TargetPort int32

	Probes   *Probes
	Services []ProcService

	// nil when autoscaling is not configured.
	Autoscaling *Autoscaling

	ResQuotaPlan   string
	TargetReplicas int32

	Overlays map[Stage]ProcessSpecEnvOverlay
}

// ProcessSpecEnvOverlay overrides a ProcessSpec for one stage.
//
// nil/empty fields are not overridden.
type ProcessSpecEnvOverlay struct {
	TargetReplicas *int32
	PlanName       string
	ScalingEnabled *bool
	Autoscaling    *Autoscaling
}

type HookType string

const HookPreRelease HookType = "pre-release"

type DeployHook struct {
	ModuleID    string
	Type        HookType
	Enabled     bool
	Command     []string
	Args        []string
	ProcCommand string
}

type MountSourceType string

const (
	MountSourceConfigMap         MountSourceType = "ConfigMap"
	MountSourcePersistentStorage MountSourceType = "PersistentStorage"
)

// EnvScope is stag, prod or _global_.
type EnvScope string

const EnvScopeGlobal EnvScope = "_global_"

func ScopeOf(s Stage) EnvScope {
	return EnvScope(s)
}

// Includes reports whether the scope applies to the stage.
func (s EnvScope) Includes(stage Stage) bool {
	return s == EnvScopeGlobal || s == EnvScope(stage)
}

func AsEnvScope(s string) (EnvScope, error) {
	switch EnvScope(s) {
	case EnvScopeGlobal, EnvScope(StageStag), EnvScope(StageProd):
		return EnvScope(s), nil
	default:
		return "", fmt.Errorf("'%s' is not an environment scope", s)
	}
}

type MountSourceConfig struct {
	// for ConfigMap. key = file name, value = file content.
	ConfigMap map[string]string `json:"configMap,omitempty"`

	// for PersistentStorage. name of the claim.
	PersistentStorage string `json:"persistentStorage,omitempty"`
}

type Mount struct {
	ModuleID     string
	Name         string
	SourceType   MountSourceType
	SourceConfig MountSourceConfig
	MountPath    string
	Scope        EnvScope
}

// PresetEnvVar is an environment variable declared in the module definition (app_desc).
type PresetEnvVar struct {
	ModuleID    string
	Key         string
	Value       string
	Scope       EnvScope
	Description string
}

// SvcDiscovery declares other apps which this module wants to discover.
type SvcDiscovery struct {
	BkAppCode  string `json:"bkAppCode"`
	ModuleName string `json:"moduleName,omitempty"`
}

// DomainResolution declares extra nameservers and hosts of pods.
type DomainResolution struct {
	Nameservers []string    `json:"nameservers,omitempty"`
	HostAliases []HostAlias `json:"hostAliases,omitempty"`
}

type HostAlias struct {
	IP        string   `json:"ip"`
	Hostnames []string `json:"hostnames"`
}
