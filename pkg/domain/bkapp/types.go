package bkapp

import (
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	Group      = "paas.bk.tencent.com"
	Kind       = "BkApp"
	APIVersion = Group + "/v1alpha2"

	// apiVersion of BkApps written by older releases. Read only.
	LegacyAPIVersion = Group + "/v1alpha1"
)

// annotations on BkApps.
const (
	AnnotationPrefix           = "bkapp.paas.bk.tencent.com/"
	AnnotationAppCode          = AnnotationPrefix + "code"
	AnnotationAppName          = AnnotationPrefix + "name"
	AnnotationModuleName       = AnnotationPrefix + "module-name"
	AnnotationRegion           = AnnotationPrefix + "region"
	AnnotationEnvironment      = AnnotationPrefix + "environment"
	AnnotationWorkloadApp      = AnnotationPrefix + "wl-app"
	AnnotationDeployID         = AnnotationPrefix + "deploy-id"
	AnnotationUseCNB           = AnnotationPrefix + "use-cnb"
	AnnotationImageCredentials = AnnotationPrefix + "image-credentials"
)

// BkApp is the custom resource which an operator reconciles into workloads.
type BkApp struct {
	APIVersion string                 `json:"apiVersion"`
	Kind       string                 `json:"kind"`
	Metadata   kubeapimeta.ObjectMeta `json:"metadata"`
	Spec       Spec                   `json:"spec"`
	Status     Status                 `json:"status,omitempty"`
}

func (b BkApp) Namespace() string {
	return b.Metadata.Namespace
}

func (b BkApp) Name() string {
	return b.Metadata.Name
}

type Spec struct {
	Build            *BuildConfig      `json:"build,omitempty"`
	Processes        []Process         `json:"processes"`
	Hooks            *Hooks            `json:"hooks,omitempty"`
	Addons           []Addon           `json:"addons,omitempty"`
	Mounts           []Mount           `json:"mounts,omitempty"`
	Configuration    Configuration     `json:"configuration"`
	EnvOverlay       *EnvOverlay       `json:"envOverlay,omitempty"`
	SvcDiscovery     *SvcDiscovery     `json:"svcDiscovery,omitempty"`
	DomainResolution *DomainResolution `json:"domainResolution,omitempty"`
}

type BuildConfig struct {
	Image                string `json:"image,omitempty"`
	ImagePullPolicy      string `json:"imagePullPolicy,omitempty"`
	ImageCredentialsName string `json:"imageCredentialsName,omitempty"`
}

type Process struct {
	Name         string        `json:"name"`
	Replicas     *int32        `json:"replicas,omitempty"`
	ResQuotaPlan string        `json:"resQuotaPlan,omitempty"`
	TargetPort   int32         `json:"targetPort,omitempty"`
	Command      []string      `json:"command,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Autoscaling  *Autoscaling  `json:"autoscaling,omitempty"`
	Probes       *Probes       `json:"probes,omitempty"`
	Services     []ProcService `json:"services,omitempty"`
}

type Autoscaling struct {
	MinReplicas int32  `json:"minReplicas"`
	MaxReplicas int32  `json:"maxReplicas"`
	Policy      string `json:"policy"`
}

type Probes struct {
	Liveness  *Probe `json:"liveness,omitempty"`
	Readiness *Probe `json:"readiness,omitempty"`
	Startup   *Probe `json:"startup,omitempty"`
}

type Probe struct {
	Exec      *ExecAction      `json:"exec,omitempty"`
	HTTPGet   *HTTPGetAction   `json:"httpGet,omitempty"`
	TCPSocket *TCPSocketAction `json:"tcpSocket,omitempty"`

	InitialDelaySeconds int32 `json:"initialDelaySeconds,omitempty"`
	TimeoutSeconds      int32 `json:"timeoutSeconds,omitempty"`
	PeriodSeconds       int32 `json:"periodSeconds,omitempty"`
	SuccessThreshold    int32 `json:"successThreshold,omitempty"`
	FailureThreshold    int32 `json:"failureThreshold,omitempty"`
}

type ExecAction struct {
	Command []string `json:"command"`
}

type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type HTTPGetAction struct {
	Port        intstr.IntOrString `json:"port"`
	Path        string             `json:"path,omitempty"`
	Host        string             `json:"host,omitempty"`
	Scheme      string             `json:"scheme,omitempty"`
	HTTPHeaders []HTTPHeader       `json:"httpHeaders,omitempty"`
}

type TCPSocketAction struct {
	Port intstr.IntOrString `json:"port"`
	Host string             `json:"host,omitempty"`
}

type ProcService struct {
	Name        string       `json:"name"`
	TargetPort  int32        `json:"targetPort"`
	Protocol    string       `json:"protocol,omitempty"`
	Port        int32        `json:"port,omitempty"`
	ExposedType *ExposedType `json:"exposedType,omitempty"`
}

type ExposedType struct {
	Name string `json:"name"`
}

type Hooks struct {
	PreRelease *Hook `json:"preRelease,omitempty"`
}

type Hook struct {
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

type Addon struct {
	Name string `json:"name"`

	// name of the module which owns the shared instance.
	SharedFromModule string `json:"sharedFromModule,omitempty"`
}

type Mount struct {
	Name      string      `json:"name"`
	MountPath string      `json:"mountPath"`
	Source    MountSource `json:"source"`
}

type MountSource struct {
	ConfigMap         *ConfigMapSource         `json:"configMap,omitempty"`
	PersistentStorage *PersistentStorageSource `json:"persistentStorage,omitempty"`
}

type ConfigMapSource struct {
	Name string `json:"name"`
}

type PersistentStorageSource struct {
	Name string `json:"name"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Configuration struct {
	Env []EnvVar `json:"env"`
}

type EnvOverlay struct {
	Replicas     []ReplicasOverlay    `json:"replicas,omitempty"`
	ResQuotas    []ResQuotaOverlay    `json:"resQuotas,omitempty"`
	Autoscaling  []AutoscalingOverlay `json:"autoscaling,omitempty"`
	EnvVariables []EnvVarOverlay      `json:"envVariables,omitempty"`
	Mounts       []MountOverlay       `json:"mounts,omitempty"`
}

func (e *EnvOverlay) empty() bool {
	return len(e.Replicas) == 0 && len(e.ResQuotas) == 0 && len(e.Autoscaling) == 0 &&
		len(e.EnvVariables) == 0 && len(e.Mounts) == 0
}

type ReplicasOverlay struct {
	EnvName string `json:"envName"`
	Process string `json:"process"`
	Count   int32  `json:"count"`
}

type ResQuotaOverlay struct {
	EnvName string `json:"envName"`
	Process string `json:"process"`
	Plan    string `json:"plan"`
}

type AutoscalingOverlay struct {
	EnvName     string `json:"envName"`
	Process     string `json:"process"`
	MinReplicas int32  `json:"minReplicas"`
	MaxReplicas int32  `json:"maxReplicas"`
	Policy      string `json:"policy"`
}

type EnvVarOverlay struct {
	EnvName string `json:"envName"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

type MountOverlay struct {
	EnvName   string      `json:"envName"`
	Name      string      `json:"name"`
	MountPath string      `json:"mountPath"`
	Source    MountSource `json:"source"`
}

type SvcDiscovery struct {
	BkSaaS []BkSaaSItem `json:"bkSaaS"`
}

type BkSaaSItem struct {
	BkAppCode  string `json:"bkAppCode"`
	ModuleName string `json:"moduleName,omitempty"`
}

type DomainResolution struct {
	Nameservers []string    `json:"nameservers,omitempty"`
	HostAliases []HostAlias `json:"hostAliases,omitempty"`
}

type HostAlias struct {
	IP        string   `json:"ip"`
	Hostnames []string `json:"hostnames"`
}

type Phase string

const (
	PhasePending Phase = "Pending"
	PhaseRunning Phase = "Running"
	PhaseFailed  Phase = "Failed"
	PhaseUnknown Phase = "Unknown"
)

type Status struct {
	Phase              Phase       `json:"phase,omitempty"`
	ObservedGeneration int64       `json:"observedGeneration,omitempty"`
	DeployID           string      `json:"deployId,omitempty"`
	Conditions         []Condition `json:"conditions,omitempty"`
}

type Condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}
