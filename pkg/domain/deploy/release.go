package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	k8s "github.com/TencentBlueKing/bkpaas/pkg/workloads/k8s"
)

// ImagePullSecret is the name of the secret to pull images from registries
// with credentials of the application.
const ImagePullSecret = "bkapp-image-credentials"

// Builds reads builds. The build repository implements this.
type Builds interface {
	GetBuild(ctx context.Context, id string) (domain.Build, error)
}

// Manifests renders BkApps to be applied. *bkapp.Service implements this.
type Manifests interface {
	ForDeploy(ctx context.Context, t configvar.Target, d bkapp.DeployInput) (bkapp.BkApp, error)
}

// BkApps applies BkApps and reads their status. *bkapp.Client implements this.
type BkApps interface {
	Apply(ctx context.Context, b bkapp.BkApp) (bkapp.BkApp, error)
	Status(ctx context.Context, namespace, name string) (bkapp.Status, error)
}

// ProcessSpecs lists processes of modules. The application repository implements this.
type ProcessSpecs interface {
	ListProcessSpecs(ctx context.Context, moduleID string) ([]domain.ProcessSpec, error)
}

// RuntimeVars resolves variables of environments. *configvar.Resolver implements this.
type RuntimeVars interface {
	Resolve(ctx context.Context, t configvar.Target, point configvar.Point) (configvar.Env, error)
}

// Release puts the build of a deployment into the cluster, and waits its processes to get ready.
//
// Cloud native applications are released as a BkApp, and the operator rolls it out.
// Classic applications are released as a Deployment and a Service per process.
//
// The first tick applies workloads. Later ticks check them.
type Release struct {
	builds  Builds
	cluster k8s.Cluster
	store   blob.Store

	manifests Manifests
	bkapps    BkApps

	specs ProcessSpecs
	vars  RuntimeVars

	credentials      build.RegistryCredentials
	runnerImage      string
	runnerEntrypoint []string
}

var _ Runner = &Release{}

type ReleaseOption func(*Release) *Release

// WithCloudNative enables releases of cloud native applications.
func WithCloudNative(manifests Manifests, bkapps BkApps) ReleaseOption {
	return func(r *Release) *Release {
		r.manifests = manifests
		r.bkapps = bkapps
		return r
	}
}

// WithClassic enables releases of classic applications.
func WithClassic(specs ProcessSpecs, vars RuntimeVars) ReleaseOption {
	return func(r *Release) *Release {
		r.specs = specs
		r.vars = vars
		return r
	}
}

// WithImageCredentials places registry credentials named in build configs as an image pull secret.
func WithImageCredentials(c build.RegistryCredentials) ReleaseOption {
	return func(r *Release) *Release {
		r.credentials = c
		return r
	}
}

func NewRelease(
	builds Builds,
	cluster k8s.Cluster,
	store blob.Store,
	conf *platform.BuildConfig,
	runnerEntrypoint []string,
	options ...ReleaseOption,
) *Release {
	r := &Release{
		builds:           builds,
		cluster:          cluster,
		store:            store,
		runnerImage:      conf.SlugRunnerImage(),
		runnerEntrypoint: runnerEntrypoint,
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

func (r *Release) Tick(ctx context.Context, run Run) (Result, error) {
	if !stepSucceeded(run.Phase, stepApply.Name) {
		if err := r.apply(ctx, run); err != nil {
			return Result{}, err
		}
		return Result{Status: domain.Pending}, nil
	}

	var ready bool
	var err error
	if run.Target.App.Type == domain.AppTypeCloudNative {
		ready, err = r.checkBkApp(ctx, run)
	} else {
		ready, err = r.checkClassic(ctx, run)
	}
	if err != nil {
		return Result{}, err
	}
	if !ready {
		return Result{Status: domain.Pending}, nil
	}
	if err := run.Output.WriteLine(ctx, output.System, "Processes are ready"); err != nil {
		return Result{}, err
	}
	return Succeeded(), nil
}

func stepSucceeded(p domain.Phase, name string) bool {
	for _, s := range p.Steps {
		if s.Name == name {
			return s.Status == domain.Successful
		}
	}
	return false
}

// artifact decides the image to run, and variables telling where the slug is.
func (r *Release) artifact(ctx context.Context, b domain.Build) (string, configvar.Env, error) {
	env := configvar.Env{}
	if b.ArtifactType != domain.ArtifactSlug {
		return b.Image, env, nil
	}
	getURL, err := r.store.PresignGet(ctx, b.SlugPath)
	if err != nil {
		return "", env, err
	}
	env.Set(configvar.Var{Key: "SLUG_URL", Value: r.store.URL(b.SlugPath), Source: configvar.SourceBuiltinRuntime})
	env.Set(configvar.Var{Key: "SLUG_GET_URL", Value: getURL, Sensitive: true, Source: configvar.SourceBuiltinRuntime})
	return r.runnerImage, env, nil
}

func (r *Release) apply(ctx context.Context, run Run) error {
	d, t := run.Deployment, run.Target
	if err := run.Output.WriteLine(ctx, output.System, "Applying workloads"); err != nil {
		return err
	}
	if d.BuildID == "" {
		return xe.Errorf("deployment %s has no build", d.ID)
	}
	b, err := r.builds.GetBuild(ctx, d.BuildID)
	if err != nil {
		return err
	}
	image, env, err := r.artifact(ctx, b)
	if err != nil {
		return err
	}

	ns := t.Env.WorkloadApp
	if err := r.cluster.EnsureNamespace(ctx, ns, k8s.AppLabels(ns, nil)); err != nil {
		return err
	}
	secret, err := r.pullSecret(ctx, t, image)
	if err != nil {
		return err
	}

	if t.App.Type == domain.AppTypeCloudNative {
		err = r.applyBkApp(ctx, run, b, image, env, secret)
	} else {
		err = r.applyClassic(ctx, run, b, image, env, secret)
	}
	if err != nil {
		return err
	}

	if err := run.Output.WriteLine(ctx, output.System, "Workloads are applied"); err != nil {
		return err
	}
	return run.Output.WriteLine(ctx, output.System, "Waiting for processes to be ready")
}

// pullSecret places the image pull secret of the module, and returns its name.
//
// It is empty when the module pulls images without credentials.
func (r *Release) pullSecret(ctx context.Context, t configvar.Target, image string) (string, error) {
	credName := t.Module.BuildConfig.ImageCredentialName
	if credName == "" || r.credentials == nil {
		return "", nil
	}
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", xe.Wrap(err)
	}
	username, password, err := r.credentials.RegistryCredential(ctx, t.App.ID, credName)
	if err != nil {
		return "", err
	}
	config, err := dockerConfigJSON(ref.Context().RegistryStr(), username, password)
	if err != nil {
		return "", err
	}
	ns := t.Env.WorkloadApp
	if err := r.cluster.UpsertSecret(ctx, &kubecore.Secret{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      ImagePullSecret,
			Namespace: ns,
			Labels:    k8s.AppLabels(ns, nil),
		},
		Type: kubecore.SecretTypeDockerConfigJson,
		Data: map[string][]byte{kubecore.DockerConfigJsonKey: config},
	}); err != nil {
		return "", err
	}
	return ImagePullSecret, nil
}

func dockerConfigJSON(registry, username, password string) ([]byte, error) {
	type auth struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Auth     string `json:"auth"`
	}
	config := map[string]map[string]auth{
		"auths": {
			registry: {
				Username: username,
				Password: password,
				Auth:     base64.StdEncoding.EncodeToString([]byte(username + ":" + password)),
			},
		},
	}
	b, err := json.Marshal(config)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return b, nil
}

func (r *Release) applyBkApp(ctx context.Context, run Run, b domain.Build, image string, env configvar.Env, secret string) error {
	if r.manifests == nil || r.bkapps == nil {
		return xe.Errorf("cloud native applications can not be released here")
	}
	app, err := r.manifests.ForDeploy(ctx, run.Target, bkapp.DeployInput{
		DeployID:         run.Deployment.ID,
		Image:            image,
		ImagePullPolicy:  run.Deployment.Options.ImagePullPolicy,
		ImageCredentials: secret,
		UseCNB:           b.Metadata.UseCNB,
		Injected:         env,
	})
	if err != nil {
		return err
	}
	_, err = r.bkapps.Apply(ctx, app)
	return err
}

// checkBkApp reads the status which the operator reports for this deployment.
func (r *Release) checkBkApp(ctx context.Context, run Run) (bool, error) {
	t := run.Target
	status, err := r.bkapps.Status(ctx, t.Env.WorkloadApp, bkapp.ResourceName(t.App.Code, t.Module))
	if err != nil {
		return false, err
	}
	if status.DeployID != run.Deployment.ID {
		return false, nil
	}
	switch status.Phase {
	case bkapp.PhaseRunning:
		return true, nil
	case bkapp.PhaseFailed:
		messages := []string{}
		for _, c := range status.Conditions {
			if c.Status == "False" && c.Message != "" {
				messages = append(messages, c.Type+": "+c.Message)
			}
		}
		if len(messages) == 0 {
			messages = append(messages, "the application is failed")
		}
		return false, xe.Wrap(fmt.Errorf("%w: %s", ErrWorkloadFailure, strings.Join(messages, "; ")))
	default:
		return false, nil
	}
}

// ProcessResourceName is the name of the Deployment and the Service of a process of classic applications.
func ProcessResourceName(wlApp, process string) string {
	return wlApp + "--" + strings.ReplaceAll(process, "_", "-")
}

// classicProcess is a process of classic applications ready to be placed.
type classicProcess struct {
	spec     domain.ProcessSpec
	command  []string
	args     []string
	replicas int32
}

func (r *Release) classicProcesses(ctx context.Context, t configvar.Target, b domain.Build) ([]classicProcess, error) {
	specs, err := r.specs.ListProcessSpecs(ctx, t.Module.ID)
	if err != nil {
		return nil, err
	}
	method := t.Module.BuildConfig.Method
	if b.ArtifactType == domain.ArtifactSlug {
		method = domain.BuildMethodBuildpack
	}
	projected, err := bkapp.ProjectProcesses(method, r.runnerEntrypoint, specs)
	if err != nil {
		return nil, err
	}
	procs := make([]classicProcess, 0, len(specs))
	for i, s := range specs {
		replicas := s.TargetReplicas
		if o, ok := s.Overlays[t.Env.Stage]; ok && o.TargetReplicas != nil {
			replicas = *o.TargetReplicas
		}
		procs = append(procs, classicProcess{
			spec:     s,
			command:  projected[i].Command,
			args:     projected[i].Args,
			replicas: replicas,
		})
	}
	return procs, nil
}

func (r *Release) applyClassic(ctx context.Context, run Run, b domain.Build, image string, artifactEnv configvar.Env, secret string) error {
	if r.specs == nil || r.vars == nil {
		return xe.Errorf("classic applications can not be released here")
	}
	t := run.Target
	procs, err := r.classicProcesses(ctx, t, b)
	if err != nil {
		return err
	}
	vars, err := r.vars.Resolve(ctx, t, configvar.PointRuntime)
	if err != nil {
		return err
	}
	vars.Merge(artifactEnv)

	env := []kubecore.EnvVar{}
	for _, v := range vars.Vars() {
		env = append(env, kubecore.EnvVar{Name: v.Key, Value: v.Value})
	}
	pullPolicy := kubecore.PullPolicy(run.Deployment.Options.ImagePullPolicy)
	if pullPolicy == "" {
		pullPolicy = kubecore.PullIfNotPresent
	}

	for _, p := range procs {
		depl := classicDeployment(t.Env.WorkloadApp, run.Deployment.ID, p, image, pullPolicy, env, secret)
		if err := r.cluster.ApplyDeployment(ctx, depl); err != nil {
			return err
		}
		if svc := classicService(t.Env.WorkloadApp, p); svc != nil {
			if err := r.cluster.ApplyService(ctx, svc); err != nil {
				return err
			}
		}
	}
	return nil
}

func processLabels(wlApp string, process string) map[string]string {
	return k8s.AppLabels(wlApp, map[string]string{
		k8s.LabelProcess:  process,
		k8s.LabelCategory: "process",
	})
}

func classicDeployment(
	wlApp, deployID string,
	p classicProcess,
	image string,
	pullPolicy kubecore.PullPolicy,
	env []kubecore.EnvVar,
	secret string,
) *kubeapps.Deployment {
	selector := processLabels(wlApp, p.spec.Name)
	podLabels := processLabels(wlApp, p.spec.Name)
	podLabels[k8s.LabelDeployID] = deployID

	container := kubecore.Container{
		Name:            strings.ReplaceAll(p.spec.Name, "_", "-"),
		Image:           image,
		ImagePullPolicy: pullPolicy,
		Command:         p.command,
		Args:            p.args,
		Env:             env,
	}
	if p.spec.TargetPort > 0 {
		container.Ports = []kubecore.ContainerPort{{ContainerPort: p.spec.TargetPort, Protocol: kubecore.ProtocolTCP}}
	}
	if probes := p.spec.Probes; probes != nil {
		container.LivenessProbe = kubeProbe(probes.Liveness)
		container.ReadinessProbe = kubeProbe(probes.Readiness)
		container.StartupProbe = kubeProbe(probes.Startup)
	}

	pod := kubecore.PodSpec{Containers: []kubecore.Container{container}}
	if secret != "" {
		pod.ImagePullSecrets = []kubecore.LocalObjectReference{{Name: secret}}
	}

	return &kubeapps.Deployment{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      ProcessResourceName(wlApp, p.spec.Name),
			Namespace: wlApp,
			Labels:    selector,
			Annotations: map[string]string{
				bkapp.AnnotationDeployID: deployID,
			},
		},
		Spec: kubeapps.DeploymentSpec{
			Replicas: ptr.To(p.replicas),
			Selector: &kubeapimeta.LabelSelector{MatchLabels: selector},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: podLabels},
				Spec:       pod,
			},
		},
	}
}

// classicService exposes the process. It is nil for processes without ports.
func classicService(wlApp string, p classicProcess) *kubecore.Service {
	ports := []kubecore.ServicePort{}
	for _, s := range p.spec.Services {
		port := s.Port
		if port == 0 {
			port = s.TargetPort
		}
		protocol := kubecore.Protocol(s.Protocol)
		if protocol == "" {
			protocol = kubecore.ProtocolTCP
		}
		ports = append(ports, kubecore.ServicePort{
			Name:       s.Name,
			Port:       port,
			TargetPort: intstr.FromInt32(s.TargetPort),
			Protocol:   protocol,
		})
	}
	if len(ports) == 0 && p.spec.TargetPort > 0 {
		ports = append(ports, kubecore.ServicePort{
			Name:       "http",
			Port:       80,
			TargetPort: intstr.FromInt32(p.spec.TargetPort),
			Protocol:   kubecore.ProtocolTCP,
		})
	}
	if len(ports) == 0 {
		return nil
	}

	labels := processLabels(wlApp, p.spec.Name)
	return &kubecore.Service{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      ProcessResourceName(wlApp, p.spec.Name),
			Namespace: wlApp,
			Labels:    labels,
		},
		Spec: kubecore.ServiceSpec{
			Selector: labels,
			Ports:    ports,
		},
	}
}

func kubeProbe(p *domain.Probe) *kubecore.Probe {
	if p == nil {
		return nil
	}
	probe := &kubecore.Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		PeriodSeconds:       p.PeriodSeconds,
		SuccessThreshold:    p.SuccessThreshold,
		FailureThreshold:    p.FailureThreshold,
	}
	switch {
	case p.Exec != nil:
		probe.Exec = &kubecore.ExecAction{Command: p.Exec.Command}
	case p.HTTPGet != nil:
		h := p.HTTPGet
		get := &kubecore.HTTPGetAction{
			Port:   h.Port,
			Path:   h.Path,
			Host:   h.Host,
			Scheme: kubecore.URIScheme(h.Scheme),
		}
		for _, header := range h.HTTPHeaders {
			get.HTTPHeaders = append(get.HTTPHeaders, kubecore.HTTPHeader{Name: header.Name, Value: header.Value})
		}
		probe.HTTPGet = get
	case p.TCPSocket != nil:
		probe.TCPSocket = &kubecore.TCPSocketAction{Port: p.TCPSocket.Port, Host: p.TCPSocket.Host}
	default:
		return nil
	}
	return probe
}

// checkClassic reports whether all processes have rolled out the deployment.
func (r *Release) checkClassic(ctx context.Context, run Run) (bool, error) {
	t := run.Target
	specs, err := r.specs.ListProcessSpecs(ctx, t.Module.ID)
	if err != nil {
		return false, err
	}
	for _, s := range specs {
		depl, err := r.cluster.GetDeployment(ctx, t.Env.WorkloadApp, ProcessResourceName(t.Env.WorkloadApp, s.Name))
		if err != nil {
			return false, err
		}
		ready, err := rolledOut(depl, run.Deployment.ID)
		if err != nil {
			return false, xe.Wrap(fmt.Errorf("%w: process %s: %s", ErrWorkloadFailure, s.Name, err))
		}
		if !ready {
			return false, nil
		}
	}
	return true, nil
}

func rolledOut(depl *kubeapps.Deployment, deployID string) (bool, error) {
	if depl.Spec.Template.Labels[k8s.LabelDeployID] != deployID {
		return false, nil
	}
	if depl.Generation > depl.Status.ObservedGeneration {
		return false, nil
	}
	for _, c := range depl.Status.Conditions {
		if c.Type == kubeapps.DeploymentProgressing && c.Reason == "ProgressDeadlineExceeded" {
			return false, errors.New(c.Message)
		}
	}
	want := ptr.Deref(depl.Spec.Replicas, 1)
	s := depl.Status
	return s.Replicas == want && s.UpdatedReplicas == want && s.AvailableReplicas == want, nil
}
