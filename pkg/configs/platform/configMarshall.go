package platform

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	kubecore "k8s.io/api/core/v1"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/platform.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type PlatformConfigMarshall struct {
	Region     string                    `yaml:"region"`
	Server     *ServerConfigMarshall     `yaml:"server,omitempty"`
	Databases  *DatabasesConfigMarshall  `yaml:"databases"`
	Kubernetes *KubernetesConfigMarshall `yaml:"kubernetes,omitempty"`
	Platform   *BuiltinConfigMarshall    `yaml:"platform"`
	Ingress    *IngressConfigMarshall    `yaml:"ingress"`
	Build      *BuildConfigMarshall      `yaml:"build"`
	Pipeline   *PipelineConfigMarshall   `yaml:"pipeline,omitempty"`
	Deploy     *DeployConfigMarshall     `yaml:"deploy,omitempty"`
	BlobStore  *BlobStoreConfigMarshall  `yaml:"blobstore"`
	Addons     *AddonsConfigMarshall     `yaml:"addons"`
	Clusters   []*ClusterConfigMarshall  `yaml:"clusters"`
}

var _ Marshalled[*PlatformConfig] = &PlatformConfigMarshall{}

func (p *PlatformConfigMarshall) trySeal(path string) *PlatformConfig {
	server := p.Server
	if server == nil {
		server = &ServerConfigMarshall{}
	}
	kube := p.Kubernetes
	if kube == nil {
		kube = &KubernetesConfigMarshall{}
	}
	deploy := p.Deploy
	if deploy == nil {
		deploy = &DeployConfigMarshall{}
	}

	build := nonnil(p.Build, path+".build").trySeal(path + ".build")
	var pipeline *PipelineConfig
	if build.Backend() == BuildBackendPipeline {
		pipeline = nonnil(p.Pipeline, path+".pipeline").trySeal(path + ".pipeline")
	} else if p.Pipeline != nil {
		pipeline = p.Pipeline.trySeal(path + ".pipeline")
	}

	if len(p.Clusters) == 0 {
		panic(path + ".clusters is required")
	}
	clusters := make([]*ClusterConfig, 0, len(p.Clusters))
	for i, c := range p.Clusters {
		cpath := fmt.Sprintf("%s.clusters[%d]", path, i)
		clusters = append(clusters, nonnil(c, cpath).trySeal(cpath))
	}

	return &PlatformConfig{
		region:     required(p.Region, path+".region"),
		server:     server.trySeal(path + ".server"),
		databases:  nonnil(p.Databases, path+".databases").trySeal(path + ".databases"),
		kubernetes: kube.trySeal(path + ".kubernetes"),
		platform:   nonnil(p.Platform, path+".platform").trySeal(path + ".platform"),
		ingress:    nonnil(p.Ingress, path+".ingress").trySeal(path + ".ingress"),
		build:      build,
		pipeline:   pipeline,
		deploy:     deploy.trySeal(path + ".deploy"),
		blobstore:  nonnil(p.BlobStore, path+".blobstore").trySeal(path + ".blobstore"),
		addons:     nonnil(p.Addons, path+".addons").trySeal(path + ".addons"),
		clusters:   clusters,
	}
}

type ServerConfigMarshall struct {
	Port     int32  `yaml:"port,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`
}

func (s *ServerConfigMarshall) trySeal(path string) *ServerConfig {
	port := s.Port
	if port == 0 {
		port = 8080
	}
	level := s.LogLevel
	switch level {
	case "":
		level = "info"
	case "debug", "info", "warn", "error", "off":
	default:
		panic(fmt.Sprintf("%s.logLevel should be one of debug, info, warn, error or off: %s", path, level))
	}
	return &ServerConfig{port: port, logLevel: level}
}

type DatabasesConfigMarshall struct {
	Main      string `yaml:"main"`
	Workloads string `yaml:"workloads"`
}

func (d *DatabasesConfigMarshall) trySeal(path string) *DatabasesConfig {
	return &DatabasesConfig{
		main:      required(d.Main, path+".main"),
		workloads: required(d.Workloads, path+".workloads"),
	}
}

type KubernetesConfigMarshall struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

func (k *KubernetesConfigMarshall) trySeal(path string) *KubernetesConfig {
	return &KubernetesConfig{
		kubeconfig: k.Kubeconfig,
		timeout:    duration(k.Timeout, 30*time.Second, path+".timeout"),
	}
}

type BuiltinConfigMarshall struct {
	LoginURL         string   `yaml:"loginURL"`
	DocsURLPrefix    string   `yaml:"docsURLPrefix,omitempty"`
	RunnerEntrypoint []string `yaml:"runnerEntrypoint,omitempty"`

	// key to derive app secrets. Empty disables BKPAAS_APP_SECRET.
	AppSecretKey string `yaml:"appSecretKey,omitempty"`

	// namespace of secrets holding registry credentials of applications.
	CredentialNamespace string `yaml:"credentialNamespace,omitempty"`
}

func (b *BuiltinConfigMarshall) trySeal(path string) *BuiltinConfig {
	entrypoint := b.RunnerEntrypoint
	if len(entrypoint) == 0 {
		entrypoint = []string{"/runner/init"}
	}
	credentialNS := b.CredentialNamespace
	if credentialNS == "" {
		credentialNS = "bkpaas-system"
	}
	return &BuiltinConfig{
		loginURL:         required(b.LoginURL, path+".loginURL"),
		docsURLPrefix:    b.DocsURLPrefix,
		runnerEntrypoint: entrypoint,
		appSecretKey:     b.AppSecretKey,
		credentialNS:     credentialNS,
	}
}

type IngressConfigMarshall struct {
	RegexRewrite         *bool             `yaml:"regexRewrite,omitempty"`
	LegacyDomainTemplate string            `yaml:"legacyDomainTemplate,omitempty"`
	SubdomainRoots       []string          `yaml:"subdomainRoots,omitempty"`
	SubpathHosts         []string          `yaml:"subpathHosts,omitempty"`
	HTTPSEnabled         bool              `yaml:"httpsEnabled,omitempty"`
	DeleteWhenEmpty      *bool             `yaml:"deleteWhenEmpty,omitempty"`
	IngressClass         string            `yaml:"ingressClass,omitempty"`
	ExtraAnnotations     map[string]string `yaml:"extraAnnotations,omitempty"`
}

func (i *IngressConfigMarshall) trySeal(path string) *IngressConfig {
	regex := true
	if i.RegexRewrite != nil {
		regex = *i.RegexRewrite
	}
	deleteWhenEmpty := true
	if i.DeleteWhenEmpty != nil {
		deleteWhenEmpty = *i.DeleteWhenEmpty
	}
	if len(i.SubdomainRoots) == 0 && len(i.SubpathHosts) == 0 {
		panic(path + ": either of subdomainRoots or subpathHosts is required")
	}
	return &IngressConfig{
		regexRewrite:         regex,
		legacyDomainTemplate: i.LegacyDomainTemplate,
		subdomainRoots:       i.SubdomainRoots,
		subpathHosts:         i.SubpathHosts,
		httpsEnabled:         i.HTTPSEnabled,
		deleteWhenEmpty:      deleteWhenEmpty,
		ingressClass:         i.IngressClass,
		extraAnnotations:     i.ExtraAnnotations,
	}
}

type TolerationMarshall struct {
	Key      string `yaml:"key"`
	Operator string `yaml:"operator,omitempty"`
	Value    string `yaml:"value,omitempty"`
	Effect   string `yaml:"effect,omitempty"`
}

type BuildConfigMarshall struct {
	Backend            string               `yaml:"backend,omitempty"`
	SlugBuilderImage   string               `yaml:"slugBuilderImage"`
	SlugRunnerImage    string               `yaml:"slugRunnerImage,omitempty"`
	CNBBuilderImage    string               `yaml:"cnbBuilderImage,omitempty"`
	DockerBuilderImage string               `yaml:"dockerBuilderImage,omitempty"`
	PodWatchdogTimeout string               `yaml:"podWatchdogTimeout,omitempty"`
	MaxSlugTimeout     string               `yaml:"maxSlugTimeout,omitempty"`
	NodeSelector       map[string]string    `yaml:"nodeSelector,omitempty"`
	Tolerations        []TolerationMarshall `yaml:"tolerations,omitempty"`
	ImagePullSecrets   []string             `yaml:"imagePullSecrets,omitempty"`
	OutputRepository   string               `yaml:"outputRepository"`
}

func (b *BuildConfigMarshall) trySeal(path string) *BuildConfig {
	backend := BuildBackend(b.Backend)
	switch backend {
	case "":
		backend = BuildBackendPod
	case BuildBackendPod, BuildBackendPipeline:
	default:
		panic(fmt.Sprintf("%s.backend should be pod or pipeline: %s", path, b.Backend))
	}

	tolerations := make([]kubecore.Toleration, 0, len(b.Tolerations))
	for _, t := range b.Tolerations {
		tolerations = append(tolerations, kubecore.Toleration{
			Key:      t.Key,
			Operator: kubecore.TolerationOperator(t.Operator),
			Value:    t.Value,
			Effect:   kubecore.TaintEffect(t.Effect),
		})
	}

	slugBuilder := required(b.SlugBuilderImage, path+".slugBuilderImage")
	slugRunner := b.SlugRunnerImage
	if slugRunner == "" {
		slugRunner = slugBuilder
	}

	return &BuildConfig{
		backend:            backend,
		slugBuilderImage:   slugBuilder,
		slugRunnerImage:    slugRunner,
		cnbBuilderImage:    b.CNBBuilderImage,
		dockerBuilderImage: b.DockerBuilderImage,
		podWatchdogTimeout: duration(b.PodWatchdogTimeout, 10*time.Minute, path+".podWatchdogTimeout"),
		maxSlugTimeout:     duration(b.MaxSlugTimeout, 15*time.Minute, path+".maxSlugTimeout"),
		nodeSelector:       b.NodeSelector,
		tolerations:        tolerations,
		imagePullSecrets:   b.ImagePullSecrets,
		outputRepository:   required(b.OutputRepository, path+".outputRepository"),
	}
}

type PipelineConfigMarshall struct {
	URL        string  `yaml:"url"`
	Token      string  `yaml:"token"`
	TemplateID string  `yaml:"templateID"`
	RateLimit  float64 `yaml:"rateLimit,omitempty"`
}

func (p *PipelineConfigMarshall) trySeal(path string) *PipelineConfig {
	rate := p.RateLimit
	if rate <= 0 {
		rate = 5
	}
	return &PipelineConfig{
		url:        required(p.URL, path+".url"),
		token:      required(p.Token, path+".token"),
		templateID: required(p.TemplateID, path+".templateID"),
		rateLimit:  rate,
	}
}

type PollingTimeoutMarshall struct {
	Preparation string `yaml:"preparation,omitempty"`
	Build       string `yaml:"build,omitempty"`
	Release     string `yaml:"release,omitempty"`
}

type TipMarshall struct {
	Pattern string `yaml:"pattern"`
	URL     string `yaml:"url"`
}

type DeployConfigMarshall struct {
	PollInterval   string                  `yaml:"pollInterval,omitempty"`
	PollingTimeout *PollingTimeoutMarshall `yaml:"pollingTimeout,omitempty"`
	Heartbeat      string                  `yaml:"heartbeat,omitempty"`
	Tips           []TipMarshall           `yaml:"tips,omitempty"`
}

func (d *DeployConfigMarshall) trySeal(path string) *DeployConfig {
	pt := d.PollingTimeout
	if pt == nil {
		pt = &PollingTimeoutMarshall{}
	}
	tips := make([]Tip, 0, len(d.Tips))
	for i, t := range d.Tips {
		tpath := fmt.Sprintf("%s.tips[%d]", path, i)
		re, err := regexp.Compile(required(t.Pattern, tpath+".pattern"))
		if err != nil {
			panic(fmt.Errorf("%s.pattern can not be compiled: %w", tpath, err))
		}
		tips = append(tips, Tip{Pattern: re, URL: required(t.URL, tpath+".url")})
	}
	return &DeployConfig{
		pollInterval: duration(d.PollInterval, 2*time.Second, path+".pollInterval"),
		pollingTimeout: map[string]time.Duration{
			"preparation": duration(pt.Preparation, 10*time.Minute, path+".pollingTimeout.preparation"),
			"build":       duration(pt.Build, 30*time.Minute, path+".pollingTimeout.build"),
			"release":     duration(pt.Release, 15*time.Minute, path+".pollingTimeout.release"),
		},
		heartbeat: duration(d.Heartbeat, 2*time.Minute, path+".heartbeat"),
		tips:      tips,
	}
}

type BlobStoreConfigMarshall struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	UsePathStyle  bool   `yaml:"usePathStyle,omitempty"`
	PresignExpiry string `yaml:"presignExpiry,omitempty"`
}

func (b *BlobStoreConfigMarshall) trySeal(path string) *BlobStoreConfig {
	return &BlobStoreConfig{
		bucket:        required(b.Bucket, path+".bucket"),
		region:        b.Region,
		endpoint:      b.Endpoint,
		usePathStyle:  b.UsePathStyle,
		presignExpiry: duration(b.PresignExpiry, time.Hour, path+".presignExpiry"),
	}
}

type BrokerConfigMarshall struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
}

type AddonsConfigMarshall struct {
	// base64 encoded 32 bytes
	EncryptionKey string                  `yaml:"encryptionKey"`
	Brokers       []*BrokerConfigMarshall `yaml:"brokers,omitempty"`
}

func (a *AddonsConfigMarshall) trySeal(path string) *AddonsConfig {
	raw, err := base64.StdEncoding.DecodeString(required(a.EncryptionKey, path+".encryptionKey"))
	if err != nil {
		panic(fmt.Errorf("%s.encryptionKey can not be decoded: %w", path, err))
	}
	if len(raw) != 32 {
		panic(fmt.Sprintf("%s.encryptionKey should be 32 bytes, but %d bytes", path, len(raw)))
	}
	key := [32]byte{}
	copy(key[:], raw)

	brokers := make([]*BrokerConfig, 0, len(a.Brokers))
	for i, b := range a.Brokers {
		bpath := fmt.Sprintf("%s.brokers[%d]", path, i)
		b = nonnil(b, bpath)
		if b.Name == "local" {
			panic(bpath + `.name "local" is reserved`)
		}
		issuer := b.JWTIssuer
		if issuer == "" {
			issuer = "bkpaas"
		}
		brokers = append(brokers, &BrokerConfig{
			name:      required(b.Name, bpath+".name"),
			url:       required(b.URL, bpath+".url"),
			jwtSecret: []byte(required(b.JWTSecret, bpath+".jwtSecret")),
			jwtIssuer: issuer,
			timeout:   duration(b.Timeout, 30*time.Second, bpath+".timeout"),
		})
	}
	return &AddonsConfig{encryptionKey: key, brokers: brokers}
}

type ClusterConfigMarshall struct {
	Name          string   `yaml:"name"`
	EgressIPs     []string `yaml:"egressIPs,omitempty"`
	DigestVersion string   `yaml:"digestVersion,omitempty"`
}

func (c *ClusterConfigMarshall) trySeal(path string) *ClusterConfig {
	return &ClusterConfig{
		name:          required(c.Name, path+".name"),
		egressIPs:     c.EgressIPs,
		digestVersion: c.DigestVersion,
	}
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func duration(v string, fallback time.Duration, path string) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	if d <= 0 {
		panic(fmt.Sprintf("%s should be positive: %s", path, v))
	}
	return d
}
